// Package fetch provides an engine.Action that performs an HTTP request,
// for states that need to pull external data into a run's params before
// handing it to a downstream action (for example an llm.Action).
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sdyne/statewalk/engine"
)

// Action builds an engine.Action that issues an HTTP request using
// params["url"] (required), params["method"] (defaults to GET),
// params["headers"] (map[string]any of string values), and
// params["body"] (string, for POST/PUT/PATCH). A successful request
// writes params["status_code"], params["headers"], and params["body"]
// for the next state; a transport-level error or a non-2xx status fails
// the transition so the graph can route to a fallback state.
func Action(client *http.Client) engine.Action {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, params map[string]any) (any, error) {
		urlStr, _ := params["url"].(string)
		if urlStr == "" {
			return nil, fmt.Errorf("fetch: params[\"url\"] must be a non-empty string")
		}

		method := "GET"
		if m, ok := params["method"].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}

		var body io.Reader
		if b, ok := params["body"].(string); ok && b != "" {
			body = bytes.NewBufferString(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
		if err != nil {
			return nil, fmt.Errorf("fetch: build request: %w", err)
		}
		if headers, ok := params["headers"].(map[string]any); ok {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					req.Header.Set(k, s)
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch: do request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch: read response body: %w", err)
		}

		respHeaders := make(map[string]any, len(resp.Header))
		for k, values := range resp.Header {
			if len(values) == 1 {
				respHeaders[k] = values[0]
			} else {
				respHeaders[k] = values
			}
		}

		result := map[string]any{
			"status_code": resp.StatusCode,
			"headers":     respHeaders,
			"body":        string(respBody),
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return engine.ActionResult{OK: false, Err: fmt.Sprintf("fetch: unexpected status %d", resp.StatusCode), Params: result}, nil
		}
		return engine.ActionResult{OK: true, Params: result}, nil
	}
}
