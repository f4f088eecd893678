// Package openai adapts OpenAI's Chat Completions API to provider.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sdyne/statewalk/actions/llm/provider"
)

const defaultModel = "gpt-4o"

// ChatModel calls OpenAI's Chat Completions endpoint, retrying transient
// failures after a fixed delay that grows linearly for rate-limit errors.
// The zero value is not usable; construct one with NewChatModel.
type ChatModel struct {
	modelName  string
	call       caller
	maxRetries int
	retryDelay time.Duration
}

// caller is the seam openai's tests substitute to avoid a live API call.
type caller interface {
	call(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error)
}

// NewChatModel returns a ChatModel for modelName, defaulting to GPT-4o when
// modelName is empty. It retries up to 3 times on transient failures, one
// second apart (1s, 2s, 3s for rate-limit errors).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		modelName:  modelName,
		call:       &apiCaller{apiKey: apiKey, modelName: modelName},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements provider.ChatModel, retrying on errors that look
// transient (timeouts, connection resets, 5xx, rate limiting) with backoff
// that widens for rate-limit responses specifically.
func (m *ChatModel) Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return provider.ChatOut{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.call.call(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isTransient(err) {
			return provider.ChatOut{}, err
		}
		if attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay
		if isRateLimited(err) {
			delay *= time.Duration(attempt + 1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return provider.ChatOut{}, ctx.Err()
		}
	}

	return provider.ChatOut{}, fmt.Errorf("openai: failed after %d retries: %w", m.maxRetries, lastErr)
}

var transientSubstrings = []string{"timeout", "network", "connection", "temporary", "rate limit", "429", "503", "502", "500"}

// isTransient reports whether err's text matches a known retryable
// condition. The SDK surfaces HTTP failures as plain errors rather than a
// typed status code, so text matching is the only signal available.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, substr := range transientSubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

func isRateLimited(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "429")
}

// apiCaller issues the real request via the official SDK.
type apiCaller struct {
	apiKey    string
	modelName string
}

func (c *apiCaller) call(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error) {
	if c.apiKey == "" {
		return provider.ChatOut{}, errors.New("openai: API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.ChatOut{}, fmt.Errorf("openai: %w", err)
	}
	return fromOpenAICompletion(resp), nil
}

func toOpenAIMessages(messages []provider.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case provider.RoleSystem:
			out[i] = openaisdk.SystemMessage(msg.Content)
		case provider.RoleAssistant:
			out[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			out[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return out
}

func toOpenAITools(tools []provider.ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return out
}

func fromOpenAICompletion(resp *openaisdk.ChatCompletion) provider.ChatOut {
	if len(resp.Choices) == 0 {
		return provider.ChatOut{}
	}

	msg := resp.Choices[0].Message
	out := provider.ChatOut{Text: msg.Content}
	if len(msg.ToolCalls) == 0 {
		return out
	}

	out.ToolCalls = make([]provider.ToolCall, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		out.ToolCalls[i] = provider.ToolCall{
			Name:  tc.Function.Name,
			Input: parseToolInput(tc.Function.Arguments),
		}
	}
	return out
}

// parseToolInput decodes the JSON arguments string OpenAI returns for a
// tool call. A malformed payload falls back to a "_raw" field rather than
// dropping the call entirely.
func parseToolInput(jsonStr string) map[string]interface{} {
	if jsonStr == "" {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return map[string]interface{}{"_raw": jsonStr}
	}
	return result
}
