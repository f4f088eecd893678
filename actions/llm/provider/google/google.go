// Package google adapts Google's Gemini API to provider.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/sdyne/statewalk/actions/llm/provider"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-2.5-flash"

// ChatModel calls Gemini's generateContent endpoint. The zero value is not
// usable; construct one with NewChatModel.
type ChatModel struct {
	modelName string
	generate  generator
}

// generator is the seam google's tests substitute to avoid a live API call.
type generator interface {
	generate(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error)
}

// NewChatModel returns a ChatModel for modelName, defaulting to Gemini 2.5
// Flash when modelName is empty.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		modelName: modelName,
		generate:  &apiGenerator{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements provider.ChatModel. A response blocked by Gemini's safety
// filters surfaces as a *SafetyFilterError so callers can distinguish it
// from a transport failure.
func (m *ChatModel) Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return provider.ChatOut{}, err
	}
	return m.generate.generate(ctx, messages, tools)
}

// apiGenerator issues the real request via the official SDK.
type apiGenerator struct {
	apiKey    string
	modelName string
}

func (g *apiGenerator) generate(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error) {
	if g.apiKey == "" {
		return provider.ChatOut{}, errors.New("google: API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return provider.ChatOut{}, fmt.Errorf("google: create client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(g.modelName)
	if len(tools) > 0 {
		genModel.Tools = toGenaiTools(tools)
	}

	resp, err := genModel.GenerateContent(ctx, toGenaiParts(messages)...)
	if err != nil {
		return provider.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	if blocked := blockedReason(resp); blocked != "" {
		return provider.ChatOut{}, &SafetyFilterError{category: blocked}
	}
	return fromGenaiResponse(resp), nil
}

// toGenaiParts converts every message to a text part. Gemini has no
// per-message system role; a system prompt is expected to arrive as an
// ordinary leading message, same as any other conversation turn.
func toGenaiParts(messages []provider.Message) []genai.Part {
	parts := make([]genai.Part, 0, len(messages))
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func toGenaiTools(tools []provider.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGenaiSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGenaiSchema converts the top level of a JSON-Schema-shaped map into a
// genai.Schema: object type, flat property types, and required fields.
// Nested object/array properties are not recursed into, since none of this
// adapter's callers build schemas deeper than one level.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			propMap, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				prop.Type = genaiType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			out.Properties[name] = prop
		}
	}
	out.Required = toRequiredList(schema["required"])

	return out
}

func toRequiredList(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, item := range req {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func genaiType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// blockedReason reports the safety category Gemini blocked the prompt for,
// or "" if nothing was blocked.
func blockedReason(resp *genai.GenerateContentResponse) string {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return resp.PromptFeedback.BlockReason.String()
	}
	for _, c := range resp.Candidates {
		if c.FinishReason == genai.FinishReasonSafety {
			return c.FinishReason.String()
		}
	}
	return ""
}

func fromGenaiResponse(resp *genai.GenerateContentResponse) provider.ChatOut {
	var out provider.ChatOut
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, provider.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// SafetyFilterError reports that Gemini blocked a prompt or response under
// one of its safety categories (e.g. "SAFETY", "HARM_CATEGORY_HATE_SPEECH").
type SafetyFilterError struct {
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}
