// Package anthropic adapts Anthropic's Claude Messages API to provider.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sdyne/statewalk/actions/llm/provider"
)

const defaultModel = "claude-sonnet-4-5-20250929"
const maxTokens = 4096

// ChatModel calls Claude's Messages endpoint. The zero value is not usable;
// construct one with NewChatModel.
type ChatModel struct {
	modelName string
	send      sender
}

// sender is the seam anthropic's tests substitute to avoid a live API call.
type sender interface {
	send(ctx context.Context, systemPrompt string, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error)
}

// NewChatModel returns a ChatModel for modelName, defaulting to Claude
// Sonnet when modelName is empty.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		modelName: modelName,
		send:      &apiSender{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements provider.ChatModel. Anthropic takes a system prompt as a
// dedicated request field rather than a message with a system role, so it
// is pulled out of messages before the call.
func (m *ChatModel) Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return provider.ChatOut{}, err
	}

	systemPrompt, rest := splitSystemPrompt(messages)
	return m.send.send(ctx, systemPrompt, rest, tools)
}

// splitSystemPrompt pulls every RoleSystem message out of messages,
// concatenating their content, and returns the remaining conversation.
func splitSystemPrompt(messages []provider.Message) (string, []provider.Message) {
	var system string
	rest := make([]provider.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != provider.RoleSystem {
			rest = append(rest, msg)
			continue
		}
		if system != "" {
			system += "\n\n"
		}
		system += msg.Content
	}
	return system, rest
}

// apiSender issues the real request via the official SDK.
type apiSender struct {
	apiKey    string
	modelName string
}

func (s *apiSender) send(ctx context.Context, systemPrompt string, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatOut, error) {
	if s.apiKey == "" {
		return provider.ChatOut{}, errors.New("anthropic: API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(s.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(s.modelName),
		Messages:  toAnthropicMessages(messages),
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return provider.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}
	return fromAnthropicMessage(resp), nil
}

func toAnthropicMessages(messages []provider.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		block := anthropicsdk.NewTextBlock(msg.Content)
		if msg.Role == provider.RoleAssistant {
			out[i] = anthropicsdk.NewAssistantMessage(block)
		} else {
			out[i] = anthropicsdk.NewUserMessage(block)
		}
	}
	return out
}

func toAnthropicTools(tools []provider.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		out[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: toAnthropicSchema(tool.Schema),
			},
		}
	}
	return out
}

func toAnthropicSchema(schema map[string]interface{}) anthropicsdk.ToolInputSchemaParam {
	if schema == nil {
		return anthropicsdk.ToolInputSchemaParam{}
	}
	return anthropicsdk.ToolInputSchemaParam{
		Properties: schema["properties"],
		Required:   toRequiredList(schema["required"]),
	}
}

// toRequiredList accepts either []string or []interface{} for the
// "required" schema key, since callers build ToolSpec.Schema by hand as a
// plain map[string]interface{} and either shape is common.
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

func fromAnthropicMessage(resp *anthropicsdk.Message) provider.ChatOut {
	var out provider.ChatOut
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
				Name:  b.Name,
				Input: toToolInput(b.Input),
			})
		}
	}
	return out
}

func toToolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}
