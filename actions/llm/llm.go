// Package llm adapts provider.ChatModel implementations (Anthropic,
// OpenAI, Google) into engine.Action functions, so a transition graph can
// drive a chat completion as an ordinary state without the engine package
// itself depending on any LLM SDK.
package llm

import (
	"context"
	"fmt"

	"github.com/sdyne/statewalk/actions/llm/provider"
	"github.com/sdyne/statewalk/engine"
)

// PromptKey and ResponseKey are the params keys used to pass the user
// prompt in and the model's reply out.
const (
	PromptKey   = "prompt"
	ResponseKey = "response"
)

// Action builds an engine.Action that sends params[PromptKey] (optionally
// preceded by a system prompt) to chat and writes the reply text back to
// params[ResponseKey]. A non-empty tools slice is forwarded to the model
// as-is; most states won't need it and can pass nil.
//
// chat.Chat returning an error fails the action (adaptResult will route it
// to OnFailure); a response with ToolCalls and no Text is still a success,
// with Text left empty in the returned params.
func Action(chat provider.ChatModel, systemPrompt string, tools []provider.ToolSpec) engine.Action {
	return func(ctx context.Context, params map[string]any) (any, error) {
		prompt, _ := params[PromptKey].(string)
		if prompt == "" {
			return nil, fmt.Errorf("llm: params[%q] must be a non-empty string", PromptKey)
		}

		messages := make([]provider.Message, 0, 2)
		if systemPrompt != "" {
			messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
		}
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: prompt})

		out, err := chat.Chat(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("llm: chat: %w", err)
		}

		result := map[string]any{ResponseKey: out.Text}
		if len(out.ToolCalls) > 0 {
			calls := make([]map[string]any, len(out.ToolCalls))
			for i, c := range out.ToolCalls {
				calls[i] = map[string]any{"name": c.Name, "input": c.Input}
			}
			result["tool_calls"] = calls
		}
		return engine.ActionResult{OK: true, Params: result}, nil
	}
}
