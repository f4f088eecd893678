package llm

import (
	"github.com/sdyne/statewalk/actions/llm/provider"
	"github.com/sdyne/statewalk/actions/llm/provider/anthropic"
	"github.com/sdyne/statewalk/engine"
)

// AnthropicAction builds a transition action backed by Claude. modelName
// may be empty to use anthropic.NewChatModel's default.
func AnthropicAction(apiKey, modelName, systemPrompt string, tools []provider.ToolSpec) engine.Action {
	return Action(anthropic.NewChatModel(apiKey, modelName), systemPrompt, tools)
}
