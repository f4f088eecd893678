package llm

import (
	"github.com/sdyne/statewalk/actions/llm/provider"
	"github.com/sdyne/statewalk/actions/llm/provider/openai"
	"github.com/sdyne/statewalk/engine"
)

// OpenAIAction builds a transition action backed by an OpenAI chat model.
// modelName may be empty to use openai.NewChatModel's default.
func OpenAIAction(apiKey, modelName, systemPrompt string, tools []provider.ToolSpec) engine.Action {
	return Action(openai.NewChatModel(apiKey, modelName), systemPrompt, tools)
}
