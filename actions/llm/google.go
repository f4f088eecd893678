package llm

import (
	"github.com/sdyne/statewalk/actions/llm/provider"
	"github.com/sdyne/statewalk/actions/llm/provider/google"
	"github.com/sdyne/statewalk/engine"
)

// GoogleAction builds a transition action backed by a Gemini chat model.
// modelName may be empty to use google.NewChatModel's default.
func GoogleAction(apiKey, modelName, systemPrompt string, tools []provider.ToolSpec) engine.Action {
	return Action(google.NewChatModel(apiKey, modelName), systemPrompt, tools)
}
