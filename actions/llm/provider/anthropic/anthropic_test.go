package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/sdyne/statewalk/actions/llm/provider"
)

type fakeSender struct {
	out          provider.ChatOut
	err          error
	calls        int
	lastMessages []provider.Message
	lastSystem   string
}

func (f *fakeSender) send(_ context.Context, systemPrompt string, messages []provider.Message, _ []provider.ToolSpec) (provider.ChatOut, error) {
	f.calls++
	f.lastMessages = messages
	f.lastSystem = systemPrompt
	if f.err != nil {
		return provider.ChatOut{}, f.err
	}
	return f.out, nil
}

func TestNewChatModel_DefaultsModelNameWhenEmpty(t *testing.T) {
	m := NewChatModel("test-api-key", "")
	if m.modelName != defaultModel {
		t.Errorf("modelName = %q, want default %q", m.modelName, defaultModel)
	}
}

func TestChat_SendsConversationAndReturnsResponse(t *testing.T) {
	fake := &fakeSender{out: provider.ChatOut{Text: "Hello! I'm Claude."}}
	m := &ChatModel{send: fake, modelName: "claude-3-opus-20240229"}

	out, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "Hi there!"}}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Text != "Hello! I'm Claude." {
		t.Errorf("Text = %q, want %q", out.Text, "Hello! I'm Claude.")
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1", fake.calls)
	}
}

func TestChat_ExtractsSystemPromptFromMessages(t *testing.T) {
	fake := &fakeSender{out: provider.ChatOut{Text: "ok"}}
	m := &ChatModel{send: fake, modelName: "claude-3-opus-20240229"}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: "You are helpful"},
		{Role: provider.RoleUser, Content: "User message"},
	}
	if _, err := m.Chat(context.Background(), messages, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if fake.lastSystem != "You are helpful" {
		t.Errorf("lastSystem = %q, want %q", fake.lastSystem, "You are helpful")
	}
	if len(fake.lastMessages) != 1 || fake.lastMessages[0].Role != provider.RoleUser {
		t.Errorf("lastMessages = %+v, want only the user message", fake.lastMessages)
	}
}

func TestChat_ConcatenatesMultipleSystemMessages(t *testing.T) {
	fake := &fakeSender{out: provider.ChatOut{}}
	m := &ChatModel{send: fake, modelName: "claude-3-opus-20240229"}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: "First rule"},
		{Role: provider.RoleSystem, Content: "Second rule"},
		{Role: provider.RoleUser, Content: "Hi"},
	}
	if _, err := m.Chat(context.Background(), messages, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "First rule\n\nSecond rule"
	if fake.lastSystem != want {
		t.Errorf("lastSystem = %q, want %q", fake.lastSystem, want)
	}
}

func TestChat_ReturnsToolCalls(t *testing.T) {
	fake := &fakeSender{out: provider.ChatOut{
		ToolCalls: []provider.ToolCall{{Name: "search", Input: map[string]interface{}{"query": "test"}}},
	}}
	m := &ChatModel{send: fake, modelName: "claude-3-opus-20240229"}

	messages := []provider.Message{{Role: provider.RoleUser, Content: "Search for test"}}
	tools := []provider.ToolSpec{{Name: "search", Description: "Search the web"}}

	out, err := m.Chat(context.Background(), messages, tools)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "search" {
		t.Fatalf("ToolCalls = %+v, want one call named search", out.ToolCalls)
	}
}

func TestChat_RespectsCanceledContext(t *testing.T) {
	fake := &fakeSender{out: provider.ChatOut{Text: "should not return"}}
	m := &ChatModel{send: fake, modelName: "claude-3-opus-20240229"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if fake.calls != 0 {
		t.Errorf("calls = %d, want 0 (should short-circuit before calling send)", fake.calls)
	}
}

func TestChat_PropagatesSendError(t *testing.T) {
	fake := &fakeSender{err: errors.New("rate_limit_error: Rate limit exceeded")}
	m := &ChatModel{send: fake, modelName: "claude-3-opus-20240229"}

	_, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestApiSender_RejectsEmptyAPIKey(t *testing.T) {
	s := &apiSender{modelName: "claude-3-opus-20240229"}
	_, err := s.send(context.Background(), "", []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if err == nil {
		t.Error("expected an error for an empty API key")
	}
}

func TestToRequiredList_AcceptsStringAndInterfaceSlices(t *testing.T) {
	if got := toRequiredList([]string{"a", "b"}); len(got) != 2 {
		t.Errorf("[]string form: got %v", got)
	}
	if got := toRequiredList([]interface{}{"a", "b"}); len(got) != 2 || got[0] != "a" {
		t.Errorf("[]interface{} form: got %v", got)
	}
	if got := toRequiredList(nil); got != nil {
		t.Errorf("nil form: got %v, want nil", got)
	}
}
