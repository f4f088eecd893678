package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/sdyne/statewalk/actions/llm/provider"
)

type fakeCaller struct {
	out          provider.ChatOut
	err          error
	errSequence  []error
	calls        int
	lastMessages []provider.Message
}

func (f *fakeCaller) call(_ context.Context, messages []provider.Message, _ []provider.ToolSpec) (provider.ChatOut, error) {
	f.calls++
	f.lastMessages = messages

	if len(f.errSequence) > 0 {
		if f.calls <= len(f.errSequence) {
			if err := f.errSequence[f.calls-1]; err != nil {
				return provider.ChatOut{}, err
			}
		}
	} else if f.err != nil {
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
	fake := &fakeCaller{out: provider.ChatOut{Text: "Hello! How can I help you?"}}
	m := &ChatModel{call: fake, modelName: "gpt-4"}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: "You are helpful."},
		{Role: provider.RoleUser, Content: "Hi there!"},
	}
	out, err := m.Chat(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Text != "Hello! How can I help you?" {
		t.Errorf("Text = %q, want %q", out.Text, "Hello! How can I help you?")
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1", fake.calls)
	}
	if len(fake.lastMessages) != 2 {
		t.Errorf("lastMessages = %d, want 2", len(fake.lastMessages))
	}
}

func TestChat_ReturnsToolCalls(t *testing.T) {
	fake := &fakeCaller{out: provider.ChatOut{
		ToolCalls: []provider.ToolCall{{Name: "search", Input: map[string]interface{}{"query": "test"}}},
	}}
	m := &ChatModel{call: fake, modelName: "gpt-4"}

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
	fake := &fakeCaller{out: provider.ChatOut{Text: "should not return"}}
	m := &ChatModel{call: fake, modelName: "gpt-4"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if fake.calls != 0 {
		t.Errorf("calls = %d, want 0", fake.calls)
	}
}

func TestChat_RetriesTransientErrorsThenSucceeds(t *testing.T) {
	fake := &fakeCaller{
		errSequence: []error{errors.New("temporary network error"), errors.New("timeout"), nil},
		out:         provider.ChatOut{Text: "success after retries"},
	}
	m := &ChatModel{call: fake, modelName: "gpt-4", maxRetries: 3}

	out, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if out.Text != "success after retries" {
		t.Errorf("Text = %q, want %q", out.Text, "success after retries")
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3 (2 retries + success)", fake.calls)
	}
}

func TestChat_DoesNotRetryNonTransientErrors(t *testing.T) {
	fake := &fakeCaller{err: errors.New("invalid api key")}
	m := &ChatModel{call: fake, modelName: "gpt-4", maxRetries: 3}

	_, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for a non-transient error)", fake.calls)
	}
}

func TestChat_StopsAfterMaxRetries(t *testing.T) {
	fake := &fakeCaller{err: errors.New("rate limit exceeded")}
	m := &ChatModel{call: fake, modelName: "gpt-4", maxRetries: 2}

	_, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3 (1 initial + 2 retries)", fake.calls)
	}
}

func TestApiCaller_RejectsEmptyAPIKey(t *testing.T) {
	c := &apiCaller{modelName: "gpt-4"}
	_, err := c.call(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "Test"}}, nil)
	if err == nil {
		t.Error("expected an error for an empty API key")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection reset by peer"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("invalid api key"), false},
	}
	for _, c := range cases {
		if got := isTransient(c.err); got != c.want {
			t.Errorf("isTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestParseToolInput(t *testing.T) {
	if got := parseToolInput(""); got != nil {
		t.Errorf("empty string: got %v, want nil", got)
	}
	if got := parseToolInput(`{"query":"go programming"}`); got["query"] != "go programming" {
		t.Errorf("valid JSON: got %v", got)
	}
	if got := parseToolInput("not json"); got["_raw"] != "not json" {
		t.Errorf("malformed JSON: got %v, want fallback _raw field", got)
	}
}
