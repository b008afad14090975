package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
)

type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	if m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	return m.resp, nil
}

func TestAskQuestionSuccess(t *testing.T) {
	mock := &mockChatService{resp: openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "  Condoms prevent both pregnancy and STIs.  "}},
		},
	}}
	client := &Client{chat: mock, model: openai.ChatModelGPT4oMini, systemPrompt: defaultSystemPrompt}

	answer, err := client.AskQuestion(context.Background(), "How do condoms work?")
	if err != nil {
		t.Fatalf("AskQuestion returned error: %v", err)
	}
	if answer != "Condoms prevent both pregnancy and STIs." {
		t.Errorf("unexpected answer %q", answer)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system + user message, got %d", len(mock.params.Messages))
	}
}

func TestAskQuestionNoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.AskQuestion(context.Background(), "anything")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestAskQuestionAPIError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("boom")}}
	_, err := client.AskQuestion(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestIsSentinel(t *testing.T) {
	if !IsSentinel(SentinelOutOfDomain) || !IsSentinel(SentinelConversationEnd) {
		t.Error("sentinel values not recognized")
	}
	if IsSentinel("a real answer") {
		t.Error("plain answer flagged as sentinel")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when no API key configured")
	}
	if _, err := NewClient(WithAPIKey("sk-test")); err != nil {
		t.Errorf("NewClient with explicit key failed: %v", err)
	}
}
