// Package genai provides the AI answer service for free-form family
// planning questions, backed by the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Sentinel answer values the upstream model is instructed to return instead
// of an answer. Callers map each to a fixed canned message.
const (
	// SentinelOutOfDomain means the question is outside family planning.
	SentinelOutOfDomain = "OUT_OF_CONTEXT"
	// SentinelConversationEnd means the model judged the conversation
	// naturally concluded.
	SentinelConversationEnd = "CONVERSATION_END"
)

// ErrNoChoicesReturned indicates the API returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

const defaultSystemPrompt = `You are a friendly, medically accurate family planning counselor.
Answer questions about contraception, fertility and reproductive health in plain language.
If a question is outside family planning, reply with exactly OUT_OF_CONTEXT.
If the user is clearly wrapping up the conversation, reply with exactly CONVERSATION_END.`

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChatService adapts the OpenAI SDK to chatService.
type openAIChatService struct {
	client openai.Client
}

func (s *openAIChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface defines the question-answering operations flows depend on.
// Implementations must never panic; callers convert errors to fallback copy.
type ClientInterface interface {
	AskQuestion(ctx context.Context, question string) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt overrides the counselor system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// Client wraps the OpenAI ChatCompletion service for answering questions.
type Client struct {
	chat         chatService
	model        string
	systemPrompt string
}

// NewClient initializes a new GenAI client. The API key is taken from
// options or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client created", "model", cfg.Model)
	return &Client{
		chat:         &openAIChatService{client: cli},
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// AskQuestion sends a free-form question and returns the model's answer,
// which may be one of the sentinel values.
func (c *Client) AskQuestion(ctx context.Context, question string) (string, error) {
	slog.Debug("genai.AskQuestion: sending question", "length", len(question))

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(question),
		},
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.AskQuestion: completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.AskQuestion: empty choice list")
		return "", ErrNoChoicesReturned
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("genai.AskQuestion: answer received", "length", len(answer), "sentinel", IsSentinel(answer))
	return answer, nil
}

// IsSentinel reports whether an answer is one of the sentinel values.
func IsSentinel(answer string) bool {
	return answer == SentinelOutOfDomain || answer == SentinelConversationEnd
}
