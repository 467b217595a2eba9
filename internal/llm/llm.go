package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/assistant-go/internal/config"
	"github.com/comigor/assistant-go/internal/logger"
)

// ErrMissingAPIKey means the provider credential is not configured. It is
// reported before any request is attempted.
var ErrMissingAPIKey = errors.New("llm api key is not configured")

// Message is one entry of the conversation sent to the provider.
type Message struct {
	Role    string
	Content string
}

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// Gateway wraps a chat-completion API in streaming and non-streaming modes.
// Provider failures are returned as-is; nothing is retried.
type Gateway struct {
	client Client
	cfg    config.LLMConfig
}

func NewGateway(client Client, cfg config.LLMConfig) *Gateway {
	return &Gateway{client: client, cfg: cfg}
}

// Ready reports whether requests can be made at all.
func (g *Gateway) Ready() error {
	if g.cfg.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (g *Gateway) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    out,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Stream:      stream,
	}
}

// Stream opens a streaming completion. The returned stream must be closed.
func (g *Gateway) Stream(ctx context.Context, messages []Message) (TokenStream, error) {
	if err := g.Ready(); err != nil {
		return nil, err
	}
	logger.L.Debug("creating chat completion stream", "model", g.cfg.Model, "messages", len(messages))
	s, err := g.client.CreateChatCompletionStream(ctx, g.request(messages, true))
	if err != nil {
		return nil, fmt.Errorf("create chat completion stream: %w", err)
	}
	return &deltaStream{stream: s}, nil
}

// Complete runs a non-streaming completion and returns the full text.
func (g *Gateway) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := g.Ready(); err != nil {
		return "", err
	}
	resp, err := g.client.CreateChatCompletion(ctx, g.request(messages, false))
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// deltaStream adapts a provider stream to TokenStream, skipping chunks that
// carry no content (role headers, finish markers).
type deltaStream struct {
	stream *openai.ChatCompletionStream
}

func (d *deltaStream) Recv() (string, error) {
	for {
		resp, err := d.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("receive stream chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (d *deltaStream) Close() error {
	return d.stream.Close()
}
