// Package openai implements the agent.LLMProvider interface for OpenAI
// and OpenAI-compatible endpoints through the go-openai SDK. Unlike the
// anthropic/gemini/zai adapters, which hand-parse SSE for provider
// quirks internal/sse owns, the OpenAI dialect is exactly what the SDK's
// stream type models, so this adapter delegates framing to it and only
// reassembles indexed tool-call deltas.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/pkg/models"
)

// DefaultModel is used when a request doesn't name one.
const DefaultModel = "gpt-4.1"

// Config holds construction options for a Provider.
type Config struct {
	APIKey string

	// BaseURL overrides the endpoint for OpenAI-compatible services.
	// Empty means api.openai.com.
	BaseURL string

	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Provider streams chat completions. Safe for concurrent use.
type Provider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// New returns a Provider against api.openai.com.
func New(apiKey string) (*Provider, error) {
	return NewWithConfig(Config{APIKey: apiKey})
}

// NewWithConfig returns a Provider with custom configuration.
func NewWithConfig(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: 300 * time.Second}

	return &Provider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// SupportsTools reports that the chat-completions dialect supports
// function calling.
func (p *Provider) SupportsTools() bool { return true }

// Models returns the supported OpenAI models.
func (p *Provider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4.1", Name: "GPT-4.1", ContextSize: 1047576, SupportsVision: true},
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "o3", Name: "o3", ContextSize: 200000, SupportsVision: true},
	}
}

// Complete opens a streaming chat-completion call and returns chunks.
func (p *Provider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *agent.CompletionChunk)
	go processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream reassembles indexed tool-call deltas and forwards text
// as it arrives. Usage rides on the final chunk when stream options
// request it.
func processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var order []int
	var inputTokens, outputTokens int

	flush := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &agent.CompletionChunk{Error: err, Done: true}
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				current := string(toolCalls[index].Input)
				toolCalls[index].Input = json.RawMessage(current + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertMessages maps provider-agnostic messages to the SDK's shape.
// Tool results each become their own tool-role message carrying the
// originating call id.
func convertMessages(messages []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			hasImages := false
			for _, att := range msg.Attachments {
				if att.Type == "image" {
					hasImages = true
					break
				}
			}
			if hasImages {
				var parts []openai.ChatMessagePart
				if msg.Content != "" {
					parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Content})
				}
				for _, att := range msg.Attachments {
					if att.Type != "image" {
						continue
					}
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: att.URL},
					})
				}
				m.MultiContent = parts
			} else {
				m.Content = msg.Content
			}
			out = append(out, m)

		case "assistant":
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			out = append(out, m)

		case "tool":
			for _, res := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    res.Content,
					ToolCallID: res.ToolCallID,
				})
			}

		default:
			return nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	return out, nil
}

func convertTools(tools []agent.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return out
}

// isRetryable classifies SDK errors the way the streaming loop's own
// backoff does: 429 and 5xx warrant another attempt.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") || strings.Contains(s, "connection")
}

var _ agent.LLMProvider = (*Provider)(nil)
