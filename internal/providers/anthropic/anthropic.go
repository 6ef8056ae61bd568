// Package anthropic implements the agent.LLMProvider interface against
// Anthropic's Messages API. Streaming completions go over raw HTTP and
// are decoded by internal/sse's AnthropicParser (which owns the
// split-across-events token attribution and thinking-signature rules);
// one-shot completions such as compaction summaries go through the
// official SDK.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/sse"
	"github.com/qbit-ai/qbit/pkg/models"
)

const (
	// BaseURL is the Anthropic API endpoint.
	BaseURL = "https://api.anthropic.com"

	// DefaultModel is used when a request doesn't name one.
	DefaultModel = "claude-sonnet-4-5"

	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Config holds construction options for a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
}

// Provider streams Claude completions. Safe for concurrent use.
type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	http         *http.Client
	sdk          anthropicsdk.Client
}

// New returns a Provider with default configuration.
func New(apiKey string) (*Provider, error) {
	return NewWithConfig(Config{APIKey: apiKey})
}

// NewWithConfig returns a Provider with custom configuration.
func NewWithConfig(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 300 * time.Second}
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != BaseURL {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		http:         cfg.HTTPClient,
		sdk:          anthropicsdk.NewClient(opts...),
	}, nil
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// SupportsTools reports that Claude models support tool use.
func (p *Provider) SupportsTools() bool { return true }

// Models returns the supported Claude models.
func (p *Provider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-1", Name: "Claude Opus 4.1", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
	}
}

// wire types for the raw streaming request body.

type wireRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []wireMessage  `json:"messages"`
	Tools     []wireTool     `json:"tools,omitempty"`
	Stream    bool           `json:"stream"`
	Thinking  *wireThinking  `json:"thinking,omitempty"`
}

type wireThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	Source *wireImageSource `json:"source,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Complete opens a streaming Messages call and returns decoded chunks.
func (p *Provider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, resp.Body, chunks)
	return chunks, nil
}

func (p *Provider) buildRequest(req *agent.CompletionRequest) (*wireRequest, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := &wireRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Stream:    true,
	}

	if req.EnableThinking {
		budget := req.ThinkingBudgetTokens
		if budget < 1024 {
			budget = 10000
		}
		out.Thinking = &wireThinking{Type: "enabled", BudgetTokens: budget}
	}

	for _, msg := range req.Messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return out, nil
}

// convertMessage maps one CompletionMessage to Anthropic's block shape.
// Tool results ride on a user-role message per the Messages API contract.
func convertMessage(msg agent.CompletionMessage) (wireMessage, error) {
	switch msg.Role {
	case "user":
		blocks := []wireBlock{}
		for _, att := range msg.Attachments {
			if att.Type != "image" {
				continue
			}
			data := att.URL
			if idx := strings.Index(data, "base64,"); idx >= 0 {
				data = data[idx+len("base64,"):]
			}
			blocks = append(blocks, wireBlock{
				Type:   "image",
				Source: &wireImageSource{Type: "base64", MediaType: att.MimeType, Data: data},
			})
		}
		if msg.Content != "" {
			blocks = append(blocks, wireBlock{Type: "text", Text: msg.Content})
		}
		if len(blocks) == 0 {
			blocks = append(blocks, wireBlock{Type: "text", Text: ""})
		}
		return wireMessage{Role: "user", Content: blocks}, nil

	case "assistant":
		var blocks []wireBlock
		if msg.Content != "" {
			blocks = append(blocks, wireBlock{Type: "text", Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			input := call.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, wireBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
		}
		return wireMessage{Role: "assistant", Content: blocks}, nil

	case "tool":
		var blocks []wireBlock
		for _, res := range msg.ToolResults {
			blocks = append(blocks, wireBlock{Type: "tool_result", ToolUseID: res.ToolCallID, Content: res.Content})
		}
		return wireMessage{Role: "user", Content: blocks}, nil

	default:
		return wireMessage{}, fmt.Errorf("anthropic: unsupported role %q", msg.Role)
	}
}

// processStream reads SSE bytes, decodes them through the shared parser,
// and translates decoded chunks to the provider-agnostic shape. Tool-call
// input arrives as partial-JSON deltas keyed to the most recent
// tool_use start; a completed call is emitted when the next block starts
// or the stream finishes.
func (p *Provider) processStream(ctx context.Context, body io.ReadCloser, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer body.Close()

	parser := sse.NewAnthropicParser()
	var pending *models.ToolCall
	var pendingArgs strings.Builder
	var usage sse.Usage
	doneEmitted := false

	flushPending := func() {
		if pending == nil {
			return
		}
		args := pendingArgs.String()
		if args == "" {
			args = "{}"
		}
		pending.Input = json.RawMessage(args)
		chunks <- &agent.CompletionChunk{ToolCall: pending}
		pending = nil
		pendingArgs.Reset()
	}

	emit := func(decoded []sse.Chunk) bool {
		for _, c := range decoded {
			switch c.Kind {
			case sse.ChunkTextDelta:
				flushPending()
				chunks <- &agent.CompletionChunk{Text: c.Text}
			case sse.ChunkThinkingDelta:
				chunks <- &agent.CompletionChunk{Thinking: c.Thinking}
			case sse.ChunkThinkingSignature:
				chunks <- &agent.CompletionChunk{ThinkingSignature: c.Signature}
			case sse.ChunkToolCallStart:
				flushPending()
				pending = &models.ToolCall{ID: c.ToolCallID, Name: c.ToolCallName}
			case sse.ChunkToolCallDelta:
				pendingArgs.WriteString(c.PartialJSON)
			case sse.ChunkDone:
				flushPending()
				if c.Usage != nil {
					usage = *c.Usage
				}
				chunks <- &agent.CompletionChunk{
					Done:         true,
					InputTokens:  int(usage.InputTokens),
					OutputTokens: int(usage.OutputTokens),
				}
				doneEmitted = true
				return true
			case sse.ChunkError:
				chunks <- &agent.CompletionChunk{Error: errors.New(c.ErrorMessage), Done: true}
				return true
			}
		}
		return false
	}

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			if emit(parser.Feed(buf[:n])) {
				return
			}
		}
		if err != nil {
			if emit(parser.Flush()) {
				return
			}
			if !doneEmitted {
				// Stream ended without a terminal event: synthesize Done so
				// the loop still gets a complete assistant message.
				flushPending()
				chunks <- &agent.CompletionChunk{
					Done:         true,
					InputTokens:  int(usage.InputTokens),
					OutputTokens: int(usage.OutputTokens),
				}
			}
			if err != io.EOF && !errors.Is(err, context.Canceled) {
				chunks <- &agent.CompletionChunk{Error: err}
			}
			return
		}
	}
}

// CompleteOnce runs a single non-streaming completion, used for
// compaction summaries. It goes through the official SDK rather than the
// raw streaming path.
func (p *Provider) CompleteOnce(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = p.defaultModel
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Type: "text", Text: system}}
	}

	msg, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: completion: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

var _ agent.LLMProvider = (*Provider)(nil)
