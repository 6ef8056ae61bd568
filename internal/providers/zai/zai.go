// Package zai implements the agent.LLMProvider interface against Z.AI's
// OpenAI-compatible chat-completions API. Streaming responses are
// decoded by internal/sse's ZAIParser, which handles both native
// tool-call deltas and the pseudo-XML <tool_call> blocks GLM models
// embed in plain text when native tool calling is unavailable.
package zai

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

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/sse"
	"github.com/qbit-ai/qbit/pkg/models"
)

const (
	// BaseURL is the Z.AI API endpoint.
	BaseURL = "https://api.z.ai/api/paas/v4"

	// DefaultModel is used when a request doesn't name one.
	DefaultModel = "glm-4.6"

	defaultMaxTokens = 4096
)

// Config holds construction options for a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
}

// Provider streams GLM completions. Safe for concurrent use.
type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	http         *http.Client
}

// New returns a Provider with default configuration.
func New(apiKey string) (*Provider, error) {
	return NewWithConfig(Config{APIKey: apiKey})
}

// NewWithConfig returns a Provider with custom configuration.
func NewWithConfig(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("zai: API key is required")
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
	return &Provider{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		http:         cfg.HTTPClient,
	}, nil
}

// Name returns "zai".
func (p *Provider) Name() string { return "zai" }

// SupportsTools reports tool support; GLM models without native tool
// calling fall back to pseudo-XML blocks the parser extracts.
func (p *Provider) SupportsTools() bool { return true }

// Models returns the supported GLM models.
func (p *Provider) Models() []agent.Model {
	return []agent.Model{
		{ID: "glm-4.6", Name: "GLM-4.6", ContextSize: 200000, SupportsVision: false},
		{ID: "glm-4.5", Name: "GLM-4.5", ContextSize: 128000, SupportsVision: false},
		{ID: "glm-4.5v", Name: "GLM-4.5V", ContextSize: 64000, SupportsVision: true},
	}
}

// wire types for the OpenAI-compatible request body.

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireToolSchema  `json:"function"`
}

type wireToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Complete opens a streaming chat-completions call and returns decoded
// chunks.
func (p *Provider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("zai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("zai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("zai: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("zai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, resp.Body, chunks)
	return chunks, nil
}

func (p *Provider) buildRequest(req *agent.CompletionRequest) *wireRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := &wireRequest{Model: model, MaxTokens: maxTokens, Stream: true}

	if req.System != "" {
		out.Messages = append(out.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			m := wireMessage{Role: "assistant", Content: msg.Content}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, wireToolCall{
					ID:   call.ID,
					Type: "function",
					Function: wireFunction{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			out.Messages = append(out.Messages, m)
		case "tool":
			for _, res := range msg.ToolResults {
				out.Messages = append(out.Messages, wireMessage{
					Role:       "tool",
					Content:    res.Content,
					ToolCallID: res.ToolCallID,
				})
			}
		default:
			out.Messages = append(out.Messages, wireMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: wireToolSchema{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		})
	}
	return out
}

// processStream reads SSE bytes, decodes them through the shared parser,
// and translates decoded chunks to the provider-agnostic shape. Native
// tool-call deltas are accumulated per call id; pseudo-XML extractions
// arrive whole and emit immediately.
func (p *Provider) processStream(ctx context.Context, body io.ReadCloser, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer body.Close()

	parser := sse.NewZAIParser()
	pendingOrder := []string{}
	pendingName := map[string]string{}
	pendingArgs := map[string]*strings.Builder{}
	var usage sse.Usage
	doneEmitted := false

	flushPending := func() {
		for _, id := range pendingOrder {
			args := pendingArgs[id].String()
			if args == "" {
				args = "{}"
			}
			chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
				ID:    id,
				Name:  pendingName[id],
				Input: json.RawMessage(args),
			}}
		}
		pendingOrder = nil
		pendingName = map[string]string{}
		pendingArgs = map[string]*strings.Builder{}
	}

	emit := func(decoded []sse.Chunk) bool {
		for _, c := range decoded {
			switch c.Kind {
			case sse.ChunkTextDelta:
				chunks <- &agent.CompletionChunk{Text: c.Text}
			case sse.ChunkThinkingDelta:
				chunks <- &agent.CompletionChunk{Thinking: c.Thinking}
			case sse.ChunkToolCallStart:
				pendingOrder = append(pendingOrder, c.ToolCallID)
				pendingName[c.ToolCallID] = c.ToolCallName
				pendingArgs[c.ToolCallID] = &strings.Builder{}
			case sse.ChunkToolCallDelta:
				if b, ok := pendingArgs[c.ToolCallID]; ok {
					b.WriteString(c.PartialJSON)
				}
			case sse.ChunkToolCallsComplete:
				for _, call := range c.ToolCalls {
					chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
						ID:    call.ID,
						Name:  call.Name,
						Input: json.RawMessage(call.Arguments),
					}}
				}
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

var _ agent.LLMProvider = (*Provider)(nil)
