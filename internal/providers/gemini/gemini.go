// Package gemini implements the agent.LLMProvider interface against
// Google's Gemini API. Streaming completions go over raw HTTP
// (streamGenerateContent?alt=sse) and are decoded by internal/sse's
// GeminiParser, which owns the cumulative usageMetadata token
// attribution; one-shot completions go through the official genai SDK.
package gemini

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

	"google.golang.org/genai"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/sse"
	"github.com/qbit-ai/qbit/pkg/models"
)

const (
	// BaseURL is the Gemini API endpoint.
	BaseURL = "https://generativelanguage.googleapis.com"

	// DefaultModel is used when a request doesn't name one.
	DefaultModel = "gemini-2.5-flash"
)

// Config holds construction options for a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
}

// Provider streams Gemini completions. Safe for concurrent use.
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
		return nil, errors.New("gemini: API key is required")
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

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// SupportsTools reports that Gemini models support function calling.
func (p *Provider) SupportsTools() bool { return true }

// Models returns the supported Gemini models.
func (p *Provider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextSize: 1048576, SupportsVision: true},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextSize: 1048576, SupportsVision: true},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1048576, SupportsVision: true},
	}
}

// wire types for the raw streaming request body.

type wireRequest struct {
	SystemInstruction *wireContent  `json:"systemInstruction,omitempty"`
	Contents          []wireContent `json:"contents"`
	Tools             []wireTools   `json:"tools,omitempty"`
	GenerationConfig  *wireGenCfg   `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text,omitempty"`

	InlineData *wireBlob `json:"inlineData,omitempty"`

	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
}

type wireBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type wireFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type wireTools struct {
	FunctionDeclarations []wireFunctionDecl `json:"functionDeclarations"`
}

type wireFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireGenCfg struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// Complete opens a streaming generateContent call and returns decoded
// chunks.
func (p *Provider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body, err := p.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", p.apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, resp.Body, chunks)
	return chunks, nil
}

func (p *Provider) buildRequest(req *agent.CompletionRequest) (*wireRequest, error) {
	out := &wireRequest{}
	if req.System != "" {
		out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		out.GenerationConfig = &wireGenCfg{MaxOutputTokens: req.MaxTokens}
	}

	for _, msg := range req.Messages {
		content, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Contents = append(out.Contents, content)
	}

	if len(req.Tools) > 0 {
		decls := make([]wireFunctionDecl, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, wireFunctionDecl{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			})
		}
		out.Tools = []wireTools{{FunctionDeclarations: decls}}
	}
	return out, nil
}

// convertMessage maps one CompletionMessage into Gemini's content shape.
// Assistant turns use role "model"; tool results ride on a user-role
// content as functionResponse parts.
func convertMessage(msg agent.CompletionMessage) (wireContent, error) {
	switch msg.Role {
	case "user":
		parts := []wirePart{}
		for _, att := range msg.Attachments {
			if att.Type != "image" {
				continue
			}
			data := att.URL
			if idx := strings.Index(data, "base64,"); idx >= 0 {
				data = data[idx+len("base64,"):]
			}
			parts = append(parts, wirePart{InlineData: &wireBlob{MimeType: att.MimeType, Data: data}})
		}
		if msg.Content != "" || len(parts) == 0 {
			parts = append(parts, wirePart{Text: msg.Content})
		}
		return wireContent{Role: "user", Parts: parts}, nil

	case "assistant":
		var parts []wirePart
		if msg.Content != "" {
			parts = append(parts, wirePart{Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			args := call.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			parts = append(parts, wirePart{FunctionCall: &wireFunctionCall{Name: call.Name, Args: args}})
		}
		return wireContent{Role: "model", Parts: parts}, nil

	case "tool":
		var parts []wirePart
		for _, res := range msg.ToolResults {
			parts = append(parts, wirePart{FunctionResponse: &wireFunctionResponse{
				Name:     res.ToolCallID,
				Response: map[string]any{"result": res.Content},
			}})
		}
		return wireContent{Role: "user", Parts: parts}, nil

	default:
		return wireContent{}, fmt.Errorf("gemini: unsupported role %q", msg.Role)
	}
}

// processStream reads SSE bytes, decodes them through the shared parser,
// and translates decoded chunks to the provider-agnostic shape. Gemini
// delivers whole functionCall objects per chunk (no partial-JSON deltas),
// so tool calls emit as soon as the parser surfaces them.
func (p *Provider) processStream(ctx context.Context, body io.ReadCloser, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer body.Close()

	parser := sse.NewGeminiParser()
	var usage sse.Usage
	doneEmitted := false

	emit := func(decoded []sse.Chunk) bool {
		for _, c := range decoded {
			switch c.Kind {
			case sse.ChunkTextDelta:
				chunks <- &agent.CompletionChunk{Text: c.Text}
			case sse.ChunkThinkingDelta:
				chunks <- &agent.CompletionChunk{Thinking: c.Thinking}
			case sse.ChunkToolCallStart:
				chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
					ID:    c.ToolCallID,
					Name:  c.ToolCallName,
					Input: json.RawMessage(c.PartialJSON),
				}}
			case sse.ChunkToolCallsComplete:
				for _, call := range c.ToolCalls {
					chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
						ID:    call.ID,
						Name:  call.Name,
						Input: json.RawMessage(call.Arguments),
					}}
				}
			case sse.ChunkDone:
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

// CompleteOnce runs a single non-streaming completion through the
// official genai SDK, used for compaction summaries.
func (p *Provider) CompleteOnce(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = p.defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("gemini: create client: %w", err)
	}

	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		}
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: completion: %w", err)
	}
	return resp.Text(), nil
}

var _ agent.LLMProvider = (*Provider)(nil)
