package sse

import (
	"encoding/json"
	"strings"

	"github.com/qbit-ai/qbit/internal/observability"
)

// anthropicEvent mirrors the subset of Anthropic's message-stream event
// envelope this parser needs to attribute tokens and accumulate content.
type anthropicEvent struct {
	Type string `json:"type"`

	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`

	Index int `json:"index,omitempty"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type         string `json:"type,omitempty"`
		Text         string `json:"text,omitempty"`
		PartialJSON  string `json:"partial_json,omitempty"`
		Thinking     string `json:"thinking,omitempty"`
		Signature    string `json:"signature,omitempty"`
		StopReason   string `json:"stop_reason,omitempty"`
		StopSequence string `json:"stop_sequence,omitempty"`
	} `json:"delta,omitempty"`

	Usage *anthropicUsage `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens              uint64 `json:"input_tokens"`
	OutputTokens             uint64 `json:"output_tokens"`
	CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
}

// AnthropicParser accumulates Anthropic message-stream SSE bytes into
// Chunks. Anthropic reports input_tokens only on message_start and
// output_tokens only on message_delta, so the two must be combined by
// the parser rather than read off a single event.
type AnthropicParser struct {
	buffer          string
	accumulatedText string
	accumulatedSig  string
	inputTokens     uint64
	done            bool
}

// NewAnthropicParser returns a ready-to-use parser.
func NewAnthropicParser() *AnthropicParser {
	return &AnthropicParser{}
}

// Feed appends raw bytes from the wire and returns every chunk that
// became decodable as a result.
func (p *AnthropicParser) Feed(data []byte) []Chunk {
	p.buffer += string(data)

	var chunks []Chunk
	events, remainder := splitSSEEvents(p.buffer)
	p.buffer = remainder

	for _, event := range events {
		if c, ok := p.parseEvent(event); ok {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// Flush processes any trailing bytes left in the buffer once the
// underlying connection has closed.
func (p *AnthropicParser) Flush() []Chunk {
	if p.buffer == "" {
		return nil
	}
	event := p.buffer
	p.buffer = ""
	if c, ok := p.parseEvent(event); ok {
		return []Chunk{c}
	}
	return nil
}

func (p *AnthropicParser) parseEvent(raw string) (Chunk, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, ":") {
		return Chunk{}, false
	}
	data, ok := dataLine(raw)
	if !ok || data == "[DONE]" {
		return Chunk{}, false
	}

	var evt anthropicEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		observability.Default.StreamParseErrors.WithLabelValues("anthropic").Inc()
		return Chunk{Kind: ChunkError, ErrorMessage: "failed to parse stream event: " + err.Error()}, true
	}

	switch evt.Type {
	case "message_start":
		if evt.Message != nil {
			p.inputTokens = evt.Message.Usage.InputTokens
		}
		return Chunk{}, false

	case "content_block_start":
		if evt.ContentBlock == nil {
			return Chunk{}, false
		}
		switch evt.ContentBlock.Type {
		case "tool_use", "server_tool_use":
			return Chunk{Kind: ChunkToolCallStart, ToolCallID: evt.ContentBlock.ID, ToolCallName: evt.ContentBlock.Name}, true
		default:
			return Chunk{}, false
		}

	case "content_block_delta":
		if evt.Delta == nil {
			return Chunk{}, false
		}
		switch evt.Delta.Type {
		case "text_delta":
			p.accumulatedText += evt.Delta.Text
			return Chunk{Kind: ChunkTextDelta, Text: evt.Delta.Text, Accumulated: p.accumulatedText}, true
		case "input_json_delta":
			return Chunk{Kind: ChunkToolCallDelta, PartialJSON: evt.Delta.PartialJSON}, true
		case "thinking_delta":
			return Chunk{Kind: ChunkThinkingDelta, Thinking: evt.Delta.Thinking}, true
		case "signature_delta":
			p.accumulatedSig += evt.Delta.Signature
			return Chunk{}, false
		default:
			return Chunk{}, false
		}

	case "content_block_stop":
		if p.accumulatedSig != "" {
			sig := p.accumulatedSig
			p.accumulatedSig = ""
			return Chunk{Kind: ChunkThinkingSignature, Signature: sig}, true
		}
		return Chunk{}, false

	case "message_delta":
		inputTokens := p.inputTokens
		if evt.Usage != nil && evt.Usage.InputTokens > 0 {
			inputTokens = evt.Usage.InputTokens
		}
		var usage *Usage
		if evt.Usage != nil {
			usage = &Usage{
				InputTokens:              inputTokens,
				OutputTokens:             evt.Usage.OutputTokens,
				CacheCreationInputTokens: evt.Usage.CacheCreationInputTokens,
				CacheReadInputTokens:     evt.Usage.CacheReadInputTokens,
			}
		}
		stopReason := ""
		if evt.Delta != nil {
			stopReason = evt.Delta.StopReason
		}
		p.done = true
		return Chunk{Kind: ChunkDone, StopReason: stopReason, Usage: usage}, true

	case "message_stop":
		p.done = true
		return Chunk{Kind: ChunkDone}, true

	case "error":
		if evt.Error != nil {
			return Chunk{Kind: ChunkError, ErrorMessage: evt.Error.Message}, true
		}
		return Chunk{Kind: ChunkError, ErrorMessage: "unknown error"}, true

	case "ping":
		return Chunk{}, false

	default:
		return Chunk{}, false
	}
}

// Done reports whether the stream has reached a terminal event.
func (p *AnthropicParser) Done() bool {
	return p.done
}
