package sse

import (
	"encoding/json"
	"strings"

	"github.com/qbit-ai/qbit/internal/observability"
)

// geminiChunk mirrors the subset of a Gemini generateContentStream SSE
// payload this parser needs: candidate content parts plus the trailing
// usageMetadata block that reports cumulative token counts.
type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text             string `json:"text,omitempty"`
				Thought          bool   `json:"thought,omitempty"`
				FunctionCall     *struct {
					Name string          `json:"name"`
					Args json.RawMessage `json:"args"`
				} `json:"functionCall,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`

	UsageMetadata *struct {
		PromptTokenCount     uint64 `json:"promptTokenCount"`
		CandidatesTokenCount uint64 `json:"candidatesTokenCount"`
		TotalTokenCount      uint64 `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GeminiParser accumulates Gemini SSE bytes into Chunks. Gemini reports
// token usage as a single cumulative usageMetadata block (promptTokenCount
// + candidatesTokenCount + totalTokenCount) rather than Anthropic's
// split-across-events shape, so every chunk carrying usageMetadata simply
// overwrites the running totals with the latest snapshot.
type GeminiParser struct {
	buffer          string
	accumulatedText string
	toolCounter     uint32
	lastUsage       *Usage
	done            bool
}

// NewGeminiParser returns a ready-to-use parser.
func NewGeminiParser() *GeminiParser {
	return &GeminiParser{}
}

// Feed appends raw bytes from the wire and returns every chunk that
// became decodable as a result.
func (p *GeminiParser) Feed(data []byte) []Chunk {
	if p.done {
		return nil
	}
	p.buffer += string(data)

	var chunks []Chunk
	events, remainder := splitSSEEvents(p.buffer)
	p.buffer = remainder

	for _, event := range events {
		chunks = append(chunks, p.parseEvent(event)...)
	}
	return chunks
}

// Flush processes any trailing buffered bytes once the stream closes and
// synthesizes a terminal Done chunk if one was never seen on the wire.
func (p *GeminiParser) Flush() []Chunk {
	var chunks []Chunk
	if p.buffer != "" {
		event := p.buffer
		p.buffer = ""
		chunks = append(chunks, p.parseEvent(event)...)
	}
	if !p.done {
		p.done = true
		chunks = append(chunks, Chunk{Kind: ChunkDone, Usage: p.lastUsage})
	}
	return chunks
}

func (p *GeminiParser) parseEvent(raw string) []Chunk {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, ":") {
		return nil
	}
	data, ok := dataLine(raw)
	if !ok {
		return nil
	}
	if data == "[DONE]" {
		p.done = true
		return []Chunk{{Kind: ChunkDone}}
	}

	var evt geminiChunk
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		observability.Default.StreamParseErrors.WithLabelValues("gemini").Inc()
		return []Chunk{{Kind: ChunkError, ErrorMessage: "failed to parse stream event: " + err.Error()}}
	}

	if evt.Error != nil {
		return []Chunk{{Kind: ChunkError, ErrorMessage: evt.Error.Message}}
	}

	var out []Chunk
	finished := false
	for _, cand := range evt.Candidates {
		if cand.FinishReason != "" {
			finished = true
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				p.toolCounter++
				args := "{}"
				if len(part.FunctionCall.Args) > 0 {
					args = string(part.FunctionCall.Args)
				}
				out = append(out, Chunk{
					Kind:         ChunkToolCallsComplete,
					ToolCalls:    []ToolCall{{ID: pseudoCallID(p.toolCounter), Name: part.FunctionCall.Name, Arguments: args}},
				})
			case part.Thought:
				out = append(out, Chunk{Kind: ChunkThinkingDelta, Thinking: part.Text})
			case part.Text != "":
				p.accumulatedText += part.Text
				out = append(out, Chunk{Kind: ChunkTextDelta, Text: part.Text, Accumulated: p.accumulatedText})
			}
		}
	}

	if evt.UsageMetadata != nil {
		p.lastUsage = &Usage{
			InputTokens:  evt.UsageMetadata.PromptTokenCount,
			OutputTokens: evt.UsageMetadata.CandidatesTokenCount,
		}
	}
	if finished {
		p.done = true
		out = append(out, Chunk{Kind: ChunkDone, Usage: p.lastUsage})
	}

	return out
}

// Done reports whether the stream has reached a terminal event.
func (p *GeminiParser) Done() bool {
	return p.done
}
