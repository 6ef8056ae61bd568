package sse

import (
	"encoding/json"
	"strings"

	"github.com/qbit-ai/qbit/internal/observability"
)

// zaiChunk mirrors the OpenAI-compatible chat-completion delta shape
// Z.AI streams. Tool calls it emits as native deltas follow OpenAI's
// function-calling wire format; models that don't support native tool
// calls instead embed <tool_call>{...}</tool_call> directly in
// delta.content, which this parser detects separately (see pseudoxml.go).
type zaiChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content,omitempty"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`

	Usage *struct {
		PromptTokens     uint64 `json:"prompt_tokens"`
		CompletionTokens uint64 `json:"completion_tokens"`
	} `json:"usage,omitempty"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ZAIParser accumulates Z.AI SSE bytes into Chunks, additionally running
// the pseudo-XML tool-call detector over the accumulated text buffer on
// every text delta so a <tool_call>...</tool_call> block embedded in
// plain content is extracted as soon as it closes.
type ZAIParser struct {
	buffer       string
	textAccum    strings.Builder
	accumulated  string
	pseudoCount  uint32
	nativeToolID map[int]string
	done         bool
}

// NewZAIParser returns a ready-to-use parser.
func NewZAIParser() *ZAIParser {
	return &ZAIParser{nativeToolID: make(map[int]string)}
}

// Feed appends raw bytes from the wire and returns every chunk that
// became decodable as a result.
func (p *ZAIParser) Feed(data []byte) []Chunk {
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

// Flush processes any trailing buffered bytes and extracts any
// still-pending pseudo-XML tool call left in the text accumulator.
func (p *ZAIParser) Flush() []Chunk {
	var chunks []Chunk
	if p.buffer != "" {
		event := p.buffer
		p.buffer = ""
		chunks = append(chunks, p.parseEvent(event)...)
	}
	if calls, rest := ExtractPseudoXMLToolCalls(p.textAccum.String(), &p.pseudoCount); len(calls) > 0 {
		p.textAccum.Reset()
		p.textAccum.WriteString(rest)
		chunks = append(chunks, Chunk{Kind: ChunkToolCallsComplete, ToolCalls: calls})
	}
	if !p.done {
		p.done = true
		chunks = append(chunks, Chunk{Kind: ChunkDone})
	}
	return chunks
}

func (p *ZAIParser) parseEvent(raw string) []Chunk {
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

	var evt zaiChunk
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		observability.Default.StreamParseErrors.WithLabelValues("zai").Inc()
		return []Chunk{{Kind: ChunkError, ErrorMessage: "failed to parse stream event: " + err.Error()}}
	}
	if evt.Error != nil {
		return []Chunk{{Kind: ChunkError, ErrorMessage: evt.Error.Message}}
	}

	var out []Chunk
	finished := false
	for _, choice := range evt.Choices {
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finished = true
		}
		if t := choice.Delta.ReasoningContent; t != "" {
			out = append(out, Chunk{Kind: ChunkThinkingDelta, Thinking: t})
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != "" {
				p.nativeToolID[tc.Index] = tc.ID
				out = append(out, Chunk{Kind: ChunkToolCallStart, ToolCallID: tc.ID, ToolCallName: tc.Function.Name})
			}
			if tc.Function.Arguments != "" {
				out = append(out, Chunk{Kind: ChunkToolCallDelta, ToolCallID: p.nativeToolID[tc.Index], PartialJSON: tc.Function.Arguments})
			}
		}
		if t := choice.Delta.Content; t != "" {
			p.textAccum.WriteString(t)
			p.accumulated += t

			if calls, rest := ExtractPseudoXMLToolCalls(p.textAccum.String(), &p.pseudoCount); len(calls) > 0 {
				p.textAccum.Reset()
				p.textAccum.WriteString(rest)
				out = append(out, Chunk{Kind: ChunkToolCallsComplete, ToolCalls: calls})
			} else {
				out = append(out, Chunk{Kind: ChunkTextDelta, Text: t, Accumulated: p.accumulated})
			}
		}
	}

	if evt.Usage != nil || finished {
		var usage *Usage
		if evt.Usage != nil {
			usage = &Usage{InputTokens: evt.Usage.PromptTokens, OutputTokens: evt.Usage.CompletionTokens}
		}
		if finished {
			p.done = true
			out = append(out, Chunk{Kind: ChunkDone, Usage: usage})
		}
	}

	return out
}

// Done reports whether the stream has reached a terminal event.
func (p *ZAIParser) Done() bool {
	return p.done
}
