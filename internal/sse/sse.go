// Package sse hand-parses provider SSE byte streams into a common chunk
// model. Unlike the completion-call paths, which delegate to each
// provider's official SDK, streaming responses here are parsed directly
// off the wire: providers frame SSE differently enough (Anthropic's
// single "data: " line per event, Z.AI's occasional single-newline
// framing, Gemini's bare JSON chunks) that no shared SDK streaming type
// covers all three, so this package owns the byte-level contract.
package sse

import "strings"

// Usage carries token counts as reported mid-stream. Fields are
// optional because providers populate them at different points in the
// event sequence (Anthropic: input_tokens only in message_start).
type Usage struct {
	InputTokens              uint64
	OutputTokens             uint64
	CacheCreationInputTokens uint64
	CacheReadInputTokens     uint64
}

// ChunkKind discriminates the decoded stream chunk.
type ChunkKind string

const (
	ChunkTextDelta         ChunkKind = "text_delta"
	ChunkThinkingDelta     ChunkKind = "thinking_delta"
	ChunkThinkingSignature ChunkKind = "thinking_signature"
	ChunkToolCallStart     ChunkKind = "tool_call_start"
	ChunkToolCallDelta     ChunkKind = "tool_call_delta"
	ChunkToolCallsComplete ChunkKind = "tool_calls_complete"
	ChunkDone              ChunkKind = "done"
	ChunkError             ChunkKind = "error"
)

// ToolCall is one fully-accumulated tool invocation, from either native
// provider tool-call deltas or extracted pseudo-XML.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Chunk is the common decoded unit every provider parser emits.
type Chunk struct {
	Kind         ChunkKind
	Text         string
	Accumulated  string
	Thinking     string
	Signature    string
	ToolCallID   string
	ToolCallName string
	PartialJSON  string
	ToolCalls    []ToolCall
	StopReason   string
	Usage        *Usage
	ErrorMessage string
}

// splitSSEEvents splits a raw byte buffer on the SSE event delimiter
// ("\n\n") and returns the complete events plus the unconsumed
// remainder. Matches the buffering idiom shared by every provider
// parser: accumulate bytes, only act once a full event is available.
func splitSSEEvents(buffer string) (events []string, remainder string) {
	for {
		idx := strings.Index(buffer, "\n\n")
		if idx < 0 {
			return events, buffer
		}
		events = append(events, buffer[:idx])
		buffer = buffer[idx+2:]
	}
}

// dataLine extracts the payload of the last "data: " (or "data:") line
// within a raw SSE event block, matching the providers' own defensive
// "only match data: at line start, take the last occurrence" behavior.
func dataLine(event string) (string, bool) {
	var data string
	found := false
	for _, line := range strings.Split(event, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			data = strings.TrimSpace(rest)
			found = true
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(rest)
			found = true
		}
	}
	return data, found
}
