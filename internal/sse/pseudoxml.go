package sse

import (
	"encoding/json"
	"strconv"
	"strings"
)

// pseudoToolCallOpen/Close delimit a tool call embedded directly in a
// model's text or reasoning stream, the Z.AI idiom for models that
// don't use native tool-call deltas.
const (
	pseudoToolCallOpen  = "<tool_call>"
	pseudoToolCallClose = "</tool_call>"
)

type parsedPseudoCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExtractPseudoXMLToolCalls scans buffer for complete <tool_call>{...}
// </tool_call> blocks, parses each body as {name, arguments}, and
// returns the extracted calls plus the buffer with all matched blocks
// removed. counter is both read and advanced so IDs stay unique across
// repeated calls against the same accumulator.
func ExtractPseudoXMLToolCalls(buffer string, counter *uint32) ([]ToolCall, string) {
	if !strings.Contains(buffer, pseudoToolCallClose) {
		return nil, buffer
	}

	var calls []ToolCall
	var out strings.Builder
	remaining := buffer

	for {
		start := strings.Index(remaining, pseudoToolCallOpen)
		end := strings.Index(remaining, pseudoToolCallClose)
		if start < 0 || end < 0 {
			out.WriteString(remaining)
			break
		}
		if start > end {
			// A close tag appears before any open tag: not a matched
			// pair, leave it untouched and stop scanning.
			out.WriteString(remaining)
			break
		}

		out.WriteString(remaining[:start])
		body := remaining[start+len(pseudoToolCallOpen) : end]
		remaining = remaining[end+len(pseudoToolCallClose):]

		var parsed parsedPseudoCall
		if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &parsed); err != nil {
			// Malformed body: preserve the original text verbatim
			// rather than silently dropping it.
			out.WriteString(pseudoToolCallOpen)
			out.WriteString(body)
			out.WriteString(pseudoToolCallClose)
			continue
		}

		*counter++
		args := "{}"
		if len(parsed.Arguments) > 0 {
			args = string(parsed.Arguments)
		}
		calls = append(calls, ToolCall{
			ID:        pseudoCallID(*counter),
			Name:      parsed.Name,
			Arguments: args,
		})
	}

	return calls, out.String()
}

func pseudoCallID(n uint32) string {
	return "pseudo_call_" + strconv.FormatUint(uint64(n), 10)
}
