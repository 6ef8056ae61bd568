package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssistantEntry_ReasoningPrecedesText(t *testing.T) {
	entry := AssistantEntry(
		[]Part{Reasoning("because X", "sig-1")},
		[]Part{Text("the answer is Y"), ToolCall("id1", "read_file", `{"path":"a.txt"}`)},
	)

	require.Len(t, entry.Parts, 3)
	require.Equal(t, PartReasoning, entry.Parts[0].Kind)
	require.Equal(t, "sig-1", entry.Parts[0].ReasoningSignature)
	require.Equal(t, PartText, entry.Parts[1].Kind)
	require.Equal(t, PartToolCall, entry.Parts[2].Kind)
	require.True(t, entry.HasToolCalls())
}

func TestHistory_CloneIsIndependent(t *testing.T) {
	h := New("system prompt", UserEntry("hello"))
	h.Append(AssistantEntry(nil, []Part{Text("hi")}))

	clone := h.Clone()
	clone.Entries[0].Parts[0].Text = "mutated"

	require.Equal(t, "hello", h.Entries[0].Parts[0].Text)
	require.Equal(t, "mutated", clone.Entries[0].Parts[0].Text)
}

func TestEntry_TextConcatenatesTextParts(t *testing.T) {
	e := Entry{Parts: []Part{Text("a"), ToolCall("1", "x", "{}"), Text("b")}}
	require.Equal(t, "ab", e.Text())
}
