// Package history models the agentic loop's message history: an ordered
// sequence of turn-entries carrying typed content parts. Reasoning and
// thought-signature parts are preserved verbatim across turns because
// later completions require them for context consistency, which the
// flatter pkg/models.Message (parallel ToolCalls/ToolResults arrays, no
// reasoning field) cannot represent.
package history

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates a content part within an entry.
type PartKind string

const (
	PartText       PartKind = "text"
	PartImage      PartKind = "image"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
	PartReasoning  PartKind = "reasoning"
)

// Part is one typed content part of a message entry. Exactly the fields
// relevant to Kind are populated; the rest are zero.
type Part struct {
	Kind Kind

	Text string

	ImageBase64   string
	ImageMimeType string

	ToolCallID   string
	ToolCallName string
	ToolCallArgs string // JSON

	ToolResultID      string
	ToolResultContent string

	ReasoningText      string
	ReasoningSignature string
}

// Kind is an alias so Part.Kind reads naturally as Part{Kind: PartText}.
type Kind = PartKind

// Text returns a plain-text part.
func Text(s string) Part { return Part{Kind: PartText, Text: s} }

// Image returns an image part.
func Image(base64, mimeType string) Part {
	return Part{Kind: PartImage, ImageBase64: base64, ImageMimeType: mimeType}
}

// ToolCall returns a tool-call part; args is the raw JSON argument body.
func ToolCall(id, name, args string) Part {
	return Part{Kind: PartToolCall, ToolCallID: id, ToolCallName: name, ToolCallArgs: args}
}

// ToolResult returns a tool-result part tied back to the originating
// tool-call id.
func ToolResult(id, content string) Part {
	return Part{Kind: PartToolResult, ToolResultID: id, ToolResultContent: content}
}

// Reasoning returns a reasoning part, optionally carrying a provider
// thought signature that must round-trip unmodified.
func Reasoning(text, signature string) Part {
	return Part{Kind: PartReasoning, ReasoningText: text, ReasoningSignature: signature}
}

// Entry is one turn in the history: a role plus an ordered list of
// content parts.
type Entry struct {
	Role  Role
	Parts []Part
}

// HasToolCalls reports whether the entry carries any tool-call parts.
func (e Entry) HasToolCalls() bool {
	for _, p := range e.Parts {
		if p.Kind == PartToolCall {
			return true
		}
	}
	return false
}

// Text concatenates every text part in the entry.
func (e Entry) Text() string {
	var out string
	for _, p := range e.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// UserEntry returns a single-part user text entry.
func UserEntry(text string) Entry {
	return Entry{Role: RoleUser, Parts: []Part{Text(text)}}
}

// AssistantEntry builds an assistant entry from reasoning, text, and
// tool-call parts, enforcing the ordering invariant required by
// providers that need reasoning/thinking blocks to precede text and
// tool-call blocks in the same assistant message (Anthropic, Gemini
// thinking). The invariant is enforced here at construction, not at
// streaming-accumulation time.
func AssistantEntry(reasoning []Part, rest []Part) Entry {
	parts := make([]Part, 0, len(reasoning)+len(rest))
	parts = append(parts, reasoning...)
	parts = append(parts, rest...)
	return Entry{Role: RoleAssistant, Parts: parts}
}

// ToolEntry wraps a single tool-result part as its own history entry,
// keeping the three-role model (User/Assistant/Tool) uniform.
func ToolEntry(toolCallID, content string) Entry {
	return Entry{Role: RoleTool, Parts: []Part{ToolResult(toolCallID, content)}}
}

// History is an ordered, append-only sequence of entries, aside from
// explicit context compaction which replaces the whole slice.
type History struct {
	System  string
	Entries []Entry
}

// New returns a History seeded with a system prompt and an initial user
// entry.
func New(system string, initialUser Entry) History {
	return History{System: system, Entries: []Entry{initialUser}}
}

// Append adds entries in order.
func (h *History) Append(entries ...Entry) {
	h.Entries = append(h.Entries, entries...)
}

// Clone returns a deep-enough copy for safe independent mutation
// (entries and their part slices are copied; part values themselves are
// plain data).
func (h History) Clone() History {
	out := History{System: h.System, Entries: make([]Entry, len(h.Entries))}
	for i, e := range h.Entries {
		parts := make([]Part, len(e.Parts))
		copy(parts, e.Parts)
		out.Entries[i] = Entry{Role: e.Role, Parts: parts}
	}
	return out
}
