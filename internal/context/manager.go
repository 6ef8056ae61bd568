// Package context manages the conversation's context window: it decides
// when a history has grown past its compaction threshold and rewrites it
// into [summary, ...protected tail] form, preserving the system prompt
// and the most recent user/assistant turn pairs verbatim.
package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/internal/tokenbudget"
)

// Summarizer produces a single summary string for the given history
// entries, typically via a dedicated LLM call.
type Summarizer func(ctx context.Context, entries []history.Entry) (string, error)

// SummaryFallback is used when there is nothing before the protected tail
// worth summarizing.
const SummaryFallback = "No prior history."

// Config tunes the compaction trigger.
type Config struct {
	Enabled bool

	// Threshold is the utilization (used/available) above which compaction
	// fires. 0 means use DefaultThreshold.
	Threshold float64

	// ProtectedTurns is how many of the most recent user+assistant pairs
	// survive compaction verbatim. Zero summarizes everything except the
	// system prompt.
	ProtectedTurns int

	// Cooldown suppresses back-to-back compactions.
	Cooldown time.Duration
}

// DefaultThreshold is the utilization above which compaction fires.
const DefaultThreshold = 0.75

// DefaultConfig returns the default tuning: enabled, threshold 0.75,
// three protected turn pairs.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Threshold:      DefaultThreshold,
		ProtectedTurns: 3,
		Cooldown:       2 * time.Minute,
	}
}

func (c Config) threshold() float64 {
	if c.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

// Manager holds per-session compaction state: the budget for the active
// model and the time of the last compaction (for cooldown enforcement).
type Manager struct {
	cfg    Config
	budget tokenbudget.Config

	lastCompaction time.Time
	now            func() time.Time
}

// NewManager returns a Manager for one session against one model budget.
func NewManager(cfg Config, budget tokenbudget.Config) *Manager {
	return &Manager{cfg: cfg, budget: budget, now: time.Now}
}

// SetClock overrides time.Now for deterministic tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Utilization reports used/available for the manager's budget.
func (m *Manager) Utilization(usedTokens uint64) float64 {
	return m.budget.Utilization(usedTokens)
}

// ShouldCompact reports whether a compaction should run now: enabled,
// over threshold, and outside the cooldown window.
func (m *Manager) ShouldCompact(usedTokens uint64) bool {
	if !m.cfg.Enabled {
		return false
	}
	if m.budget.Utilization(usedTokens) <= m.cfg.threshold() {
		return false
	}
	if !m.lastCompaction.IsZero() && m.now().Sub(m.lastCompaction) < m.cfg.Cooldown {
		return false
	}
	return true
}

// Compact rewrites h into [summary, ...protected tail] form. The system
// prompt is untouched (it lives on History.System, outside Entries). The
// protected tail is the suffix of Entries covering the most recent
// ProtectedTurns user entries together with everything after the first of
// them, so assistant and tool entries interleaved in those turns survive
// intact. Everything earlier is summarized into one synthetic assistant
// entry via summarize.
func (m *Manager) Compact(ctx context.Context, h history.History, summarize Summarizer) (history.History, error) {
	cut := protectedCut(h.Entries, m.cfg.ProtectedTurns)
	head, tail := h.Entries[:cut], h.Entries[cut:]

	summary := SummaryFallback
	if len(head) > 0 {
		s, err := summarize(ctx, head)
		if err != nil {
			return history.History{}, fmt.Errorf("context: summarize: %w", err)
		}
		if strings.TrimSpace(s) != "" {
			summary = s
		}
	}

	out := history.History{System: h.System}
	out.Append(history.Entry{
		Role:  history.RoleAssistant,
		Parts: []history.Part{history.Text("[Conversation summary]\n" + summary)},
	})
	out.Append(tail...)

	m.lastCompaction = m.now()
	return out, nil
}

// LastCompaction returns when the manager last compacted, zero if never.
func (m *Manager) LastCompaction() time.Time { return m.lastCompaction }

// protectedCut returns the index into entries where the protected tail
// begins: the position of the protectedTurns-th most recent user entry.
// protectedTurns == 0 protects nothing (cut == len(entries)).
func protectedCut(entries []history.Entry, protectedTurns int) int {
	if protectedTurns <= 0 {
		return len(entries)
	}
	seen := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == history.RoleUser {
			seen++
			if seen == protectedTurns {
				return i
			}
		}
	}
	// Fewer user turns than protectedTurns: protect the whole history.
	return 0
}

// EstimateHistoryTokens estimates the token footprint of a history,
// counting every part's text payload plus a small per-entry overhead.
func EstimateHistoryTokens(h history.History) uint64 {
	total := tokenbudget.EstimateTokens(h.System)
	for _, e := range h.Entries {
		total += 4
		for _, p := range e.Parts {
			total += tokenbudget.EstimateTokens(p.Text)
			total += tokenbudget.EstimateTokens(p.ReasoningText)
			total += tokenbudget.EstimateTokens(p.ToolCallArgs)
			total += tokenbudget.EstimateTokens(p.ToolResultContent)
		}
	}
	return uint64(total)
}

// RenderForSummary flattens entries into the plain-text form handed to
// the summarization model: one "role: text" line per entry, with tool
// calls and results rendered inline.
func RenderForSummary(entries []history.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		for _, p := range e.Parts {
			switch p.Kind {
			case history.PartText:
				b.WriteString(p.Text)
			case history.PartToolCall:
				fmt.Fprintf(&b, "[tool call %s(%s)]", p.ToolCallName, p.ToolCallArgs)
			case history.PartToolResult:
				fmt.Fprintf(&b, "[tool result: %s]", p.ToolResultContent)
			case history.PartReasoning:
				// Reasoning is provider-opaque; it does not feed the summary.
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
