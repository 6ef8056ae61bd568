// Package loop implements the agentic loop: the core state machine that
// drives one turn (or one sub-agent delegation) from an initial message
// history through repeated completion-and-tool-dispatch iterations until
// the model stops requesting tools or a hard limit is hit. It is grounded
// on internal/agent/failover.go's retry/backoff idiom and
// internal/agent/loop.go's overall shape, generalized to the typed
// internal/history message model and the event-coordinator/approval/
// loop-detector/plan/sub-agent packages built alongside it.
package loop

import "time"

// Config tunes one Run invocation. Run uses every field as given;
// DefaultConfig returns the standard tuning for a top-level turn.
type Config struct {
	// RequireHITL gates whether tools needing approval actually pause for
	// a human decision, or run straight through (used by sub-agents that
	// inherit a blanket allow).
	RequireHITL bool

	// IsSubAgent marks this Run as a nested delegation rather than the
	// top-level turn; it suppresses Started/Completed emission (the
	// delegating call emits SubAgentStarted/SubAgentCompleted instead)
	// and disables further sub_agent_* delegation.
	IsSubAgent bool

	Temperature     float64
	MaxOutputTokens int
	MaxIterations   int

	CompactionEnabled   bool
	CompactionThreshold float64
	ProtectedTurns      int
	CompactionCooldown  time.Duration

	// PseudoXMLToolCalls enables <tool_call>{...}</tool_call> extraction
	// from the text stream, for providers (Z.AI/GLM) without native
	// tool-calling deltas.
	PseudoXMLToolCalls bool

	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// MaxAgentIterations is the hard iteration ceiling for one turn.
const MaxAgentIterations = 50

// DefaultConfig returns the default tuning for a top-level turn.
func DefaultConfig() Config {
	return Config{
		RequireHITL:         true,
		Temperature:         0.3,
		MaxOutputTokens:     4096,
		MaxIterations:       MaxAgentIterations,
		CompactionEnabled:   true,
		CompactionThreshold: 0.75,
		ProtectedTurns:      3,
		CompactionCooldown:  2 * time.Minute,
		MaxRetries:          2,
		RetryBackoff:        500 * time.Millisecond,
		MaxRetryBackoff:     8 * time.Second,
	}
}
