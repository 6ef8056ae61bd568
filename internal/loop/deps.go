package loop

import (
	"context"
	"time"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/approval"
	"github.com/qbit-ai/qbit/internal/coordinator"
	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/internal/loopdetect"
	"github.com/qbit-ai/qbit/internal/plan"
	"github.com/qbit-ai/qbit/internal/subagent"
	"github.com/qbit-ai/qbit/internal/tools"
)

// Scope identifies a sub-agent delegation a Run invocation is nested
// under, so tool events can be wrapped in the SubAgent* event variants
// instead of the plain ones a top-level turn emits.
type Scope struct {
	AgentID         string
	AgentName       string
	ParentRequestID string
}

// Summarizer produces a single synthetic assistant message summarizing
// everything in h before the protected tail, used by the context-manager
// compaction step (§4.7). A nil Summarizer disables compaction
// regardless of Config.CompactionEnabled.
type Summarizer func(ctx context.Context, h history.History) (string, error)

// Deps bundles every shared-resource handle the loop needs. SessionID
// scopes the tool router's per-session serialization lock and the plan
// store's per-session plan. Constraints is nil for the top-level turn
// and set to the delegating definition's allowlist for a sub-agent run.
type Deps struct {
	Provider agent.LLMProvider
	ToolDefs []agent.Tool

	Router    *tools.Router
	SessionID string

	ApprovalPolicy   approval.Policy
	ApprovalRecorder *approval.Recorder

	Plans *plan.Store

	SubAgents *subagent.Registry

	Coordinator *coordinator.Coordinator

	Summarize Summarizer

	Constraints *tools.SubAgentConstraints
	Scope       *Scope

	Detector *loopdetect.Detector

	Clock func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}
