package approval

import (
	"time"

	"github.com/qbit-ai/qbit/internal/tools"
)

// Policy configures the approval cascade: explicit allow/deny lists take
// precedence over the learned recorder and the built-in risk table.
type Policy struct {
	Allowlist       []string
	Denylist        []string
	RequireApproval []string
	SafeBins        []string
	DefaultDecision Decision
	RequestTTL      time.Duration
}

// DefaultPolicy returns a policy with conservative defaults: tools whose
// baseline risk is above low default to requiring approval, and a small
// set of read-only shell utilities are pre-allowed. Tools absent from the
// built-in risk table have low baseline risk and are allowed.
func DefaultPolicy() Policy {
	return Policy{
		SafeBins:        []string{"cat", "head", "tail", "wc", "sort", "uniq", "grep"},
		DefaultDecision: RequireApproval,
		RequestTTL:      5 * time.Minute,
	}
}

// Evaluation is the result of running a tool call through the approval
// cascade: a decision, the risk level that produced it, whether the
// pattern is eligible for auto-promotion, and a human-facing suggestion.
type Evaluation struct {
	Decision   Decision
	RiskLevel  RiskLevel
	Reason     string
	CanLearn   bool
	Suggestion string
	Pattern    Pattern
}

// Evaluate runs toolName through the full cascade described in the
// spec: denylist, then explicit allowlist/safe-bins, then the learned
// always-allow pattern, then the built-in risk table, finally falling
// back to the policy's default decision.
func Evaluate(policy Policy, recorder *Recorder, toolName string) Evaluation {
	if tools.MatchesAny(policy.Denylist, toolName) {
		return Evaluation{Decision: Deny, Reason: "tool in denylist"}
	}
	if tools.MatchesAny(policy.Allowlist, toolName) {
		return Evaluation{Decision: Allow, Reason: "tool in allowlist"}
	}
	if tools.MatchesAny(policy.SafeBins, toolName) {
		return Evaluation{Decision: Allow, RiskLevel: RiskLow, Reason: "tool is safe bin"}
	}

	pattern := Pattern{ToolName: toolName}
	if recorder != nil {
		pattern = recorder.Get(toolName)
	}
	if pattern.AlwaysAllow {
		return Evaluation{Decision: AutoAllow, Reason: "learned always_allow", Pattern: pattern}
	}

	risk := BaselineRisk(toolName)
	if tools.MatchesAny(policy.RequireApproval, toolName) {
		return Evaluation{
			Decision:   RequireApproval,
			RiskLevel:  risk,
			Reason:     "tool requires approval",
			CanLearn:   pattern.CanLearn(),
			Suggestion: pattern.Suggestion(),
			Pattern:    pattern,
		}
	}

	if risk == RiskLow {
		return Evaluation{Decision: Allow, RiskLevel: risk, Reason: "low risk tool"}
	}

	decision := policy.DefaultDecision
	if decision == "" {
		decision = RequireApproval
	}
	return Evaluation{
		Decision:   decision,
		RiskLevel:  risk,
		Reason:     "default policy",
		CanLearn:   pattern.CanLearn(),
		Suggestion: pattern.Suggestion(),
		Pattern:    pattern,
	}
}
