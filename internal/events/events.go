// Package events defines the tagged-union event model emitted by the
// agentic loop, sub-agent executor, and terminal manager. Every event
// carries a Kind discriminant so it can be wrapped in an Envelope and
// serialized without reflection tricks.
package events

import "encoding/json"

// Kind discriminates the AiEvent variants.
type Kind string

const (
	KindStarted             Kind = "started"
	KindTextDelta            Kind = "text_delta"
	KindReasoning            Kind = "reasoning"
	KindToolRequest          Kind = "tool_request"
	KindToolApprovalRequest  Kind = "tool_approval_request"
	KindToolAutoApproved     Kind = "tool_auto_approved"
	KindToolDenied           Kind = "tool_denied"
	KindToolResult           Kind = "tool_result"
	KindSubAgentStarted      Kind = "sub_agent_started"
	KindSubAgentToolRequest  Kind = "sub_agent_tool_request"
	KindSubAgentToolResult   Kind = "sub_agent_tool_result"
	KindSubAgentCompleted    Kind = "sub_agent_completed"
	KindSubAgentError        Kind = "sub_agent_error"
	KindPlanUpdated          Kind = "plan_updated"
	KindContextWarning       Kind = "context_warning"
	KindToolResponseTruncated Kind = "tool_response_truncated"
	KindLoopWarning          Kind = "loop_warning"
	KindLoopBlocked          Kind = "loop_blocked"
	KindMaxIterationsReached Kind = "max_iterations_reached"
	KindCompleted            Kind = "completed"
	KindError                Kind = "error"
	KindWarning              Kind = "warning"
)

// SourceKind distinguishes where a tool-related event originated.
type SourceKind string

const (
	SourceMain     SourceKind = "main"
	SourceSubAgent SourceKind = "sub_agent"
	SourceWorkflow SourceKind = "workflow"
)

// ToolSource identifies the originator of a tool-related event.
type ToolSource struct {
	Kind           SourceKind `json:"kind"`
	AgentID        string     `json:"agent_id,omitempty"`
	AgentName      string     `json:"agent_name,omitempty"`
	WorkflowID     string     `json:"workflow_id,omitempty"`
	WorkflowName   string     `json:"workflow_name,omitempty"`
	StepName       string     `json:"step_name,omitempty"`
	StepIndex      *int       `json:"step_index,omitempty"`
}

// MainSource is the zero-value originator for the top-level agent.
var MainSource = ToolSource{Kind: SourceMain}

// SubAgentSource builds a ToolSource for a delegated sub-agent.
func SubAgentSource(agentID, agentName string) ToolSource {
	return ToolSource{Kind: SourceSubAgent, AgentID: agentID, AgentName: agentName}
}

// AiEvent is implemented by every concrete event payload.
type AiEvent interface {
	Kind() Kind
}

// Envelope wraps an AiEvent with a monotonic, gap-free per-session
// sequence number and an RFC-3339 timestamp.
type Envelope struct {
	Seq   uint64    `json:"seq"`
	Ts    string    `json:"ts"`
	Event AiEvent   `json:"event"`
}

// MarshalJSON flattens the event's kind and fields alongside seq/ts so the
// envelope serializes as a single flat object, matching the wire shape the
// frontend runtime expects (RuntimeEvent::AiEnvelope).
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for k, v := range fields {
		out[k] = v
	}
	seqBytes, _ := json.Marshal(e.Seq)
	tsBytes, _ := json.Marshal(e.Ts)
	kindBytes, _ := json.Marshal(e.Event.Kind())
	out["seq"] = seqBytes
	out["ts"] = tsBytes
	out["kind"] = kindBytes
	return json.Marshal(out)
}

type Started struct {
	TurnID string `json:"turn_id"`
}

func (Started) Kind() Kind { return KindStarted }

type TextDelta struct {
	Delta      string `json:"delta"`
	Accumulated string `json:"accumulated"`
}

func (TextDelta) Kind() Kind { return KindTextDelta }

type Reasoning struct {
	Content string `json:"content"`
}

func (Reasoning) Kind() Kind { return KindReasoning }

type ToolRequest struct {
	ToolName  string          `json:"tool_name"`
	Args      json.RawMessage `json:"args"`
	RequestID string          `json:"request_id"`
	Source    ToolSource      `json:"source"`
}

func (ToolRequest) Kind() Kind { return KindToolRequest }

// ApprovalStats is the snapshot of an ApprovalPattern surfaced to the UI
// when asking for human-in-the-loop approval.
type ApprovalStats struct {
	TotalRequests uint64 `json:"total_requests"`
	Approvals     uint64 `json:"approvals"`
	Denials       uint64 `json:"denials"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type ToolApprovalRequest struct {
	RequestID  string         `json:"request_id"`
	ToolName   string         `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	Stats      *ApprovalStats `json:"stats,omitempty"`
	RiskLevel  RiskLevel      `json:"risk_level"`
	CanLearn   bool           `json:"can_learn"`
	Suggestion string         `json:"suggestion,omitempty"`
	Source     ToolSource     `json:"source"`
}

func (ToolApprovalRequest) Kind() Kind { return KindToolApprovalRequest }

type ToolAutoApproved struct {
	RequestID string     `json:"request_id"`
	ToolName  string     `json:"tool_name"`
	Args      json.RawMessage `json:"args"`
	Reason    string     `json:"reason"`
	Source    ToolSource `json:"source"`
}

func (ToolAutoApproved) Kind() Kind { return KindToolAutoApproved }

type ToolDenied struct {
	RequestID string     `json:"request_id"`
	ToolName  string     `json:"tool_name"`
	Args      json.RawMessage `json:"args"`
	Reason    string     `json:"reason"`
	Source    ToolSource `json:"source"`
}

func (ToolDenied) Kind() Kind { return KindToolDenied }

type ToolResult struct {
	ToolName  string     `json:"tool_name"`
	Result    string     `json:"result"`
	Success   bool       `json:"success"`
	RequestID string     `json:"request_id"`
	Source    ToolSource `json:"source"`
}

func (ToolResult) Kind() Kind { return KindToolResult }

type SubAgentStarted struct {
	AgentID         string `json:"agent_id"`
	ParentRequestID string `json:"parent_request_id"`
}

func (SubAgentStarted) Kind() Kind { return KindSubAgentStarted }

type SubAgentToolRequest struct {
	AgentID         string `json:"agent_id"`
	ParentRequestID string `json:"parent_request_id"`
	Inner           ToolRequest `json:"inner"`
}

func (SubAgentToolRequest) Kind() Kind { return KindSubAgentToolRequest }

type SubAgentToolResult struct {
	AgentID         string `json:"agent_id"`
	ParentRequestID string `json:"parent_request_id"`
	Inner           ToolResult `json:"inner"`
}

func (SubAgentToolResult) Kind() Kind { return KindSubAgentToolResult }

type SubAgentCompleted struct {
	AgentID         string `json:"agent_id"`
	ParentRequestID string `json:"parent_request_id"`
	Response        string `json:"response"`
	DurationMs      int64  `json:"duration_ms"`
}

func (SubAgentCompleted) Kind() Kind { return KindSubAgentCompleted }

type SubAgentError struct {
	AgentID         string `json:"agent_id"`
	ParentRequestID string `json:"parent_request_id"`
	Message         string `json:"message"`
}

func (SubAgentError) Kind() Kind { return KindSubAgentError }

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

type PlanStepView struct {
	Text   string     `json:"text"`
	Status StepStatus `json:"status"`
}

type PlanSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
}

type PlanUpdated struct {
	Version     uint32         `json:"version"`
	Summary     PlanSummary    `json:"summary"`
	Steps       []PlanStepView `json:"steps"`
	Explanation string         `json:"explanation,omitempty"`
}

func (PlanUpdated) Kind() Kind { return KindPlanUpdated }

type ContextWarning struct {
	Utilization float64 `json:"utilization"`
	TotalTokens uint64  `json:"total_tokens"`
	MaxTokens   uint64  `json:"max_tokens"`
}

func (ContextWarning) Kind() Kind { return KindContextWarning }

type ToolResponseTruncated struct {
	ToolName string `json:"tool_name"`
	Original int    `json:"original_tokens"`
	Truncated int   `json:"truncated_tokens"`
}

func (ToolResponseTruncated) Kind() Kind { return KindToolResponseTruncated }

type LoopWarning struct {
	ToolName string `json:"tool_name"`
	Count    int    `json:"count"`
	Max      int    `json:"max"`
	Message  string `json:"message"`
}

func (LoopWarning) Kind() Kind { return KindLoopWarning }

type LoopBlocked struct {
	ToolName string `json:"tool_name"`
	Count    int    `json:"count"`
	Max      int    `json:"max"`
	Message  string `json:"message"`
}

func (LoopBlocked) Kind() Kind { return KindLoopBlocked }

type MaxIterationsReached struct {
	Iterations int `json:"iterations"`
}

func (MaxIterationsReached) Kind() Kind { return KindMaxIterationsReached }

type Completed struct {
	Response     string  `json:"response"`
	Reasoning    string  `json:"reasoning,omitempty"`
	InputTokens  *uint64 `json:"input_tokens,omitempty"`
	OutputTokens *uint64 `json:"output_tokens,omitempty"`
	DurationMs   *int64  `json:"duration_ms,omitempty"`
}

func (Completed) Kind() Kind { return KindCompleted }

type Error struct {
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

func (Error) Kind() Kind { return KindError }

type Warning struct {
	Message string `json:"message"`
}

func (Warning) Kind() Kind { return KindWarning }

// IsTranscriptable reports whether an event should be appended to the
// per-session transcript file. Streaming fragments and sub-agent internal
// events are excluded per the event coordinator's EmitEvent contract.
func IsTranscriptable(e AiEvent) bool {
	switch e.Kind() {
	case KindTextDelta, KindReasoning,
		KindSubAgentToolRequest, KindSubAgentToolResult:
		return false
	default:
		return true
	}
}
