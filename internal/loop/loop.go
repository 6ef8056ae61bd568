package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/approval"
	"github.com/qbit-ai/qbit/internal/coordinator"
	"github.com/qbit-ai/qbit/internal/events"
	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/internal/loopdetect"
	"github.com/qbit-ai/qbit/internal/observability"
	"github.com/qbit-ai/qbit/internal/plan"
	"github.com/qbit-ai/qbit/internal/sse"
	"github.com/qbit-ai/qbit/internal/subagent"
	"github.com/qbit-ai/qbit/internal/tokenbudget"
	"github.com/qbit-ai/qbit/internal/tools"
)

// Input is the per-invocation input to Run: everything that varies
// between a top-level turn and a sub-agent delegation.
type Input struct {
	TurnID       string
	Model        string
	SystemPrompt string
	History      history.History
	SubAgentCtx  subagent.Context
}

// Result is what one Run invocation produces.
type Result struct {
	FinalText string
	Reasoning string
	History   history.History
	Usage     tokenbudget.Usage
}

// Run executes the agentic loop: build a completion request, stream the
// response, append it to history, check context utilization, dispatch
// any tool calls, and repeat until the model stops requesting tools, a
// hard iteration limit is reached, or an unrecoverable provider error
// occurs.
func Run(ctx context.Context, cfg Config, deps Deps, in Input) (Result, error) {
	h := in.History
	tb := tokenbudget.ForModel(in.Model)
	var totalUsage tokenbudget.Usage

	detector := deps.Detector
	if detector == nil {
		detector = loopdetect.New()
	}

	var lastCompaction time.Time
	startedEmitted := false
	iteration := 0
	var pseudoCounter uint32

	for {
		if !startedEmitted {
			if deps.Scope == nil {
				deps.Coordinator.EmitEvent(events.Started{TurnID: in.TurnID})
			}
			startedEmitted = true
		}

		req := buildCompletionRequest(in.Model, in.SystemPrompt, h, deps.ToolDefs, cfg.MaxOutputTokens)

		iterCtx, span := observability.Tracer().Start(ctx, "qbit.loop.iteration",
			trace.WithAttributes(attribute.Int("iteration", iteration), attribute.String("model", in.Model)))
		outcome, err := streamIteration(iterCtx, cfg, deps, req)
		span.End()
		if err != nil {
			return Result{}, err
		}
		observability.Default.TokensUsed.WithLabelValues(in.Model, "input").Add(float64(outcome.usage.InputTokens))
		observability.Default.TokensUsed.WithLabelValues(in.Model, "output").Add(float64(outcome.usage.OutputTokens))

		toolCalls := outcome.toolCalls
		finalText := outcome.text
		if cfg.PseudoXMLToolCalls {
			extracted, remaining := sse.ExtractPseudoXMLToolCalls(finalText, &pseudoCounter)
			finalText = remaining
			for _, c := range extracted {
				toolCalls = append(toolCalls, toolCallAccum{ID: c.ID, Name: c.Name, Args: json.RawMessage(c.Arguments)})
			}
		}

		h.Append(buildAssistantEntry(outcome.reasoning, outcome.reasoningSig, finalText, toolCalls))
		totalUsage.Add(outcome.usage)

		if cfg.CompactionEnabled && deps.Summarize != nil {
			var err error
			h, lastCompaction, err = maybeCompact(ctx, cfg, deps, tb, h, lastCompaction, totalUsage)
			if err != nil {
				deps.Coordinator.EmitEvent(events.Warning{Message: fmt.Sprintf("compaction failed: %v", err)})
			}
		}

		if len(toolCalls) == 0 {
			emitCompleted(deps, finalText, outcome.reasoning, totalUsage, nil)
			return Result{FinalText: finalText, Reasoning: outcome.reasoning, History: h, Usage: totalUsage}, nil
		}

		for _, tc := range toolCalls {
			entry := dispatchToolCall(ctx, cfg, deps, detector, in, tc)
			h.Append(entry)
		}

		iteration++
		if iteration >= cfg.MaxIterations {
			deps.Coordinator.EmitEvent(events.MaxIterationsReached{Iterations: iteration})
			emitCompleted(deps, finalText, outcome.reasoning, totalUsage, nil)
			return Result{FinalText: finalText, Reasoning: outcome.reasoning, History: h, Usage: totalUsage}, nil
		}
	}
}

func emitCompleted(deps Deps, text, reasoning string, usage tokenbudget.Usage, duration *int64) {
	if deps.Scope != nil {
		return
	}
	in := usage.InputTokens
	out := usage.OutputTokens
	deps.Coordinator.EmitEvent(events.Completed{
		Response:     text,
		Reasoning:    reasoning,
		InputTokens:  &in,
		OutputTokens: &out,
		DurationMs:   duration,
	})
}

// iterationOutcome is the fully-accumulated result of one successful
// completion stream.
type iterationOutcome struct {
	text         string
	reasoning    string
	reasoningSig string
	toolCalls    []toolCallAccum
	usage        tokenbudget.Usage
}

// streamIteration opens a completion stream and consumes it, retrying
// with bounded exponential backoff on transient provider errors
// (network, 429, 5xx). Non-retryable or retry-exhausted errors emit an
// Error event and are returned to the caller, which is fatal to the
// turn.
func streamIteration(ctx context.Context, cfg Config, deps Deps, req *agent.CompletionRequest) (iterationOutcome, error) {
	backoff := cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		chunks, err := deps.Provider.Complete(ctx, req)
		if err == nil {
			outcome, streamErr := consumeChunks(deps, chunks)
			if streamErr == nil {
				return outcome, nil
			}
			err = streamErr
		}
		lastErr = err

		if !isRetryableProviderError(err) || attempt >= cfg.MaxRetries {
			deps.Coordinator.EmitEvent(events.Error{Message: err.Error(), ErrorType: "provider"})
			return iterationOutcome{}, err
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > cfg.MaxRetryBackoff {
				backoff = cfg.MaxRetryBackoff
			}
		case <-ctx.Done():
			deps.Coordinator.EmitEvent(events.Error{Message: ctx.Err().Error(), ErrorType: "cancelled"})
			return iterationOutcome{}, ctx.Err()
		}
	}
	return iterationOutcome{}, lastErr
}

// consumeChunks drains a completion stream, emitting TextDelta/Reasoning
// events as they arrive and accumulating the full turn text, reasoning,
// tool calls, and usage.
func consumeChunks(deps Deps, chunks <-chan *agent.CompletionChunk) (iterationOutcome, error) {
	var turnText strings.Builder
	var reasoning strings.Builder
	var reasoningSig string
	var toolCalls []toolCallAccum
	var usage tokenbudget.Usage
	var streamErr error

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			streamErr = chunk.Error
		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, toolCallAccum{ID: chunk.ToolCall.ID, Name: chunk.ToolCall.Name, Args: chunk.ToolCall.Input})
		case chunk.ThinkingSignature != "":
			reasoningSig = chunk.ThinkingSignature
		case chunk.Thinking != "":
			reasoning.WriteString(chunk.Thinking)
			deps.Coordinator.EmitEvent(events.Reasoning{Content: chunk.Thinking})
		case chunk.Text != "":
			turnText.WriteString(chunk.Text)
			deps.Coordinator.EmitEvent(events.TextDelta{Delta: chunk.Text, Accumulated: turnText.String()})
		}
		if chunk.Done {
			usage.InputTokens = uint64(chunk.InputTokens)
			usage.OutputTokens = uint64(chunk.OutputTokens)
		}
	}

	if streamErr != nil {
		return iterationOutcome{}, streamErr
	}
	return iterationOutcome{text: turnText.String(), reasoning: reasoning.String(), reasoningSig: reasoningSig, toolCalls: toolCalls, usage: usage}, nil
}

type toolCallAccum struct {
	ID   string
	Name string
	Args json.RawMessage
}

// buildAssistantEntry enforces the reasoning-before-text-and-tool-calls
// ordering invariant required by providers whose thinking blocks must
// lead the message (Anthropic, Gemini thinking).
func buildAssistantEntry(reasoning, signature, text string, calls []toolCallAccum) history.Entry {
	var reasoningParts []history.Part
	if reasoning != "" {
		reasoningParts = append(reasoningParts, history.Reasoning(reasoning, signature))
	}
	var rest []history.Part
	if text != "" {
		rest = append(rest, history.Text(text))
	}
	for _, c := range calls {
		rest = append(rest, history.ToolCall(c.ID, c.Name, string(c.Args)))
	}
	return history.AssistantEntry(reasoningParts, rest)
}

// dispatchToolCall routes a single tool call per step 8 of the
// algorithm: sub-agent delegation, plan updates, or the shared tool
// router, with approval gating and loop-detector enforcement in front of
// ordinary dispatch.
func dispatchToolCall(ctx context.Context, cfg Config, deps Deps, detector *loopdetect.Detector, in Input, tc toolCallAccum) history.Entry {
	requestID := uuid.NewString()
	source := events.MainSource
	if deps.Scope != nil {
		source = events.SubAgentSource(deps.Scope.AgentID, deps.Scope.AgentName)
	}

	if tools.IsSubAgentTool(tc.Name) && !cfg.IsSubAgent {
		content := delegateSubAgent(ctx, cfg, deps, in, requestID, tc)
		return history.ToolEntry(tc.ID, content)
	}

	if tools.NormalizeName(tc.Name) == tools.UpdatePlan {
		content := applyPlanUpdate(deps, tc.Args)
		return history.ToolEntry(tc.ID, content)
	}

	return executeOrdinaryTool(ctx, cfg, deps, detector, requestID, source, tc)
}

func applyPlanUpdate(deps Deps, args json.RawMessage) string {
	var payload struct {
		Explanation string `json:"explanation"`
		Plan        []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
		} `json:"plan"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Sprintf(`{"error":"invalid update_plan arguments: %s"}`, err)
	}

	steps := make([]plan.Step, 0, len(payload.Plan))
	for _, s := range payload.Plan {
		steps = append(steps, plan.Step{Text: s.Step, Status: plan.Status(s.Status)})
	}

	p, err := deps.Plans.Update(deps.SessionID, steps)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	views := make([]events.PlanStepView, len(p.Steps))
	for i, s := range p.Steps {
		views[i] = events.PlanStepView{Text: s.Text, Status: events.StepStatus(s.Status)}
	}
	deps.Coordinator.EmitEvent(events.PlanUpdated{
		Version: p.Version,
		Summary: events.PlanSummary{
			Total:      p.Summary.Total,
			Completed:  p.Summary.Completed,
			InProgress: p.Summary.InProgress,
			Pending:    p.Summary.Pending,
		},
		Steps:       views,
		Explanation: payload.Explanation,
	})

	out, _ := json.Marshal(map[string]any{"version": p.Version, "summary": p.Summary})
	return string(out)
}

// executeOrdinaryTool runs the approval cascade, loop-detector checks,
// and dispatch for every tool call that isn't a sub-agent delegation or
// a plan update.
func executeOrdinaryTool(ctx context.Context, cfg Config, deps Deps, detector *loopdetect.Detector, requestID string, source events.ToolSource, tc toolCallAccum) history.Entry {
	toolName := tools.RewriteAlias(tc.Name)
	args := normalizeToolArgs(tc.Name, tc.Args)

	emitToolRequest(deps, events.ToolRequest{ToolName: toolName, Args: args, RequestID: requestID, Source: source})

	eval := approval.Evaluate(deps.ApprovalPolicy, deps.ApprovalRecorder, toolName)
	switch eval.Decision {
	case approval.Deny:
		deps.Coordinator.EmitEvent(events.ToolDenied{RequestID: requestID, ToolName: toolName, Args: args, Reason: eval.Reason, Source: source})
		return history.ToolEntry(tc.ID, `{"error":"tool denied by policy"}`)

	case approval.RequireApproval:
		if cfg.RequireHITL {
			var stats *events.ApprovalStats
			if eval.Pattern.ToolName != "" {
				stats = &events.ApprovalStats{TotalRequests: eval.Pattern.TotalRequests, Approvals: eval.Pattern.Approvals, Denials: eval.Pattern.Denials}
			}
			deps.Coordinator.EmitEvent(events.ToolApprovalRequest{
				RequestID: requestID, ToolName: toolName, Args: args, Stats: stats,
				RiskLevel: events.RiskLevel(eval.RiskLevel), CanLearn: eval.CanLearn, Suggestion: eval.Suggestion, Source: source,
			})
			decision, err := coordinatorAwaitApproval(ctx, deps, requestID)
			if err != nil || !decision.Approved {
				observability.Default.ApprovalDecisions.WithLabelValues(toolName, "denied").Inc()
				deps.Coordinator.EmitEvent(events.ToolDenied{RequestID: requestID, ToolName: toolName, Args: args, Reason: "denied by operator", Source: source})
				if deps.ApprovalRecorder != nil {
					deps.ApprovalRecorder.Record(toolName, false, decision.Justification)
				}
				return history.ToolEntry(tc.ID, `{"error":"tool call denied"}`)
			}
			observability.Default.ApprovalDecisions.WithLabelValues(toolName, "approved").Inc()
			if deps.ApprovalRecorder != nil {
				deps.ApprovalRecorder.Record(toolName, true, decision.Justification)
			}
		}

	case approval.AutoAllow:
		observability.Default.ApprovalDecisions.WithLabelValues(toolName, "auto").Inc()
		deps.Coordinator.EmitEvent(events.ToolAutoApproved{RequestID: requestID, ToolName: toolName, Args: args, Reason: eval.Reason, Source: source})
	}

	argsHash := loopdetect.HashArgs(args)
	count := detector.Observe(toolName, argsHash)
	if detector.ShouldBlock(count) {
		observability.Default.LoopBlocks.WithLabelValues(toolName, "block").Inc()
		deps.Coordinator.EmitEvent(events.LoopBlocked{ToolName: toolName, Count: count, Max: detector.BlockAt(), Message: "repeated identical tool call blocked"})
		return history.ToolEntry(tc.ID, `{"error":"tool call blocked: repeated identical invocation"}`)
	}
	if detector.ShouldWarn(count) {
		observability.Default.LoopBlocks.WithLabelValues(toolName, "warn").Inc()
		deps.Coordinator.EmitEvent(events.LoopWarning{ToolName: toolName, Count: count, Max: detector.WarnAt(), Message: "tool called repeatedly with identical arguments"})
	}

	execCtx, span := observability.Tracer().Start(ctx, "qbit.tool.execute",
		trace.WithAttributes(attribute.String("tool_name", toolName)))
	start := time.Now()
	var result *tools.Result
	var err error
	if deps.Constraints != nil {
		result, err = deps.Router.DispatchForSubAgent(execCtx, deps.SessionID, toolName, args, *deps.Constraints)
	} else {
		result, err = deps.Router.Dispatch(execCtx, deps.SessionID, toolName, args)
	}
	span.End()
	if err != nil {
		result = &tools.Result{Content: err.Error(), IsError: true}
	}
	status := "success"
	if result.IsError {
		status = "error"
	}
	observability.Default.ToolExecutions.WithLabelValues(toolName, status).Inc()
	observability.Default.ToolExecutionSeconds.WithLabelValues(toolName).Observe(time.Since(start).Seconds())

	content := result.Content
	if tokenbudget.EstimateTokens(content) > tokenbudget.MaxToolResponseTokens {
		truncated := truncateToTokenBudget(content, tokenbudget.MaxToolResponseTokens)
		deps.Coordinator.EmitEvent(events.ToolResponseTruncated{
			ToolName:  toolName,
			Original:  tokenbudget.EstimateTokens(content),
			Truncated: tokenbudget.EstimateTokens(truncated),
		})
		content = truncated
	}

	emitToolResult(deps, events.ToolResult{ToolName: toolName, Result: content, Success: !result.IsError, RequestID: requestID, Source: source})

	return history.ToolEntry(tc.ID, content)
}

func emitToolRequest(deps Deps, e events.ToolRequest) {
	if deps.Scope != nil {
		deps.Coordinator.EmitEvent(events.SubAgentToolRequest{AgentID: deps.Scope.AgentID, ParentRequestID: deps.Scope.ParentRequestID, Inner: e})
		return
	}
	deps.Coordinator.EmitEvent(e)
}

func emitToolResult(deps Deps, e events.ToolResult) {
	if deps.Scope != nil {
		deps.Coordinator.EmitEvent(events.SubAgentToolResult{AgentID: deps.Scope.AgentID, ParentRequestID: deps.Scope.ParentRequestID, Inner: e})
		return
	}
	deps.Coordinator.EmitEvent(e)
}

func coordinatorAwaitApproval(ctx context.Context, deps Deps, requestID string) (coordinator.Decision, error) {
	ch := deps.Coordinator.RegisterApproval(requestID)
	select {
	case d, ok := <-ch:
		if !ok {
			return coordinator.Decision{}, fmt.Errorf("approval %s cancelled", requestID)
		}
		return d, nil
	case <-ctx.Done():
		return coordinator.Decision{}, ctx.Err()
	}
}

// truncateToTokenBudget trims s to roughly maxTokens worth of characters,
// matching tokenbudget.EstimateTokens' charsPerToken ratio.
func truncateToTokenBudget(s string, maxTokens int) string {
	const charsPerToken = 4
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n...[truncated]"
}

// normalizeToolArgs joins an array-form `command` field into a single
// literal string before the tool sees it, per the run_command/
// run_pty_cmd alias rule.
func normalizeToolArgs(toolName string, raw json.RawMessage) json.RawMessage {
	if tools.RewriteAlias(toolName) != tools.RunPtyCmd {
		return raw
	}
	var probe struct {
		Command json.RawMessage `json:"command"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe.Command) == 0 {
		return raw
	}
	var parts []string
	if err := json.Unmarshal(probe.Command, &parts); err != nil {
		return raw
	}
	joined := tools.NormalizeShellArgs(parts)

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	joinedJSON, _ := json.Marshal(joined)
	generic["command"] = joinedJSON
	out, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return out
}
