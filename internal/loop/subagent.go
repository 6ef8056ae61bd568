package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qbit-ai/qbit/internal/events"
	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/internal/loopdetect"
	"github.com/qbit-ai/qbit/internal/tools"
)

// delegateSubAgent executes a sub_agent_{id} tool call as a fresh nested
// Run with the definition's system prompt, tool whitelist, and iteration
// ceiling. The child owns its own history and loop detector but borrows
// every shared registry from the parent. Its final text becomes the
// tool-result content handed back to the delegating model.
func delegateSubAgent(ctx context.Context, cfg Config, deps Deps, in Input, requestID string, tc toolCallAccum) string {
	id := tools.SubAgentID(tc.Name)

	def, err := deps.SubAgents.Get(id)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	task := subAgentTask(tc.Args)
	childCtx, err := in.SubAgentCtx.Child(task)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	deps.Coordinator.EmitEvent(events.SubAgentStarted{AgentID: def.ID, ParentRequestID: requestID})
	start := deps.now()

	childModel := in.Model
	if def.ModelOverride != nil && def.ModelOverride.Model != "" {
		childModel = def.ModelOverride.Model
	}

	childCfg := cfg
	childCfg.IsSubAgent = true
	childCfg.MaxIterations = def.MaxIterations
	// Compaction state is per-run; a bounded delegation rarely needs it
	// but inherits the parent's settings unchanged.

	childDeps := deps
	childDeps.Scope = &Scope{AgentID: def.ID, AgentName: def.Name, ParentRequestID: requestID}
	childDeps.Constraints = &tools.SubAgentConstraints{AllowedTools: def.AllowedTools}
	childDeps.Detector = loopdetect.New()

	childIn := Input{
		TurnID:       uuid.NewString(),
		Model:        childModel,
		SystemPrompt: def.SystemPrompt,
		History:      history.New(def.SystemPrompt, history.UserEntry(task)),
		SubAgentCtx:  childCtx,
	}

	result, err := Run(ctx, childCfg, childDeps, childIn)
	elapsed := deps.now().Sub(start) / time.Millisecond
	if err != nil {
		deps.Coordinator.EmitEvent(events.SubAgentError{AgentID: def.ID, ParentRequestID: requestID, Message: err.Error()})
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	deps.Coordinator.EmitEvent(events.SubAgentCompleted{
		AgentID:         def.ID,
		ParentRequestID: requestID,
		Response:        result.FinalText,
		DurationMs:      int64(elapsed),
	})
	return result.FinalText
}

// subAgentTask extracts the task text from the delegation arguments,
// accepting either {"task": "..."} (the advertised schema) or a bare JSON
// string, falling back to the raw argument body.
func subAgentTask(args json.RawMessage) string {
	var payload struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(args, &payload); err == nil && payload.Task != "" {
		return payload.Task
	}
	var bare string
	if err := json.Unmarshal(args, &bare); err == nil && bare != "" {
		return bare
	}
	return string(args)
}
