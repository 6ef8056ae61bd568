package loop

import (
	stdctx "context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/approval"
	"github.com/qbit-ai/qbit/internal/coordinator"
	"github.com/qbit-ai/qbit/internal/events"
	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/internal/plan"
	"github.com/qbit-ai/qbit/internal/subagent"
	"github.com/qbit-ai/qbit/internal/tools"
	"github.com/qbit-ai/qbit/pkg/models"
)

// recordingRuntime captures every envelope the coordinator forwards.
type recordingRuntime struct {
	mu        sync.Mutex
	envelopes []events.Envelope
}

func (r *recordingRuntime) Emit(env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}

func (r *recordingRuntime) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.envelopes))
	for i, env := range r.envelopes {
		out[i] = env.Event.Kind()
	}
	return out
}

func (r *recordingRuntime) count(k events.Kind) int {
	n := 0
	for _, kk := range r.kinds() {
		if kk == k {
			n++
		}
	}
	return n
}

// scriptedProvider returns one canned chunk sequence per Complete call.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts [][]*agent.CompletionChunk
	calls   int
}

func (p *scriptedProvider) Complete(_ stdctx.Context, _ *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.scripts) {
		return nil, fmt.Errorf("no scripted response for call %d", p.calls)
	}
	script := p.scripts[p.calls]
	p.calls++

	ch := make(chan *agent.CompletionChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return true }

func textTurn(parts ...string) []*agent.CompletionChunk {
	var out []*agent.CompletionChunk
	for _, p := range parts {
		out = append(out, &agent.CompletionChunk{Text: p})
	}
	out = append(out, &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5})
	return out
}

func toolTurn(id, name, args string) []*agent.CompletionChunk {
	return []*agent.CompletionChunk{
		{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(args)}},
		{Done: true, InputTokens: 10, OutputTokens: 5},
	}
}

// echoTool replies with a fixed body regardless of args.
type echoTool struct {
	name string
	body string
}

func (e echoTool) Name() string { return e.name }
func (e echoTool) Execute(_ stdctx.Context, _ json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: e.body}, nil
}

type harness struct {
	runtime *recordingRuntime
	coord   *coordinator.Coordinator
	cancel  stdctx.CancelFunc
	deps    Deps
}

func newHarness(t *testing.T, provider agent.LLMProvider) *harness {
	t.Helper()
	runtime := &recordingRuntime{}
	coord := coordinator.New(runtime)
	ctx, cancel := stdctx.WithCancel(stdctx.Background())
	go coord.Run(ctx)
	coord.MarkFrontendReady()
	t.Cleanup(cancel)

	registry := tools.NewRegistry()
	registry.Register(echoTool{name: "read_file", body: "# README"})
	registry.Register(echoTool{name: "list_files", body: "a.go\nb.go"})

	return &harness{
		runtime: runtime,
		coord:   coord,
		cancel:  cancel,
		deps: Deps{
			Provider:       provider,
			Router:         tools.NewRouter(registry),
			SessionID:      "sess-1",
			ApprovalPolicy: approval.Policy{Allowlist: []string{"read_file", "list_files"}},
			Plans:          plan.NewStore(),
			SubAgents:      subagent.NewRegistry(),
			Coordinator:    coord,
		},
	}
}

// flush waits until every event emitted so far has been processed by the
// coordinator's single owner goroutine.
func (h *harness) flush() {
	h.coord.QueryState()
}

func TestSingleTurnNoTools(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*agent.CompletionChunk{textTurn("o", "k")}}
	h := newHarness(t, provider)

	in := Input{
		TurnID:       "turn-1",
		Model:        "claude-4-5-sonnet",
		SystemPrompt: "You are terse.",
		History:      history.New("You are terse.", history.UserEntry("Say 'ok'.")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false

	res, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.FinalText)
	assert.Equal(t, uint64(10), res.Usage.InputTokens)
	assert.Equal(t, uint64(5), res.Usage.OutputTokens)

	// History grew by exactly one assistant entry.
	require.Len(t, res.History.Entries, 2)
	assert.Equal(t, history.RoleAssistant, res.History.Entries[1].Role)
	assert.Equal(t, "ok", res.History.Entries[1].Text())

	h.flush()
	kinds := h.runtime.kinds()
	require.GreaterOrEqual(t, len(kinds), 4)
	assert.Equal(t, events.KindStarted, kinds[0])
	assert.Equal(t, events.KindTextDelta, kinds[1])
	assert.Equal(t, events.KindTextDelta, kinds[2])
	assert.Equal(t, events.KindCompleted, kinds[len(kinds)-1])

	// Envelope seq numbers are gap-free from zero.
	for i, env := range h.runtime.envelopes {
		assert.Equal(t, uint64(i), env.Seq)
	}
}

func TestReadFileRoundtrip(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*agent.CompletionChunk{
		toolTurn("call_1", "read_file", `{"path":"README.md"}`),
		textTurn("# README"),
	}}
	h := newHarness(t, provider)

	in := Input{
		TurnID:       "turn-1",
		Model:        "claude-4-5-sonnet",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("show README")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false

	res, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)
	assert.Equal(t, "# README", res.FinalText)

	// user, assistant(tool_call), tool_result, assistant(text).
	require.Len(t, res.History.Entries, 4)
	assert.Equal(t, history.RoleUser, res.History.Entries[0].Role)
	assert.True(t, res.History.Entries[1].HasToolCalls())
	assert.Equal(t, history.RoleTool, res.History.Entries[2].Role)
	assert.Equal(t, "call_1", res.History.Entries[2].Parts[0].ToolResultID)
	assert.Equal(t, history.RoleAssistant, res.History.Entries[3].Role)

	// Usage accumulated across both calls.
	assert.Equal(t, uint64(20), res.Usage.InputTokens)
	assert.Equal(t, uint64(10), res.Usage.OutputTokens)

	h.flush()
	assert.Equal(t, 1, h.runtime.count(events.KindToolRequest))
	assert.Equal(t, 1, h.runtime.count(events.KindToolResult))
}

func TestLoopBlockAfterRepeatedCalls(t *testing.T) {
	// Eleven iterations each requesting the identical list_files call,
	// then a final plain-text turn.
	var scripts [][]*agent.CompletionChunk
	for i := 0; i < 11; i++ {
		scripts = append(scripts, toolTurn(fmt.Sprintf("call_%d", i), "list_files", `{"path":"."}`))
	}
	scripts = append(scripts, textTurn("done"))
	provider := &scriptedProvider{scripts: scripts}
	h := newHarness(t, provider)

	in := Input{
		TurnID:       "turn-1",
		Model:        "claude-4-5-sonnet",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("list please")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false

	res, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)
	assert.Equal(t, "done", res.FinalText)

	h.flush()
	// Nine executions succeed, the 10th and 11th are blocked.
	assert.Equal(t, 9, h.runtime.count(events.KindToolResult))
	assert.Equal(t, 2, h.runtime.count(events.KindLoopBlocked))
	assert.GreaterOrEqual(t, h.runtime.count(events.KindLoopWarning), 1)
}

func TestMaxIterationsOne(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*agent.CompletionChunk{
		toolTurn("call_1", "read_file", `{"path":"a"}`),
	}}
	h := newHarness(t, provider)

	in := Input{
		TurnID:       "t",
		Model:        "claude-4",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("go")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false
	cfg.MaxIterations = 1

	_, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)

	h.flush()
	assert.Equal(t, 1, h.runtime.count(events.KindMaxIterationsReached))
	assert.Equal(t, 1, h.runtime.count(events.KindCompleted))
}

func TestUpdatePlanDispatch(t *testing.T) {
	planArgs := `{"explanation":"starting","plan":[{"step":"read code","status":"in_progress"},{"step":"fix bug","status":"pending"}]}`
	provider := &scriptedProvider{scripts: [][]*agent.CompletionChunk{
		toolTurn("call_1", "update_plan", planArgs),
		textTurn("planned"),
	}}
	h := newHarness(t, provider)

	in := Input{
		TurnID:       "t",
		Model:        "claude-4",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("plan this")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false

	_, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)

	p, ok := h.deps.Plans.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, uint32(1), p.Version)
	assert.Equal(t, 1, p.Summary.InProgress)
	assert.Equal(t, 1, p.Summary.Pending)

	h.flush()
	assert.Equal(t, 1, h.runtime.count(events.KindPlanUpdated))
}

func TestSubAgentDelegation(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*agent.CompletionChunk{
		// Parent iteration 1: delegate.
		toolTurn("call_1", "sub_agent_researcher", `{"task":"find the bug"}`),
		// Child iteration 1: answer directly.
		textTurn("the bug is in parser.go"),
		// Parent iteration 2: final answer.
		textTurn("fixed"),
	}}
	h := newHarness(t, provider)

	require.NoError(t, h.deps.SubAgents.Register(subagent.Definition{
		ID:            "researcher",
		Name:          "Researcher",
		SystemPrompt:  "You research.",
		AllowedTools:  []string{"read_file", "grep"},
		MaxIterations: 10,
	}))

	in := Input{
		TurnID:       "t",
		Model:        "claude-4",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("delegate")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false

	res, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.FinalText)

	// The child's final text became the tool-result content.
	assert.Equal(t, "the bug is in parser.go", res.History.Entries[2].Parts[0].ToolResultContent)

	h.flush()
	assert.Equal(t, 1, h.runtime.count(events.KindSubAgentStarted))
	assert.Equal(t, 1, h.runtime.count(events.KindSubAgentCompleted))
	// Exactly one top-level Started and one Completed despite the nested run.
	assert.Equal(t, 1, h.runtime.count(events.KindStarted))
	assert.Equal(t, 1, h.runtime.count(events.KindCompleted))
}

func TestSubAgentDepthExceeded(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*agent.CompletionChunk{
		toolTurn("call_1", "sub_agent_researcher", `{"task":"x"}`),
		textTurn("gave up"),
	}}
	h := newHarness(t, provider)
	require.NoError(t, h.deps.SubAgents.Register(subagent.Definition{ID: "researcher", MaxIterations: 5}))

	in := Input{
		TurnID:       "t",
		Model:        "claude-4",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("go")),
		SubAgentCtx:  subagent.Context{Depth: subagent.MaxAgentDepth},
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false

	res, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)

	// The delegation was refused with a structured error in the tool result.
	assert.Contains(t, res.History.Entries[2].Parts[0].ToolResultContent, "depth")
	h.flush()
	assert.Equal(t, 0, h.runtime.count(events.KindSubAgentStarted))
}

func TestPseudoXMLToolCallExtraction(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*agent.CompletionChunk{
		textTurn(`Let me look. <tool_call>{"name":"read_file","arguments":{"path":"a.go"}}</tool_call>`),
		textTurn("read it"),
	}}
	h := newHarness(t, provider)

	in := Input{
		TurnID:       "t",
		Model:        "glm-4.6",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("go")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false
	cfg.PseudoXMLToolCalls = true

	res, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)
	assert.Equal(t, "read it", res.FinalText)

	// The matched block is stripped from the assistant text and executed.
	assert.NotContains(t, res.History.Entries[1].Text(), "<tool_call>")
	h.flush()
	assert.Equal(t, 1, h.runtime.count(events.KindToolRequest))
	assert.Equal(t, 1, h.runtime.count(events.KindToolResult))
}

func TestRetryOnTransientProviderError(t *testing.T) {
	attempts := 0
	provider := providerFunc(func(ctx stdctx.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("http 529: overloaded")
		}
		ch := make(chan *agent.CompletionChunk, 2)
		ch <- &agent.CompletionChunk{Text: "ok"}
		ch <- &agent.CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	})
	h := newHarness(t, provider)

	in := Input{
		TurnID:       "t",
		Model:        "claude-4",
		SystemPrompt: "sys",
		History:      history.New("sys", history.UserEntry("go")),
	}
	cfg := DefaultConfig()
	cfg.CompactionEnabled = false
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxRetryBackoff = 2 * time.Millisecond

	res, err := Run(stdctx.Background(), cfg, h.deps, in)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.FinalText)
	assert.Equal(t, 2, attempts)
}

// providerFunc adapts a function to agent.LLMProvider for tests.
type providerFunc func(ctx stdctx.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error)

func (f providerFunc) Complete(ctx stdctx.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return f(ctx, req)
}
func (providerFunc) Name() string          { return "func" }
func (providerFunc) Models() []agent.Model { return nil }
func (providerFunc) SupportsTools() bool   { return true }

func TestNormalizeToolArgsJoinsCommandArray(t *testing.T) {
	raw := json.RawMessage(`{"command":["ls","-la","|","grep","foo"],"timeout_ms":1000}`)
	out := normalizeToolArgs("run_command", raw)

	var decoded struct {
		Command   string `json:"command"`
		TimeoutMs int    `json:"timeout_ms"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "ls -la | grep foo", decoded.Command)
	assert.Equal(t, 1000, decoded.TimeoutMs)

	// Normalizing twice equals normalizing once.
	again := normalizeToolArgs("run_pty_cmd", out)
	assert.JSONEq(t, string(out), string(again))
}
