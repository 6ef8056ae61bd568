package bridge

import (
	stdctx "context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/approval"
	"github.com/qbit-ai/qbit/internal/archive"
	"github.com/qbit-ai/qbit/internal/events"
	"github.com/qbit-ai/qbit/internal/plan"
	"github.com/qbit-ai/qbit/internal/subagent"
	"github.com/qbit-ai/qbit/internal/tools"
	"github.com/qbit-ai/qbit/pkg/models"
)

var toolCall = models.ToolCall{ID: "c1", Name: "list_files", Input: json.RawMessage(`{"path":"."}`)}

type fakeRuntime struct {
	mu        sync.Mutex
	envelopes []events.Envelope
}

func (r *fakeRuntime) Emit(env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}
func (r *fakeRuntime) IsInteractive() bool { return false }
func (r *fakeRuntime) AutoApprove() bool   { return true }

type cannedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *cannedProvider) Complete(_ stdctx.Context, _ *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.replies) {
		return nil, fmt.Errorf("no canned reply %d", p.calls)
	}
	reply := p.replies[p.calls]
	p.calls++
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: reply}
	ch <- &agent.CompletionChunk{Done: true, InputTokens: 5, OutputTokens: 5}
	close(ch)
	return ch, nil
}
func (p *cannedProvider) Name() string          { return "canned" }
func (p *cannedProvider) Models() []agent.Model { return nil }
func (p *cannedProvider) SupportsTools() bool   { return true }

func newShared(t *testing.T, provider agent.LLMProvider) *Shared {
	t.Helper()
	registry := tools.NewRegistry()
	return &Shared{
		Provider:       provider,
		Registry:       registry,
		Router:         tools.NewRouter(registry),
		SubAgents:      subagent.NewRegistry(),
		Plans:          plan.NewStore(),
		ApprovalPolicy: approval.DefaultPolicy(),
		Workspace:      t.TempDir(),
	}
}

func TestCreateRejectsBadWorkspace(t *testing.T) {
	shared := newShared(t, &cannedProvider{})
	shared.Workspace = "/nonexistent/workspace/path"

	m := NewManager()
	_, err := m.Create(shared, &fakeRuntime{}, Options{Model: "claude-4"})
	require.ErrorIs(t, err, ErrWorkspaceInaccessible)
	assert.Empty(t, m.Sessions())
}

func TestSendUserMessageExtendsHistory(t *testing.T) {
	provider := &cannedProvider{replies: []string{"hello there", "second reply"}}
	shared := newShared(t, provider)

	m := NewManager()
	runtime := &fakeRuntime{}
	b, err := m.Create(shared, runtime, Options{Model: "claude-4", SystemPrompt: "sys"})
	require.NoError(t, err)
	b.Coordinator().MarkFrontendReady()

	res, err := b.SendUserMessage(stdctx.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.FinalText)

	res, err = b.SendUserMessage(stdctx.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "second reply", res.FinalText)

	// user, assistant, user, assistant.
	h := b.History()
	require.Len(t, h.Entries, 4)
	assert.Equal(t, "sys", h.System)

	_, err = m.Shutdown(b.SessionID)
	require.NoError(t, err)
	assert.Empty(t, m.Sessions())
}

func TestShutdownArchivesSession(t *testing.T) {
	provider := &cannedProvider{replies: []string{"archived reply"}}
	shared := newShared(t, provider)
	archiveDir := t.TempDir()

	m := NewManager()
	b, err := m.Create(shared, &fakeRuntime{}, Options{
		Model:        "claude-4",
		ProviderName: "anthropic",
		ArchiveDir:   archiveDir,
	})
	require.NoError(t, err)
	b.Coordinator().MarkFrontendReady()

	_, err = b.SendUserMessage(stdctx.Background(), "hi")
	require.NoError(t, err)

	path, err := m.Shutdown(b.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, archiveDir, filepath.Dir(path))

	loaded, err := archive.Load(path)
	require.NoError(t, err)
	assert.Equal(t, b.SessionID, loaded.Metadata.SessionID)
	assert.Equal(t, "anthropic", loaded.Metadata.Provider)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "User", loaded.Messages[0].Role)
	assert.Equal(t, "Assistant", loaded.Messages[1].Role)
	assert.Equal(t, "archived reply", loaded.Messages[1].Content)
}

func TestConcurrentTurnRejected(t *testing.T) {
	provider := &cannedProvider{replies: []string{"r1"}}
	shared := newShared(t, provider)

	m := NewManager()
	b, err := m.Create(shared, &fakeRuntime{}, Options{Model: "claude-4"})
	require.NoError(t, err)

	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	_, err = b.SendUserMessage(stdctx.Background(), "hi")
	require.ErrorIs(t, err, ErrTurnInProgress)
}

func TestDistinctToolsTracked(t *testing.T) {
	provider := &toolOnceProvider{}
	shared := newShared(t, provider)
	shared.Registry.Register(stubTool{})

	m := NewManager()
	b, err := m.Create(shared, &fakeRuntime{}, Options{Model: "claude-4", ArchiveDir: t.TempDir()})
	require.NoError(t, err)

	_, err = b.SendUserMessage(stdctx.Background(), "list")
	require.NoError(t, err)

	path, err := m.Shutdown(b.SessionID)
	require.NoError(t, err)
	loaded, err := archive.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"list_files"}, loaded.DistinctTools)
}

// toolOnceProvider requests one list_files call, then finishes.
type toolOnceProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *toolOnceProvider) Complete(_ stdctx.Context, _ *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *agent.CompletionChunk, 2)
	if p.calls == 0 {
		ch <- &agent.CompletionChunk{ToolCall: &toolCall}
	} else {
		ch <- &agent.CompletionChunk{Text: "done"}
	}
	ch <- &agent.CompletionChunk{Done: true}
	p.calls++
	close(ch)
	return ch, nil
}
func (p *toolOnceProvider) Name() string          { return "tool-once" }
func (p *toolOnceProvider) Models() []agent.Model { return nil }
func (p *toolOnceProvider) SupportsTools() bool   { return true }

type stubTool struct{}

func (stubTool) Name() string { return "list_files" }
func (stubTool) Execute(_ stdctx.Context, _ json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: "a.go"}, nil
}
