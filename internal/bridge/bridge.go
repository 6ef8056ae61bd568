// Package bridge owns per-session agent state. A Bridge is the single
// owner of its agentic-loop invocations, message history, loop detector,
// and event-coordinator handle; registries, the approval recorder, the
// plan store, and the workspace path are shared across bridges. Bridges
// live in a process-wide Manager map so multiple sessions (UI tabs) run
// concurrently without blocking each other.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/approval"
	"github.com/qbit-ai/qbit/internal/archive"
	ctxwin "github.com/qbit-ai/qbit/internal/context"
	"github.com/qbit-ai/qbit/internal/coordinator"
	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/internal/loop"
	"github.com/qbit-ai/qbit/internal/loopdetect"
	"github.com/qbit-ai/qbit/internal/plan"
	"github.com/qbit-ai/qbit/internal/subagent"
	"github.com/qbit-ai/qbit/internal/tools"
)

// Runtime is the frontend contract from the bridge's point of view: the
// coordinator's event sink plus the interactivity probes the CLI and
// desktop shells answer differently.
type Runtime interface {
	coordinator.Runtime
	IsInteractive() bool
	AutoApprove() bool
}

// Shared bundles the process-wide resources every bridge borrows.
type Shared struct {
	Provider agent.LLMProvider
	ToolDefs []agent.Tool

	Registry  *tools.Registry
	Router    *tools.Router
	SubAgents *subagent.Registry
	Plans     *plan.Store

	ApprovalPolicy   approval.Policy
	ApprovalRecorder *approval.Recorder

	Workspace string
}

// Options configures one session bridge.
type Options struct {
	SessionID    string // generated when empty
	Model        string
	ProviderName string
	SystemPrompt string
	LoopConfig   loop.Config

	Transcript coordinator.Transcript

	// ArchiveDir receives the session snapshot on Shutdown; empty
	// disables archiving.
	ArchiveDir string
}

// ErrWorkspaceInaccessible is returned at bridge init when the shared
// workspace path doesn't resolve to a readable directory. Configuration
// errors are fatal at init: no bridge is created.
var ErrWorkspaceInaccessible = errors.New("bridge: workspace inaccessible")

// Bridge is the per-session owner.
type Bridge struct {
	SessionID string

	model        string
	systemPrompt string
	cfg          loop.Config

	shared *Shared
	coord  *coordinator.Coordinator
	arch   *archive.SessionArchive
	archiveDir string

	cancel context.CancelFunc

	mu       sync.Mutex
	hist     history.History
	detector *loopdetect.Detector
	tools    map[string]bool
	turns    int
	running  bool
}

// Manager is the process-wide session map. Lookups copy the bridge
// pointer and release the map lock immediately, so one session's
// multi-second turn never blocks another session's init or shutdown.
type Manager struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{bridges: make(map[string]*Bridge)}
}

// Create validates configuration, builds a bridge, starts its
// coordinator goroutine, and registers it. Fatal configuration errors
// (inaccessible workspace, missing provider) return before any state is
// created.
func (m *Manager) Create(shared *Shared, runtime Runtime, opts Options) (*Bridge, error) {
	if shared.Provider == nil {
		return nil, errors.New("bridge: no provider configured")
	}
	info, err := os.Stat(shared.Workspace)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceInaccessible, shared.Workspace)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	coordOpts := []coordinator.Option{}
	if opts.Transcript != nil {
		coordOpts = append(coordOpts, coordinator.WithTranscript(opts.Transcript))
	}
	coord := coordinator.New(runtime, coordOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	cfg := opts.LoopConfig
	if cfg.MaxIterations == 0 {
		cfg = loop.DefaultConfig()
	}
	if runtime.AutoApprove() || !runtime.IsInteractive() {
		cfg.RequireHITL = false
	}

	b := &Bridge{
		SessionID:    sessionID,
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		cfg:          cfg,
		shared:       shared,
		coord:        coord,
		archiveDir:   opts.ArchiveDir,
		cancel:       cancel,
		hist:         history.History{System: opts.SystemPrompt},
		detector:     loopdetect.New(),
		tools:        make(map[string]bool),
	}
	b.arch = archive.New(archive.Metadata{
		SessionID:      sessionID,
		WorkspaceLabel: filepath.Base(shared.Workspace),
		WorkspacePath:  shared.Workspace,
		Model:          opts.Model,
		Provider:       opts.ProviderName,
	})

	m.mu.Lock()
	m.bridges[sessionID] = b
	m.mu.Unlock()
	return b, nil
}

// Get returns the bridge for sessionID, if registered.
func (m *Manager) Get(sessionID string) (*Bridge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bridges[sessionID]
	return b, ok
}

// Shutdown tears down the session: it unregisters the bridge, stops its
// coordinator (which closes pending approvals), and archives the
// session snapshot. Returns the archive path, empty when archiving is
// disabled.
func (m *Manager) Shutdown(sessionID string) (string, error) {
	m.mu.Lock()
	b, ok := m.bridges[sessionID]
	delete(m.bridges, sessionID)
	m.mu.Unlock()
	if !ok {
		return "", nil
	}
	return b.shutdown()
}

// Sessions lists the registered session IDs.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bridges))
	for id := range m.bridges {
		out = append(out, id)
	}
	return out
}

// Coordinator exposes the bridge's event coordinator to frontends that
// need to resolve approvals or mark themselves ready.
func (b *Bridge) Coordinator() *coordinator.Coordinator { return b.coord }

// History returns a copy of the current message history.
func (b *Bridge) History() history.History {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hist.Clone()
}

// ErrTurnInProgress is returned when a user message arrives while a
// prior turn is still running; the bridge serializes turns.
var ErrTurnInProgress = errors.New("bridge: a turn is already in progress")

// SendUserMessage runs one full agentic-loop turn for text and returns
// the loop's result. The bridge's history is extended in place; the loop
// detector's lifetime is per turn.
func (b *Bridge) SendUserMessage(ctx context.Context, text string) (loop.Result, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return loop.Result{}, ErrTurnInProgress
	}
	b.running = true
	b.hist.Append(history.UserEntry(text))
	h := b.hist.Clone()
	b.detector = loopdetect.New()
	detector := b.detector
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	deps := loop.Deps{
		Summarize:        summarizer(b.shared.Provider, b.model),
		Provider:         b.shared.Provider,
		ToolDefs:         b.shared.ToolDefs,
		Router:           b.shared.Router,
		SessionID:        b.SessionID,
		ApprovalPolicy:   b.shared.ApprovalPolicy,
		ApprovalRecorder: b.shared.ApprovalRecorder,
		Plans:            b.shared.Plans,
		SubAgents:        b.shared.SubAgents,
		Coordinator:      b.coord,
		Detector:         detector,
	}

	result, err := loop.Run(ctx, b.cfg, deps, loop.Input{
		TurnID:       uuid.NewString(),
		Model:        b.model,
		SystemPrompt: b.systemPrompt,
		History:      h,
	})
	if err != nil {
		return loop.Result{}, err
	}

	b.mu.Lock()
	b.hist = result.History
	b.turns++
	for _, e := range result.History.Entries {
		for _, p := range e.Parts {
			if p.Kind == history.PartToolCall {
				b.tools[p.ToolCallName] = true
			}
		}
	}
	b.mu.Unlock()
	return result, nil
}

// shutdown stops the coordinator and writes the session archive.
func (b *Bridge) shutdown() (string, error) {
	b.coord.Shutdown()
	b.cancel()

	if b.archiveDir == "" {
		return "", nil
	}

	b.mu.Lock()
	var records []archive.MessageRecord
	for _, e := range b.hist.Entries {
		records = append(records, toRecord(e))
	}
	distinct := make([]string, 0, len(b.tools))
	for name := range b.tools {
		distinct = append(distinct, name)
	}
	b.mu.Unlock()

	b.arch.Finalize(nil, len(records), distinct, records)
	return b.arch.Save(b.archiveDir)
}

// summarizer builds the compaction summary call: a single dedicated
// completion over the flattened head of the history.
func summarizer(provider agent.LLMProvider, model string) loop.Summarizer {
	return func(ctx context.Context, h history.History) (string, error) {
		req := &agent.CompletionRequest{
			Model:  model,
			System: "You summarize coding-assistant conversations. Capture the user's goals, decisions made, files touched, and any unresolved work, compactly.",
			Messages: []agent.CompletionMessage{
				{Role: "user", Content: ctxwin.RenderForSummary(h.Entries)},
			},
			MaxTokens: 1024,
		}
		chunks, err := provider.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		var out strings.Builder
		for chunk := range chunks {
			if chunk.Error != nil {
				return "", chunk.Error
			}
			out.WriteString(chunk.Text)
		}
		return out.String(), nil
	}
}

// toRecord flattens a history entry into the archive's PascalCase-role
// message shape.
func toRecord(e history.Entry) archive.MessageRecord {
	rec := archive.MessageRecord{}
	switch e.Role {
	case history.RoleUser:
		rec.Role = "User"
	case history.RoleAssistant:
		rec.Role = "Assistant"
	case history.RoleTool:
		rec.Role = "Tool"
	}
	for _, p := range e.Parts {
		switch p.Kind {
		case history.PartText:
			rec.Content += p.Text
		case history.PartToolResult:
			rec.Content += p.ToolResultContent
			rec.ToolCallID = p.ToolResultID
		case history.PartToolCall:
			if rec.ToolCallID == "" {
				rec.ToolCallID = p.ToolCallID
			}
		}
	}
	return rec
}
