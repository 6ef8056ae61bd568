// Package coordinator implements the per-session event coordinator: a
// single-owner serial actor that sequences, buffers-until-ready, and
// forwards AiEvents to a UI runtime, and brokers human-in-the-loop
// approval via one-shot channels. Every mutation of coordinator state
// happens on the single goroutine that owns it, so seq numbers stay
// gap-free and approval registration/resolution can never race.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/qbit-ai/qbit/internal/events"
)

// Runtime is the external event sink the coordinator forwards envelopes
// to, typically a UI frontend or the CLI renderer.
type Runtime interface {
	Emit(envelope events.Envelope)
}

// Transcript appends transcriptable events to a per-session durable log.
// Implementations should be cheap/non-blocking; errors are logged by the
// coordinator and never propagated to the emitting call per §7.
type Transcript interface {
	Append(envelope events.Envelope) error
}

// Decision is the outcome delivered to a pending approval wait.
type Decision struct {
	Approved      bool
	Justification string
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

type command struct {
	emit           *events.AiEvent
	markReady      bool
	registerID     string
	registerReply  chan<- (<-chan Decision)
	resolveID      string
	resolveDecision Decision
	queryReply     chan<- State
	shutdown       chan<- struct{}
}

// State is a snapshot of the coordinator's internal bookkeeping, used by
// QueryState for diagnostics and tests.
type State struct {
	NextSeq          uint64
	FrontendReady    bool
	BufferedEvents   int
	PendingApprovals int
}

// Coordinator is a per-session actor. Construct with New and call Run in
// its own goroutine; send commands via the Emit/MarkFrontendReady/
// RegisterApproval/ResolveApproval/QueryState/Shutdown methods, all of
// which are safe to call concurrently from multiple goroutines (the
// session bridge hands its handle to several subsystems).
type Coordinator struct {
	cmds chan command

	runtime    Runtime
	transcript Transcript
	now        Clock

	logf func(format string, args ...any)
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithTranscript attaches a durable transcript writer.
func WithTranscript(t Transcript) Option {
	return func(c *Coordinator) { c.transcript = t }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now Clock) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogf overrides the diagnostic logger (defaults to a no-op).
func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *Coordinator) { c.logf = logf }
}

// New returns a Coordinator bound to runtime. Call Run to start
// processing commands.
func New(runtime Runtime, opts ...Option) *Coordinator {
	c := &Coordinator{
		cmds:    make(chan command, 256),
		runtime: runtime,
		now:     time.Now,
		logf:    func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes commands until ctx is cancelled or Shutdown is called.
// It owns all coordinator state exclusively; call it exactly once, in its
// own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	var (
		seq           uint64
		frontendReady bool
		buffer        []events.Envelope
		pending       = make(map[string]chan Decision)
	)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			switch {
			case cmd.emit != nil:
				env := events.Envelope{Seq: seq, Ts: c.now().Format(time.RFC3339), Event: *cmd.emit}
				seq++

				if c.transcript != nil && events.IsTranscriptable(*cmd.emit) {
					if err := c.transcript.Append(env); err != nil {
						c.logf("coordinator: transcript append failed: %v", err)
					}
				}

				if frontendReady {
					c.runtime.Emit(env)
				} else {
					buffer = append(buffer, env)
				}

			case cmd.markReady:
				frontendReady = true
				for _, env := range buffer {
					c.runtime.Emit(env)
				}
				buffer = nil

			case cmd.registerReply != nil:
				ch := make(chan Decision, 1)
				pending[cmd.registerID] = ch
				cmd.registerReply <- ch

			case cmd.resolveID != "":
				ch, ok := pending[cmd.resolveID]
				if !ok {
					c.logf("coordinator: resolve for unknown approval id %q", cmd.resolveID)
					continue
				}
				delete(pending, cmd.resolveID)
				select {
				case ch <- cmd.resolveDecision:
				default:
					// Receiver already gone (turn cancelled): the entry
					// is pruned above, nothing further to do.
				}
				close(ch)

			case cmd.queryReply != nil:
				cmd.queryReply <- State{
					NextSeq:          seq,
					FrontendReady:    frontendReady,
					BufferedEvents:   len(buffer),
					PendingApprovals: len(pending),
				}

			case cmd.shutdown != nil:
				for _, ch := range pending {
					close(ch)
				}
				close(cmd.shutdown)
				return
			}
		}
	}
}

// EmitEvent submits an event for sequencing, transcript writing, and
// buffer-or-forward delivery. Non-blocking up to the command channel's
// buffer; blocks only under sustained backpressure.
func (c *Coordinator) EmitEvent(e events.AiEvent) {
	c.cmds <- command{emit: &e}
}

// MarkFrontendReady flips the ready flag and flushes any buffered events
// in order.
func (c *Coordinator) MarkFrontendReady() {
	c.cmds <- command{markReady: true}
}

// RegisterApproval registers requestID as awaiting a decision and returns
// the channel the agentic loop should block on.
func (c *Coordinator) RegisterApproval(requestID string) <-chan Decision {
	reply := make(chan (<-chan Decision), 1)
	c.cmds <- command{registerID: requestID, registerReply: reply}
	return <-reply
}

// ResolveApproval delivers decision to the pending wait for requestID, if
// one exists.
func (c *Coordinator) ResolveApproval(requestID string, decision Decision) {
	c.cmds <- command{resolveID: requestID, resolveDecision: decision}
}

// QueryState returns a snapshot of the coordinator's internal state.
func (c *Coordinator) QueryState() State {
	reply := make(chan State, 1)
	c.cmds <- command{queryReply: reply}
	return <-reply
}

// Shutdown stops the coordinator's Run loop and closes every pending
// approval channel (observed by waiters as a denial, since a closed
// channel yields the zero Decision{Approved:false}).
func (c *Coordinator) Shutdown() {
	done := make(chan struct{})
	c.cmds <- command{shutdown: done}
	<-done
}

// AwaitApproval is a convenience wrapper combining RegisterApproval with a
// context-aware wait: ctx cancellation or the channel closing both
// resolve as a denial, matching §9's "cancellation = drop the receiver"
// design note.
func AwaitApproval(ctx context.Context, c *Coordinator, requestID string) (Decision, error) {
	ch := c.RegisterApproval(requestID)
	select {
	case d, ok := <-ch:
		if !ok {
			return Decision{Approved: false}, fmt.Errorf("coordinator: approval %s cancelled", requestID)
		}
		return d, nil
	case <-ctx.Done():
		return Decision{Approved: false}, ctx.Err()
	}
}
