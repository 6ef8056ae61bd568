package tools

import (
	"context"
	"fmt"
	"sync"
)

// Router wraps a Registry with the per-session serialization and
// sub-agent recursion guards the agentic loop needs on every dispatch.
type Router struct {
	registry *Registry
	specs    map[string]Spec

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewRouter returns a Router backed by registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry, locks: make(map[string]*sessionLock)}
}

// SetSpecs attaches tool specs so Dispatch validates arguments against
// their schemas before execution. Tools without a spec dispatch
// unvalidated. Call once at wiring time, before any dispatches.
func (rt *Router) SetSpecs(specs []Spec) {
	rt.specs = specMap(specs)
}

// lockSession acquires a ref-counted mutex for sessionID, returning an
// unlock func that must be called exactly once. Concurrent tool calls
// within one session serialize; calls across different sessions don't
// block each other.
func (rt *Router) lockSession(sessionID string) func() {
	rt.locksMu.Lock()
	lk, ok := rt.locks[sessionID]
	if !ok {
		lk = &sessionLock{}
		rt.locks[sessionID] = lk
	}
	lk.refs++
	rt.locksMu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		rt.locksMu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(rt.locks, sessionID)
		}
		rt.locksMu.Unlock()
	}
}

// SubAgentConstraints restricts what a sub-agent's own tool calls may
// do: confined to a whitelist, and never permitted to recurse into
// another sub-agent dispatch.
type SubAgentConstraints struct {
	AllowedTools []string
	ReadOnly     bool
}

// Allows reports whether toolName may be dispatched under c.
func (c SubAgentConstraints) Allows(toolName string) bool {
	if IsSubAgentTool(toolName) {
		return false
	}
	if c.ReadOnly && !IsReadOnly(toolName) {
		return false
	}
	if len(c.AllowedTools) == 0 {
		return true
	}
	return MatchesAny(c.AllowedTools, toolName)
}

// Dispatch executes toolName for sessionID under the session lock; the
// registry rewrites run_command to run_pty_cmd. Params are passed through
// as given: an array-form `command` field is not joined here (the agentic
// loop joins it before dispatch).
func (rt *Router) Dispatch(ctx context.Context, sessionID, toolName string, params []byte) (*Result, error) {
	if spec, ok := rt.specs[RewriteAlias(NormalizeName(toolName))]; ok {
		if err := spec.Validate(params); err != nil {
			return &Result{Content: err.Error(), IsError: true}, nil
		}
	}
	unlock := rt.lockSession(sessionID)
	defer unlock()
	return rt.registry.Execute(ctx, toolName, params)
}

// DispatchForSubAgent executes toolName on behalf of a sub-agent,
// enforcing constraints before ever reaching the registry.
func (rt *Router) DispatchForSubAgent(ctx context.Context, sessionID, toolName string, params []byte, constraints SubAgentConstraints) (*Result, error) {
	if !constraints.Allows(toolName) {
		return &Result{Content: fmt.Sprintf("tool %q is not permitted for this sub-agent", toolName), IsError: true}, nil
	}
	return rt.Dispatch(ctx, sessionID, toolName, params)
}

// RequiresApproval reports whether toolName needs human approval before
// dispatch, given the always-allow and always-deny pattern lists from the
// active approval policy. Always-deny takes precedence over always-allow.
func RequiresApproval(toolName string, alwaysAllow, alwaysDeny []string, defaultRequiresApproval bool) bool {
	if MatchesAny(alwaysDeny, toolName) {
		return true
	}
	if MatchesAny(alwaysAllow, toolName) {
		return false
	}
	return defaultRequiresApproval
}
