// Package prompt composes the agentic loop's system prompt from a fixed
// base plus an ordered set of pluggable contributors, following the
// join-non-empty-fragments-with-blank-lines idiom already used by
// internal/workspace.WorkspaceContext.SystemPromptContext.
package prompt

import (
	"sort"
	"strings"
)

// Priority buckets contributors run in: Tools first, then Provider, then
// Custom, composed in that order.
type Priority int

const (
	PriorityTools Priority = iota
	PriorityProvider
	PriorityCustom
)

// Context carries the information a contributor may need to decide what,
// if anything, to add to the prompt.
type Context struct {
	Provider      string
	Model         string
	HasSubAgents  bool
	HasWebSearch  bool
	HasPTY        bool
	WorkspacePath string
}

// Contributor returns a prompt fragment for ctx, or "" to contribute
// nothing. Implementations must be safe to call concurrently.
type Contributor interface {
	Priority() Priority
	Contribute(ctx Context) string
}

// ContributorFunc adapts a plain function to Contributor at a fixed
// priority.
type ContributorFunc struct {
	Pri Priority
	Fn  func(ctx Context) string
}

func (f ContributorFunc) Priority() Priority        { return f.Pri }
func (f ContributorFunc) Contribute(ctx Context) string { return f.Fn(ctx) }

// baseSystemPrompt is the fixed identity/workflow/file-operation/
// delegation preamble every turn starts from.
const baseSystemPrompt = `You are Qbit, an agentic coding assistant operating directly in a developer's workspace.

Workflow: understand the request, inspect the workspace as needed, make the smallest change that satisfies the request, and verify your work before reporting it done.

File operations: read a file before editing it; prefer targeted edits over full-file rewrites; never fabricate file contents you have not read.

Delegation: if a sub-task is well-scoped and independent (research, a bounded search, a parallel analysis), consider delegating it to a sub-agent rather than doing it inline. Do not delegate trivial work or work that depends on the outer conversation's full context.`

// Registry holds contributors and composes the final system prompt.
type Registry struct {
	contributors []Contributor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds c to the registry.
func (r *Registry) Register(c Contributor) {
	r.contributors = append(r.contributors, c)
}

// Compose returns the base prompt followed by every contributor's
// non-empty fragment, in Tools > Provider > Custom order, each
// separated by a blank line.
func (r *Registry) Compose(ctx Context) string {
	ordered := make([]Contributor, len(r.contributors))
	copy(ordered, r.contributors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	parts := []string{baseSystemPrompt}
	for _, c := range ordered {
		if frag := strings.TrimSpace(c.Contribute(ctx)); frag != "" {
			parts = append(parts, frag)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ToolsContributor documents the tools available for this turn.
func ToolsContributor(describeTools func(ctx Context) string) Contributor {
	return ContributorFunc{Pri: PriorityTools, Fn: describeTools}
}

// ProviderContributor adds provider-specific hints (e.g. a model family's
// preferred tool-call style).
func ProviderContributor(hint func(ctx Context) string) Contributor {
	return ContributorFunc{Pri: PriorityProvider, Fn: hint}
}

// CustomContributor adds arbitrary workspace- or session-specific text
// (e.g. internal/workspace's SOUL.md/IDENTITY.md/MEMORY.md content).
func CustomContributor(fn func(ctx Context) string) Contributor {
	return ContributorFunc{Pri: PriorityCustom, Fn: fn}
}

// SubAgentDocsContributor documents registered sub-agents when any exist,
// wired under PriorityTools since delegation is a tool-adjacent concern.
func SubAgentDocsContributor(describe func(ctx Context) string) Contributor {
	return ContributorFunc{Pri: PriorityTools, Fn: func(ctx Context) string {
		if !ctx.HasSubAgents {
			return ""
		}
		return describe(ctx)
	}}
}
