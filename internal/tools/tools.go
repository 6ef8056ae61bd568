// Package tools implements tool registration, name normalization, and
// routing: the name-to-executor dispatch the agentic loop consults on
// every tool call the model makes.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Tool name and parameter size limits, preserved from the registry this
// package is adapted from to prevent resource exhaustion on malformed or
// adversarial model output.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Category groups tools for read-only classification and routing.
type Category string

const (
	CategoryFileOps  Category = "file_ops"
	CategoryDirOps   Category = "directory_ops"
	CategoryShell    Category = "shell"
	CategoryWeb      Category = "web"
	CategoryPlanning Category = "planning"
	CategoryIndexer  Category = "indexer"
	CategoryAst      Category = "ast"
	CategoryWorkflow Category = "workflow"
	CategorySubAgent Category = "sub_agent"
)

// The closed set of built-in tool names. The dynamic sub_agent_* prefix
// is handled separately by IsSubAgentTool.
const (
	ReadFile   = "read_file"
	WriteFile  = "write_file"
	DeleteFile = "delete_file"
	ListFiles  = "list_files"
	Grep       = "grep"
	Search     = "search"
	WebFetch   = "web_fetch"
	RunCommand = "run_command"
	RunPtyCmd  = "run_pty_cmd"
	UpdatePlan = "update_plan"
)

var readOnlyTools = map[string]bool{
	ReadFile:  true,
	ListFiles: true,
	Grep:      true,
	Search:    true,
	WebFetch:  true,
}

// IsReadOnly reports whether toolName is a read/list/grep/search/fetch
// tool, used to restrict sub-agents that are not allowed to mutate state.
func IsReadOnly(toolName string) bool {
	return readOnlyTools[toolName]
}

// subAgentPrefix is the dynamic tool-name prefix routed to the sub-agent
// executor instead of the shared registry.
const subAgentPrefix = "sub_agent_"

// IsSubAgentTool reports whether name addresses a delegated sub-agent.
func IsSubAgentTool(name string) bool {
	return strings.HasPrefix(name, subAgentPrefix)
}

// SubAgentID extracts the sub-agent id from a sub_agent_{id} tool name.
func SubAgentID(name string) string {
	return strings.TrimPrefix(name, subAgentPrefix)
}

// Executor is implemented by anything the registry can dispatch a tool
// call to.
type Executor interface {
	Name() string
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is the outcome of a tool execution. A result counts as failure
// when Content encodes an `error` field or a nonzero `exit_code`;
// IsError is the registry's own authoritative flag.
type Result struct {
	Content string
	IsError bool
}

// Registry is a thread-safe name→Executor map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Executor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Executor)}
}

// Register adds or replaces a tool by its name.
func (r *Registry) Register(tool Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, order unspecified.
func (r *Registry) List() []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Executor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute validates name/params bounds, rewrites run_command to
// run_pty_cmd, and dispatches to the registered executor.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*Result, error) {
	name = RewriteAlias(name)

	if len(name) > MaxToolNameLength {
		return &Result{Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength), IsError: true}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &Result{Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize), IsError: true}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &Result{Content: "tool not found: " + name, IsError: true}, nil
	}
	return tool.Execute(ctx, params)
}

// RewriteAlias maps run_command to its canonical name, run_pty_cmd.
func RewriteAlias(name string) string {
	if name == RunCommand {
		return RunPtyCmd
	}
	return name
}

// NormalizeName lowercases and trims a tool name for pattern matching;
// dynamic sub_agent_* names are left intact beyond that.
func NormalizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

// MatchesPattern reports whether toolName matches pattern, supporting
// exact names, the "mcp:*" wildcard, and "prefix.*" prefix wildcards.
func MatchesPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	pattern = NormalizeName(pattern)
	toolName = NormalizeName(toolName)
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}

// MatchesAny reports whether toolName matches any of patterns.
func MatchesAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if MatchesPattern(p, toolName) {
			return true
		}
	}
	return false
}

// NormalizeShellArgs joins an array-form `command` argument into a single
// string with plain spaces, preserving shell metacharacters (&&, ||, |, >,
// <, ;) literally rather than shell-quoting them, so the command reaches
// the shell exactly as written. Normalizing twice equals normalizing once: a
// string input passes through unchanged.
func NormalizeShellArgs(parts []string) string {
	return strings.Join(parts, " ")
}
