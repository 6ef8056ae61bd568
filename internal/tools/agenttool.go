package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qbit-ai/qbit/internal/agent"
)

// registryTool adapts a Spec plus the shared Registry into the
// agent.Tool shape a completion request advertises. Execution validates
// arguments against the spec's schema before reaching the executor.
type registryTool struct {
	spec     Spec
	registry *Registry
}

func (t registryTool) Name() string            { return t.spec.Name }
func (t registryTool) Description() string     { return t.spec.Description }
func (t registryTool) Schema() json.RawMessage { return t.spec.Schema }

func (t registryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if err := t.spec.Validate(params); err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	res, err := t.registry.Execute(ctx, t.spec.Name, params)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: res.Content, IsError: res.IsError}, nil
}

// advertiseOnlyTool carries a Spec for tools the agentic loop intercepts
// before registry dispatch (update_plan, sub_agent_*). Its Execute is
// never reached in normal operation.
type advertiseOnlyTool struct {
	spec Spec
}

func (t advertiseOnlyTool) Name() string            { return t.spec.Name }
func (t advertiseOnlyTool) Description() string     { return t.spec.Description }
func (t advertiseOnlyTool) Schema() json.RawMessage { return t.spec.Schema }

func (t advertiseOnlyTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return nil, fmt.Errorf("tools: %s is dispatched by the agentic loop, not the registry", t.spec.Name)
}

// AgentTools builds the tool definitions a completion request carries:
// registry-backed tools for specs whose name the registry can execute,
// advertise-only entries for the rest (plan updates and sub-agent
// delegations, which the loop intercepts).
func AgentTools(registry *Registry, specs []Spec) []agent.Tool {
	out := make([]agent.Tool, 0, len(specs))
	for _, spec := range specs {
		if _, ok := registry.Get(spec.Name); ok {
			out = append(out, registryTool{spec: spec, registry: registry})
			continue
		}
		out = append(out, advertiseOnlyTool{spec: spec})
	}
	return out
}

// specMap indexes specs by name for the router's pre-dispatch
// validation; see Router.SetSpecs.
func specMap(specs []Spec) map[string]Spec {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}
