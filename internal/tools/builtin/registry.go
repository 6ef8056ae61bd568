package builtin

import "github.com/qbit-ai/qbit/internal/tools"

// NewDefaultRegistry builds a tools.Registry with every KnownTool executor
// registered against a single workspace root.
func NewDefaultRegistry(workspace string) *tools.Registry {
	resolver := Resolver{Root: workspace}
	registry := tools.NewRegistry()

	registry.Register(&ReadFile{Resolver: resolver})
	registry.Register(&WriteFile{Resolver: resolver})
	registry.Register(&DeleteFile{Resolver: resolver})
	registry.Register(&ListFiles{Resolver: resolver})
	registry.Register(&Grep{Resolver: resolver})
	registry.Register(&Search{Resolver: resolver})
	registry.Register(&WebFetch{})
	registry.Register(&RunPtyCmd{Resolver: resolver})
	registry.Register(&Workflow{WorkDir: workspace})

	return registry
}
