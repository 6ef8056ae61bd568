package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/qbit-ai/qbit/internal/tools"
)

// Search implements the search tool: a workspace-scoped filename search.
// Full-text indexing and AST-aware search are out of scope for the core
// runtime and live behind external adapters; this tool covers the
// "find files matching a name pattern" case the closed tool set names.
type Search struct {
	Resolver   Resolver
	MaxResults int
}

func (t *Search) Name() string { return tools.Search }

func (t *Search) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Query string `json:"query"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return toolError("query is required"), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	root, err := t.Resolver.Resolve(input.Path)
	if err != nil {
		return toolError("%s", err.Error()), nil
	}

	limit := t.MaxResults
	if limit <= 0 {
		limit = 200
	}
	lowerQuery := strings.ToLower(query)

	var matches []string
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		if strings.Contains(strings.ToLower(d.Name()), lowerQuery) {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return toolError("search failed: %v", walkErr), nil
	}

	return toolOK(map[string]any{
		"query": query, "matches": matches, "count": len(matches), "truncated": len(matches) >= limit,
	}), nil
}
