package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/qbit-ai/qbit/internal/tools"
)

// Grep implements the grep tool by shelling out to the system grep
// binary scoped to the workspace root, the same way the shell tools in
// this codebase delegate to external processes rather than reimplement
// them.
type Grep struct {
	Resolver Resolver
	Timeout  time.Duration
}

func (t *Grep) Name() string { return tools.Grep }

func (t *Grep) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return 30 * time.Second
}

func (t *Grep) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Pattern       string `json:"pattern"`
		Path          string `json:"path"`
		CaseSensitive *bool  `json:"case_sensitive"`
		MaxMatches    int    `json:"max_matches"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	root, err := t.Resolver.Resolve(input.Path)
	if err != nil {
		return toolError("%s", err.Error()), nil
	}

	args := []string{"-rn", "--binary-files=without-match"}
	if input.CaseSensitive != nil && !*input.CaseSensitive {
		args = append(args, "-i")
	}
	args = append(args, "-e", input.Pattern, root)

	runCtx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, "grep", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return toolError("run grep: %v", err), nil
	}
	// grep exits 1 when there are no matches; that's not a tool error.
	if exitErr != nil && exitErr.ExitCode() > 1 {
		return toolError("grep failed: %s", strings.TrimSpace(stderr.String())), nil
	}

	lines := splitNonEmpty(stdout.String())
	limit := input.MaxMatches
	truncated := false
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
		truncated = true
	}
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, root+"/")
	}

	return toolOK(map[string]any{
		"pattern": input.Pattern, "matches": lines, "count": len(lines), "truncated": truncated,
	}), nil
}

func splitNonEmpty(s string) []string {
	raw := strings.Split(strings.TrimRight(s, "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
