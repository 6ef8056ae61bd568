package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/qbit-ai/qbit/internal/shellsafe"
	"github.com/qbit-ai/qbit/internal/tools"
)

const defaultCommandTimeout = 120 * time.Second

// RunPtyCmd implements the run_pty_cmd tool. The command argument arrives
// already literal-joined by the agentic loop (see tools.NormalizeShellArgs) so
// shell metacharacters like && and | reach the shell intact; only the
// shell binary itself is validated with shellsafe before it is spawned.
type RunPtyCmd struct {
	Resolver Resolver
	Shell    string
	Timeout  time.Duration
}

func (t *RunPtyCmd) Name() string { return tools.RunPtyCmd }

func (t *RunPtyCmd) shell() (string, error) {
	shell := strings.TrimSpace(t.Shell)
	if shell == "" {
		shell = "/bin/sh"
	}
	return shellsafe.SanitizeExecutableValue(shell)
}

func (t *RunPtyCmd) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return defaultCommandTimeout
}

func (t *RunPtyCmd) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	shell, err := t.shell()
	if err != nil {
		return toolError("invalid shell: %v", err), nil
	}

	timeout := t.timeout()
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := ""
	if input.Cwd != "" {
		resolved, err := t.Resolver.Resolve(input.Cwd)
		if err != nil {
			return toolError("%s", err.Error()), nil
		}
		dir = resolved
	} else if t.Resolver.Root != "" {
		resolved, err := t.Resolver.Resolve(".")
		if err == nil {
			dir = resolved
		}
	}

	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	timedOut := runCtx.Err() == context.DeadlineExceeded
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return toolError("run command: %v", runErr), nil
		} else {
			exitCode = -1
		}
	}

	return toolOK(map[string]any{
		"command": command, "exit_code": exitCode, "stdout": stdout.String(),
		"stderr": stderr.String(), "duration_ms": duration.Milliseconds(), "timed_out": timedOut,
	}), nil
}
