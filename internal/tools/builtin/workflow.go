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

const (
	defaultWorkflowTimeout  = 5 * time.Minute
	defaultWorkflowMaxBytes = 256 << 10
)

// Workflow implements the workflow tool: it runs a named pipeline
// through an external workflow runner binary and relays the runner's
// JSON envelope back to the model. The runner is expected to print a
// single JSON object on stdout; anything else is wrapped verbatim so
// the model still sees the output.
type Workflow struct {
	// ExecPath is the runner binary (default "qbit-workflow" on PATH).
	ExecPath string

	// WorkDir is where pipelines run (default: the process cwd).
	WorkDir string

	Timeout        time.Duration
	MaxStdoutBytes int
}

func (t *Workflow) Name() string { return "workflow" }

func (t *Workflow) execPath() (string, error) {
	path := strings.TrimSpace(t.ExecPath)
	if path == "" {
		path = "qbit-workflow"
	}
	return shellsafe.SanitizeExecutableValue(path)
}

func (t *Workflow) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return defaultWorkflowTimeout
}

func (t *Workflow) maxStdout() int {
	if t.MaxStdoutBytes > 0 {
		return t.MaxStdoutBytes
	}
	return defaultWorkflowMaxBytes
}

func (t *Workflow) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Pipeline string            `json:"pipeline"`
		Args     map[string]string `json:"args"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	pipeline := strings.TrimSpace(input.Pipeline)
	if pipeline == "" {
		return toolError("pipeline is required"), nil
	}

	bin, err := t.execPath()
	if err != nil {
		return toolError("invalid workflow runner: %v", err), nil
	}

	argv := []string{"run", pipeline, "--json"}
	for k, v := range input.Args {
		argv = append(argv, "--arg", k+"="+v)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, argv...)
	if t.WorkDir != "" {
		cmd.Dir = t.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return toolError("workflow %q timed out after %s", pipeline, t.timeout()), nil
	}

	out := stdout.Bytes()
	if len(out) > t.maxStdout() {
		out = out[:t.maxStdout()]
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return toolError("workflow runner: %v", runErr), nil
		}
	}

	// Pass a well-formed envelope through untouched; wrap anything else.
	var envelope map[string]any
	if err := json.Unmarshal(out, &envelope); err != nil {
		envelope = map[string]any{"output": string(out)}
	}
	envelope["pipeline"] = pipeline
	envelope["exit_code"] = exitCode
	if exitCode != 0 && stderr.Len() > 0 {
		envelope["error"] = strings.TrimSpace(stderr.String())
	}

	return toolOK(envelope), nil
}
