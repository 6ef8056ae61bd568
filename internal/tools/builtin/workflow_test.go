package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowWrapsNonJSONOutput(t *testing.T) {
	tool := &Workflow{ExecPath: "echo"}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"pipeline":"deploy"}`))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &envelope))
	assert.Equal(t, "deploy", envelope["pipeline"])
	assert.Equal(t, float64(0), envelope["exit_code"])
	assert.Contains(t, envelope["output"], "run deploy --json")
}

func TestWorkflowPassesThroughJSONEnvelope(t *testing.T) {
	// A stand-in runner script that emits a JSON envelope.
	script := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho '{\"status\":\"ok\",\"steps\":3}'\n"), 0o755))

	tool := &Workflow{ExecPath: script}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"pipeline":"lint","args":{"target":"all"}}`))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &envelope))
	assert.Equal(t, "ok", envelope["status"])
	assert.Equal(t, float64(3), envelope["steps"])
	assert.Equal(t, "lint", envelope["pipeline"])
}

func TestWorkflowRequiresPipeline(t *testing.T) {
	tool := &Workflow{ExecPath: "echo"}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "pipeline is required")
}

func TestWorkflowRejectsUnsafeRunner(t *testing.T) {
	tool := &Workflow{ExecPath: "echo; rm -rf /"}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"pipeline":"x"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "invalid workflow runner")
}
