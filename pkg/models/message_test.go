package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToolCallRoundTrip(t *testing.T) {
	tc := ToolCall{ID: "call_1", Name: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)}
	data, err := json.Marshal(tc)
	require.NoError(t, err)

	var out ToolCall
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, tc, out)
}

func TestToolResultIsErrorOmitted(t *testing.T) {
	data, err := json.Marshal(ToolResult{ToolCallID: "call_1", Content: "ok"})
	require.NoError(t, err)
	require.NotContains(t, string(data), "is_error")
}
