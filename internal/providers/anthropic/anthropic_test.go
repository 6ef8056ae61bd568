package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/pkg/models"
)

const messageStream = `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":25,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":12}}

event: message_stop
data: {"type":"message_stop"}

`

const toolUseStream = `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":40,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"read_file"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.go\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}

`

func newTestProvider(t *testing.T, stream string, capture *wireRequest) *Provider {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Api-Key"))
		require.Equal(t, apiVersion, r.Header.Get("Anthropic-Version"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(stream))
	}))
	t.Cleanup(server.Close)

	p, err := NewWithConfig(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return p
}

func drain(t *testing.T, ch <-chan *agent.CompletionChunk) []*agent.CompletionChunk {
	t.Helper()
	var out []*agent.CompletionChunk
	for c := range ch {
		require.NoError(t, c.Error)
		out = append(out, c)
	}
	return out
}

func TestCompleteTextStream(t *testing.T) {
	p := newTestProvider(t, messageStream, nil)

	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Model:    "claude-sonnet-4-5",
		System:   "be terse",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	got := drain(t, chunks)
	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, "lo", got[1].Text)
	require.True(t, got[2].Done)
	assert.Equal(t, 25, got[2].InputTokens)
	assert.Equal(t, 12, got[2].OutputTokens)
}

func TestCompleteToolUseStream(t *testing.T) {
	p := newTestProvider(t, toolUseStream, nil)

	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "read a.go"}},
	})
	require.NoError(t, err)

	got := drain(t, chunks)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].ToolCall)
	assert.Equal(t, "toolu_1", got[0].ToolCall.ID)
	assert.Equal(t, "read_file", got[0].ToolCall.Name)
	assert.JSONEq(t, `{"path":"a.go"}`, string(got[0].ToolCall.Input))
	require.True(t, got[1].Done)
	assert.Equal(t, 40, got[1].InputTokens)
	assert.Equal(t, 9, got[1].OutputTokens)
}

func TestStreamWithoutTerminalEventSynthesizesDone(t *testing.T) {
	partial := `event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}

`
	p := newTestProvider(t, partial, nil)

	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	got := drain(t, chunks)
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Text)
	assert.True(t, got[1].Done)
}

func TestRequestConversion(t *testing.T) {
	var captured wireRequest
	p := newTestProvider(t, messageStream, &captured)

	req := &agent.CompletionRequest{
		Model:  "claude-sonnet-4-5",
		System: "sys",
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: "read it"},
			{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "t1", Name: "read_file", Input: json.RawMessage(`{"path":"a"}`)}}},
			{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "t1", Content: "body"}}},
		},
		MaxTokens: 512,
	}
	chunks, err := p.Complete(context.Background(), req)
	require.NoError(t, err)
	drain(t, chunks)

	assert.Equal(t, "claude-sonnet-4-5", captured.Model)
	assert.Equal(t, "sys", captured.System)
	assert.Equal(t, 512, captured.MaxTokens)
	assert.True(t, captured.Stream)
	require.Len(t, captured.Messages, 3)

	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "assistant", captured.Messages[1].Role)
	assert.Equal(t, "tool_use", captured.Messages[1].Content[0].Type)

	// Tool results ride on a user-role message.
	assert.Equal(t, "user", captured.Messages[2].Role)
	assert.Equal(t, "tool_result", captured.Messages[2].Content[0].Type)
	assert.Equal(t, "t1", captured.Messages[2].Content[0].ToolUseID)
}

func TestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, 529)
	}))
	defer server.Close()

	p, err := NewWithConfig(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "529")
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
