package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbit-ai/qbit/internal/events"
)

func TestAppendAndRead(t *testing.T) {
	base := t.TempDir()
	w, err := NewWriter(base, "sess-1")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(events.Envelope{Seq: 0, Ts: "2025-06-01T12:00:00Z", Event: events.Started{TurnID: "t1"}}))
	require.NoError(t, w.Append(events.Envelope{Seq: 1, Ts: "2025-06-01T12:00:01Z", Event: events.Completed{Response: "ok"}}))

	lines, err := Read(base, "sess-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, float64(0), first["seq"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, float64(1), second["seq"])
}

func TestDefaultBaseDirEnvOverride(t *testing.T) {
	t.Setenv("VT_TRANSCRIPT_DIR", "/tmp/custom-transcripts")
	dir, err := DefaultBaseDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-transcripts", dir)
}

func TestWriterImplementsCoordinatorTranscript(t *testing.T) {
	base := t.TempDir()
	w, err := NewWriter(base, "sess-2")
	require.NoError(t, err)
	defer w.Close()

	// The coordinator only needs Append(Envelope) error.
	var sink interface {
		Append(events.Envelope) error
	} = w
	require.NotNil(t, sink)
}
