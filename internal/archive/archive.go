// Package archive persists a finished session as a single durable JSON
// snapshot, and lists/sorts previously archived sessions. Atomic
// temp-file-then-rename writes follow the same pattern as every other
// durable store in this repository (internal/multiagent/subagent_registry.go's
// persist/restore).
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata describes the session a SessionArchive snapshots.
type Metadata struct {
	SessionID        string `json:"session_id,omitempty"`
	WorkspaceLabel   string `json:"workspace_label"`
	WorkspacePath    string `json:"workspace_path"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
	Theme            string `json:"theme,omitempty"`
	ReasoningEffort  string `json:"reasoning_effort,omitempty"`
}

// MessageRecord is one archived message entry. Role is PascalCase for
// backwards compatibility with the on-disk format this spec inherits.
type MessageRecord struct {
	Role       string `json:"role"` // "User" | "Assistant" | "Tool"
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// SessionArchive is the full on-disk snapshot of one session.
type SessionArchive struct {
	Metadata       Metadata        `json:"metadata"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at,omitempty"`
	TotalMessages  int             `json:"total_messages"`
	DistinctTools  []string        `json:"distinct_tools"`
	Transcript     []string        `json:"transcript"`
	Messages       []MessageRecord `json:"messages"`
}

// New starts a new archive for metadata, recording StartedAt as now.
// If metadata.SessionID is empty, a UUIDv4 is generated, matching the
// on-read backwards-compatibility rule for sessions persisted before the
// field existed.
func New(metadata Metadata) *SessionArchive {
	if metadata.SessionID == "" {
		metadata.SessionID = uuid.NewString()
	}
	return &SessionArchive{
		Metadata:  metadata,
		StartedAt: time.Now(),
	}
}

// Finalize records the end-of-session fields. It does not write to disk;
// call Save for that.
func (a *SessionArchive) Finalize(transcript []string, totalMessages int, distinctTools []string, messages []MessageRecord) {
	a.EndedAt = time.Now()
	a.Transcript = transcript
	a.TotalMessages = totalMessages
	a.DistinctTools = distinctTools
	a.Messages = messages
}

// filenameTimeLayout is the compact ISO8601 component of archive
// filenames ("YYYYMMDDTHHMMSSZ" plus a microsecond suffix).
const filenameTimeLayout = "20060102T150405Z"

// Filename returns the canonical archive filename for a:
// session-{label}-{ISO8601_compact}-{id_prefix5}.json
func (a *SessionArchive) Filename() string {
	ts := a.StartedAt.UTC().Format(filenameTimeLayout)
	micros := a.StartedAt.UTC().Nanosecond() / 1000
	idPrefix := a.Metadata.SessionID
	if len(idPrefix) > 5 {
		idPrefix = idPrefix[:5]
	}
	label := sanitizeLabel(a.Metadata.WorkspaceLabel)
	return fmt.Sprintf("session-%s-%s_%06d-%s.json", label, ts, micros, idPrefix)
}

func sanitizeLabel(label string) string {
	if label == "" {
		return "workspace"
	}
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Save atomically writes a as pretty JSON into dir, returning the full
// path written.
func (a *SessionArchive) Save(dir string) (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode snapshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir: %w", err)
	}

	path := filepath.Join(dir, a.Filename())
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return "", fmt.Errorf("archive: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("archive: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("archive: rename temp file: %w", err)
	}
	return path, nil
}

// Load reads and decodes a SessionArchive from path.
func Load(path string) (*SessionArchive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a SessionArchive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", path, err)
	}
	if a.Metadata.SessionID == "" {
		a.Metadata.SessionID = uuid.NewString()
	}
	return &a, nil
}

// ListSessions scans dir for *.json archives, deserializes each, and
// returns them sorted by StartedAt descending (most recent first).
// Files that fail to decode are skipped rather than aborting the whole
// listing.
func ListSessions(dir string) ([]*SessionArchive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*SessionArchive
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		a, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// DefaultDir returns ~/.qbit/sessions, or the VT_SESSION_DIR override if
// set.
func DefaultDir() (string, error) {
	if dir := os.Getenv("VT_SESSION_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".qbit", "sessions"), nil
}
