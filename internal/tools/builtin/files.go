package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/qbit-ai/qbit/internal/tools"
)

func toolError(format string, args ...any) *tools.Result {
	payload, err := json.Marshal(map[string]string{"error": fmt.Sprintf(format, args...)})
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf(format, args...), IsError: true}
	}
	return &tools.Result{Content: string(payload), IsError: true}
}

func toolOK(v any) *tools.Result {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("encode result: %v", err)
	}
	return &tools.Result{Content: string(payload)}
}

// ReadFile implements the read_file tool: read a workspace file with an
// optional byte offset and cap.
type ReadFile struct {
	Resolver     Resolver
	MaxReadBytes int
}

func (t *ReadFile) Name() string { return tools.ReadFile }

func (t *ReadFile) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.Offset < 0 {
		return toolError("offset must be >= 0"), nil
	}

	resolved, err := t.Resolver.Resolve(input.Path)
	if err != nil {
		return toolError("%s", err.Error()), nil
	}

	f, err := os.Open(resolved)
	if err != nil {
		return toolError("open file: %v", err), nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return toolError("stat file: %v", err), nil
	}
	if input.Offset > 0 {
		if _, err := f.Seek(input.Offset, io.SeekStart); err != nil {
			return toolError("seek file: %v", err), nil
		}
	}

	limit := t.MaxReadBytes
	if limit <= 0 {
		limit = 200_000
	}
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - input.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(f, remaining))
	if err != nil {
		return toolError("read file: %v", err), nil
	}

	truncated := info.Size() > 0 && input.Offset+int64(len(buf)) < info.Size()
	return toolOK(map[string]any{
		"path": input.Path, "content": string(buf), "offset": input.Offset,
		"bytes": len(buf), "truncated": truncated,
	}), nil
}

// WriteFile implements the write_file tool: write (or append) content to
// a workspace file, creating parent directories as needed.
type WriteFile struct{ Resolver Resolver }

func (t *WriteFile) Name() string { return tools.WriteFile }

func (t *WriteFile) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.Resolver.Resolve(input.Path)
	if err != nil {
		return toolError("%s", err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError("create directory: %v", err), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError("open file: %v", err), nil
	}
	defer f.Close()

	n, err := f.WriteString(input.Content)
	if err != nil {
		return toolError("write file: %v", err), nil
	}
	return toolOK(map[string]any{"path": input.Path, "bytes_written": n, "append": input.Append}), nil
}

// DeleteFile implements the delete_file tool.
type DeleteFile struct{ Resolver Resolver }

func (t *DeleteFile) Name() string { return tools.DeleteFile }

func (t *DeleteFile) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	resolved, err := t.Resolver.Resolve(input.Path)
	if err != nil {
		return toolError("%s", err.Error()), nil
	}
	if err := os.Remove(resolved); err != nil {
		return toolError("delete file: %v", err), nil
	}
	return toolOK(map[string]any{"path": input.Path, "deleted": true}), nil
}

// ListFiles implements the list_files tool: a single-directory listing
// (non-recursive), matching the tool's documented result shape.
type ListFiles struct{ Resolver Resolver }

func (t *ListFiles) Name() string { return tools.ListFiles }

func (t *ListFiles) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}
	resolved, err := t.Resolver.Resolve(input.Path)
	if err != nil {
		return toolError("%s", err.Error()), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return toolError("list directory: %v", err), nil
	}
	names := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		names = append(names, map[string]any{"name": e.Name(), "is_dir": e.IsDir()})
	}
	return toolOK(map[string]any{"path": input.Path, "entries": names}), nil
}
