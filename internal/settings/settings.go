// Package settings reads and writes the per-project settings file at
// {workspace}/.qbit/project.toml. Absent files and absent keys are not
// errors: every field is an optional override layered on top of the
// session's defaults.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// Project is the per-workspace settings file.
type Project struct {
	AI AI `toml:"ai"`
}

// AI holds the model-selection overrides.
type AI struct {
	Provider  string `toml:"provider,omitempty"`
	Model     string `toml:"model,omitempty"`
	AgentMode string `toml:"agent_mode,omitempty"`
}

const projectFileRelPath = ".qbit/project.toml"

// Path returns the settings file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, projectFileRelPath)
}

// Load reads the workspace's project settings. A missing file yields the
// zero Project with no error.
func Load(workspace string) (Project, error) {
	data, err := os.ReadFile(Path(workspace))
	if errors.Is(err, os.ErrNotExist) {
		return Project{}, nil
	}
	if err != nil {
		return Project{}, fmt.Errorf("settings: read: %w", err)
	}

	var p Project
	if err := toml.Unmarshal(data, &p); err != nil {
		return Project{}, fmt.Errorf("settings: parse %s: %w", Path(workspace), err)
	}
	return p, nil
}

// Save writes the workspace's project settings atomically (temp file
// then rename), creating .qbit/ if needed.
func Save(workspace string, p Project) error {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".project-*.toml")
	if err != nil {
		return fmt.Errorf("settings: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}
