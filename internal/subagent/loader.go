package subagent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileDefinition is the on-disk YAML shape of one sub-agent definition,
// kept under {workspace}/.qbit/agents/{id}.yaml.
type fileDefinition struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	SystemPrompt  string   `yaml:"system_prompt"`
	AllowedTools  []string `yaml:"allowed_tools"`
	MaxIterations int      `yaml:"max_iterations"`
	Model         string   `yaml:"model"`
	Provider      string   `yaml:"provider"`
}

// LoadDir registers every *.yaml/*.yml definition under dir. A missing
// directory registers nothing; a malformed file aborts with an error
// naming it. Returns how many definitions were registered.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("subagent: read %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("subagent: read %s: %w", path, err)
		}

		var fd fileDefinition
		if err := yaml.Unmarshal(data, &fd); err != nil {
			return loaded, fmt.Errorf("subagent: parse %s: %w", path, err)
		}
		if fd.ID == "" {
			fd.ID = strings.TrimSuffix(entry.Name(), ext)
		}

		def := Definition{
			ID:            fd.ID,
			Name:          fd.Name,
			Description:   fd.Description,
			SystemPrompt:  fd.SystemPrompt,
			AllowedTools:  fd.AllowedTools,
			MaxIterations: fd.MaxIterations,
		}
		if fd.Model != "" {
			def.ModelOverride = &ModelOverride{Provider: fd.Provider, Model: fd.Model}
		}
		if err := r.Register(def); err != nil {
			return loaded, fmt.Errorf("subagent: register %s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}
