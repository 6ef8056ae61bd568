// Package classify builds an in-memory index of known executable commands
// (PATH-derived plus shell builtins) and uses it to route typed user input
// to either a terminal command or a natural-language agent prompt.
package classify

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/qbit-ai/qbit/internal/pty"
)

// Route is the classifier's routing decision for a line of input.
type Route string

const (
	RouteAgent    Route = "agent"
	RouteTerminal Route = "terminal"
)

// Result is returned by Classify.
type Result struct {
	Route           Route
	DetectedCommand string // empty when not determined
}

// Index holds the set of known command names (PATH executables plus shell
// builtins) used to classify input. Safe for concurrent use once built.
type Index struct {
	mu         sync.RWMutex
	commands   map[string]struct{}
	built      bool
}

// NewIndex returns an empty, unbuilt Index.
func NewIndex() *Index {
	return &Index{commands: make(map[string]struct{})}
}

// Build scans every directory on the resolved PATH for executables and
// merges in the builtin list for the detected shell. Safe to call again to
// rebuild (e.g. after PATH changes).
func (idx *Index) Build() {
	shellEnv := os.Getenv("SHELL")
	shellType := pty.DetectShell(shellEnv)

	commands := make(map[string]struct{})

	pathVar := resolveShellPath(shellEnv)
	if pathVar == "" {
		pathVar = os.Getenv("PATH")
	}

	for _, dir := range strings.Split(pathVar, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			// Use os.Stat (not Lstat) to follow symlinks, matching the
			// original PATH scan's use of std::fs::metadata.
			info, err := os.Stat(full)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !isExecutable(info) {
				continue
			}
			commands[entry.Name()] = struct{}{}
		}
	}

	for _, b := range builtins(shellType) {
		commands[b] = struct{}{}
	}

	idx.mu.Lock()
	idx.commands = commands
	idx.built = true
	idx.mu.Unlock()
}

// Built reports whether Build has run at least once.
func (idx *Index) Built() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.built
}

func (idx *Index) has(name string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.commands[name]
	return ok
}

// Classify routes a trimmed line of user input to "agent" or "terminal"
// per the five-step algorithm: empty input, path-prefixed input, and
// shell-operator-bearing input all resolve immediately; otherwise the
// first token's membership in the known-command set plus simple
// heuristics (flag presence, token count, plain-English-word tail) decide
// the route.
func (idx *Index) Classify(input string) Result {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Result{Route: RouteAgent}
	}

	if strings.HasPrefix(trimmed, "./") || strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "~/") {
		return Result{Route: RouteTerminal}
	}

	if containsShellOperator(trimmed) {
		first := firstToken(trimmed)
		detected := ""
		if idx.has(first) {
			detected = first
		}
		return Result{Route: RouteTerminal, DetectedCommand: detected}
	}

	first := firstToken(trimmed)
	if !idx.has(first) {
		return Result{Route: RouteAgent}
	}

	tokens := strings.Fields(trimmed)

	for _, tok := range tokens {
		if strings.HasPrefix(tok, "-") {
			return Result{Route: RouteTerminal, DetectedCommand: first}
		}
	}

	if len(tokens) <= 2 {
		return Result{Route: RouteTerminal, DetectedCommand: first}
	}

	rest := tokens[1:]
	if allPlainWords(rest) && len(rest) >= 2 {
		return Result{Route: RouteAgent, DetectedCommand: first}
	}

	return Result{Route: RouteTerminal, DetectedCommand: first}
}

func firstToken(input string) string {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func allPlainWords(tokens []string) bool {
	for _, t := range tokens {
		for _, r := range t {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '\'' || r == ',') {
				return false
			}
		}
	}
	return true
}

// containsShellOperator scans for |, ;, >, <, && outside of single- or
// double-quoted spans.
func containsShellOperator(input string) bool {
	inSingle, inDouble := false, false
	runes := []rune(input)
	for i, c := range runes {
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
			continue
		case c == '|', c == ';', c == '>', c == '<':
			return true
		case c == '&' && i+1 < len(runes) && runes[i+1] == '&':
			return true
		}
	}
	return false
}

// resolveShellPath spawns the user's login shell to capture PATH
// additions made by rc files (e.g. ~/.local/bin from .zshrc), which GUI
// apps launched outside a shell do not inherit.
func resolveShellPath(shellEnv string) string {
	if runtime.GOOS == "windows" {
		return ""
	}
	shell := shellEnv
	if shell == "" {
		if runtime.GOOS == "darwin" {
			shell = "/bin/zsh"
		} else {
			shell = "/bin/sh"
		}
	}
	out, err := exec.Command(shell, "-lic", "echo __QBIT_CMD_IDX_PATH__=$PATH").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "__QBIT_CMD_IDX_PATH__="); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
