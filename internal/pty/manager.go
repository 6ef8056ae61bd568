package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	creackpty "github.com/creack/pty"

	"github.com/qbit-ai/qbit/internal/shellsafe"
)

// ErrUnsupportedPlatform is returned by Spawn and InstallShellIntegration
// on Windows, where creack/pty cannot back a real PTY.
// Rather than degrade silently on those platforms, callers get an
// explicit, typed error.
var ErrUnsupportedPlatform = errors.New("pty: unsupported on this platform")

// ShellType identifies the interactive shell driving a PTY session, used
// both for builtin-command lookup (C14) and for selecting which rc-file
// integration fragment to install.
type ShellType string

const (
	ShellBash    ShellType = "bash"
	ShellZsh     ShellType = "zsh"
	ShellFish    ShellType = "fish"
	ShellUnknown ShellType = "unknown"
)

// DetectShell inspects $SHELL to classify the user's interactive shell.
func DetectShell(shellEnv string) ShellType {
	base := filepath.Base(strings.TrimSpace(shellEnv))
	switch base {
	case "bash":
		return ShellBash
	case "zsh":
		return ShellZsh
	case "fish":
		return ShellFish
	default:
		return ShellUnknown
	}
}

// Session is one managed PTY-backed shell, keyed by session ID in Manager.
type Session struct {
	ID    string
	Shell ShellType
	Cwd   string

	mu       sync.Mutex
	pty      *os.File
	cmd      *exec.Cmd
	parser   *Parser
	altScreen bool
}

// Write sends bytes to the PTY's stdin (e.g. user keystrokes).
func (s *Session) Write(p []byte) (int, error) {
	return s.pty.Write(p)
}

// Read pulls raw bytes from the PTY and parses any OSC/CSI events found in
// them, applying DirectoryChanged/AlternateScreen updates to the session's
// cached state before returning both the raw bytes and parsed events.
func (s *Session) Read(buf []byte) (int, []OscEvent, error) {
	n, err := s.pty.Read(buf)
	if n == 0 {
		return 0, nil, err
	}
	s.mu.Lock()
	events := s.parser.Parse(buf[:n])
	for _, ev := range events {
		switch ev.Kind {
		case EventDirectoryChanged:
			s.Cwd = ev.Path
		case EventAlternateScreenEnabled:
			s.altScreen = true
		case EventAlternateScreenDisabled:
			s.altScreen = false
		}
	}
	s.mu.Unlock()
	return n, events, err
}

// Resize adjusts the PTY's terminal dimensions.
func (s *Session) Resize(rows, cols uint16) error {
	return creackpty.Setsize(s.pty, &creackpty.Winsize{Rows: rows, Cols: cols})
}

// Close terminates the underlying process and releases the PTY handle.
func (s *Session) Close() error {
	s.pty.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

// Manager owns every live PTY session, keyed by session ID, backed by
// creack/pty. On Windows, Spawn returns ErrUnsupportedPlatform.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty PTY manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Spawn starts shellPath (defaulting to $SHELL, then /bin/sh) under a new
// PTY, registers it under sessionID, and returns the Session handle.
func (m *Manager) Spawn(sessionID, shellPath, cwd string) (*Session, error) {
	if runtime.GOOS == "windows" {
		return nil, ErrUnsupportedPlatform
	}
	if shellPath == "" {
		shellPath = os.Getenv("SHELL")
	}
	if shellPath == "" {
		shellPath = "/bin/sh"
	}
	if _, err := shellsafe.SanitizeExecutableValue(shellPath); err != nil {
		return nil, fmt.Errorf("pty: unsafe shell path: %w", err)
	}

	cmd := exec.Command(shellPath, "-i")
	if cwd != "" {
		cmd.Dir = cwd
	}
	f, err := creackpty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("pty: spawn %s: %w", shellPath, err)
	}

	sess := &Session{
		ID:     sessionID,
		Shell:  DetectShell(shellPath),
		Cwd:    cwd,
		pty:    f,
		cmd:    cmd,
		parser: NewParser(),
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns the session registered under sessionID, if any.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Close shuts down and unregisters the session.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// integrationScriptVersion is bumped whenever the rc-fragment contents
// below change, so InstallShellIntegration can detect a stale install.
const integrationScriptVersion = 1

const zshIntegrationFragment = `# qbit shell integration (auto-generated, do not edit)
__qbit_osc133_precmd() {
  printf '\e]133;A\a'
}
__qbit_osc133_preexec() {
  printf '\e]133;C;%s\a' "$1"
}
__qbit_osc7_cwd() {
  printf '\e]7;file://%s%s\a' "$HOST" "$PWD"
}
precmd_functions+=(__qbit_osc133_precmd __qbit_osc7_cwd)
preexec_functions+=(__qbit_osc133_preexec)
`

// InstallShellIntegration writes the OSC 133/7 rc-fragment into
// configDir/qbit/integration.zsh and appends a guarded source line to
// rcPath if one isn't already present, recording the fragment's schema
// version in a sibling integration.version file so future upgrades can
// detect and overwrite a stale fragment.
func InstallShellIntegration(configDir, rcPath string) error {
	if runtime.GOOS == "windows" {
		return ErrUnsupportedPlatform
	}

	qbitDir := filepath.Join(configDir, "qbit")
	if err := os.MkdirAll(qbitDir, 0o755); err != nil {
		return fmt.Errorf("pty: create config dir: %w", err)
	}

	scriptPath := filepath.Join(qbitDir, "integration.zsh")
	versionPath := filepath.Join(qbitDir, "integration.version")

	needsWrite := true
	if data, err := os.ReadFile(versionPath); err == nil {
		if strings.TrimSpace(string(data)) == fmt.Sprintf("%d", integrationScriptVersion) {
			needsWrite = false
		}
	}

	if needsWrite {
		if err := atomicWriteFile(scriptPath, []byte(zshIntegrationFragment), 0o644); err != nil {
			return err
		}
		if err := atomicWriteFile(versionPath, []byte(fmt.Sprintf("%d", integrationScriptVersion)), 0o644); err != nil {
			return err
		}
	}

	return ensureSourced(rcPath, scriptPath)
}

const sourceMarkerPrefix = "# qbit-integration-source:"

// ensureSourced appends an idempotent `source` line for scriptPath to
// rcPath, replacing any stale marker line pointing at a different path.
func ensureSourced(rcPath, scriptPath string) error {
	marker := sourceMarkerPrefix + scriptPath
	line := fmt.Sprintf("%s\n[ -f %q ] && source %q\n", marker, scriptPath, scriptPath)

	existing, err := os.ReadFile(rcPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pty: read rc file: %w", err)
	}

	lines := strings.Split(string(existing), "\n")
	var kept []string
	alreadyPresent := false
	for i := 0; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], sourceMarkerPrefix) {
			if lines[i] == marker {
				alreadyPresent = true
			}
			// Skip this marker line and the source line that follows it.
			i++
			continue
		}
		kept = append(kept, lines[i])
	}

	if alreadyPresent {
		return nil
	}

	content := strings.TrimRight(strings.Join(kept, "\n"), "\n") + "\n" + line
	return atomicWriteFile(rcPath, []byte(content), 0o644)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".qbit-tmp-*")
	if err != nil {
		return fmt.Errorf("pty: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pty: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pty: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("pty: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("pty: rename temp file: %w", err)
	}
	return nil
}

var _ io.Writer = (*Session)(nil)
