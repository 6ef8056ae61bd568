package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name  string
	calls int
	mu    sync.Mutex
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &Result{Content: "ok:" + string(params)}, nil
}

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{name: "read_file"}
	r.Register(tool)

	got, ok := r.Get("read_file")
	require.True(t, ok)
	require.Equal(t, tool, got)

	r.Unregister("read_file")
	_, ok = r.Get("read_file")
	require.False(t, ok)
}

func TestExecuteRewritesRunCommandAlias(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{name: RunPtyCmd}
	r.Register(tool)

	res, err := r.Execute(context.Background(), RunCommand, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, 1, tool.calls)
}

func TestExecuteRejectsOversizedName(t *testing.T) {
	r := NewRegistry()
	longName := strings.Repeat("a", MaxToolNameLength+1)
	res, err := r.Execute(context.Background(), longName, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestExecuteRejectsOversizedParams(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "write_file"})
	big := make([]byte, MaxToolParamsSize+1)
	res, err := r.Execute(context.Background(), "write_file", big)
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestExecuteUnknownToolIsError(t *testing.T) {
	r := NewRegistry()
	res, err := r.Execute(context.Background(), "does_not_exist", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestMatchesPatternExact(t *testing.T) {
	require.True(t, MatchesPattern("read_file", "read_file"))
	require.False(t, MatchesPattern("read_file", "write_file"))
}

func TestMatchesPatternMCPWildcard(t *testing.T) {
	require.True(t, MatchesPattern("mcp:*", "mcp:github.search"))
	require.False(t, MatchesPattern("mcp:*", "read_file"))
}

func TestMatchesPatternPrefixWildcard(t *testing.T) {
	require.True(t, MatchesPattern("sub_agent_.*", "sub_agent_.researcher"))
	require.False(t, MatchesPattern("sub_agent_.*", "read_file"))
}

func TestMatchesAny(t *testing.T) {
	patterns := []string{"read_file", "mcp:*"}
	require.True(t, MatchesAny(patterns, "mcp:db.query"))
	require.True(t, MatchesAny(patterns, "read_file"))
	require.False(t, MatchesAny(patterns, "write_file"))
}

func TestIsSubAgentToolAndID(t *testing.T) {
	require.True(t, IsSubAgentTool("sub_agent_researcher"))
	require.False(t, IsSubAgentTool("read_file"))
	require.Equal(t, "researcher", SubAgentID("sub_agent_researcher"))
}

func TestNormalizeShellArgsPreservesMetacharacters(t *testing.T) {
	got := NormalizeShellArgs([]string{"ls", "-la", "&&", "echo", "done"})
	require.Equal(t, "ls -la && echo done", got)
}

func TestRequiresApprovalDenyTakesPrecedenceOverAllow(t *testing.T) {
	require.True(t, RequiresApproval("delete_file", []string{"delete_file"}, []string{"delete_file"}, false))
}

func TestRequiresApprovalAlwaysAllow(t *testing.T) {
	require.False(t, RequiresApproval("read_file", []string{"read_file"}, nil, true))
}

func TestRequiresApprovalDefault(t *testing.T) {
	require.True(t, RequiresApproval("run_pty_cmd", nil, nil, true))
	require.False(t, RequiresApproval("run_pty_cmd", nil, nil, false))
}

func TestSubAgentConstraintsRefusesRecursion(t *testing.T) {
	c := SubAgentConstraints{}
	require.False(t, c.Allows("sub_agent_other"))
}

func TestSubAgentConstraintsWhitelist(t *testing.T) {
	c := SubAgentConstraints{AllowedTools: []string{"read_file", "grep"}}
	require.True(t, c.Allows("read_file"))
	require.False(t, c.Allows("write_file"))
}

func TestSubAgentConstraintsReadOnly(t *testing.T) {
	c := SubAgentConstraints{ReadOnly: true}
	require.True(t, c.Allows("grep"))
	require.False(t, c.Allows("write_file"))
}

func TestRouterDispatchForSubAgentRejectsDisallowed(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "write_file"})
	router := NewRouter(r)

	res, err := router.DispatchForSubAgent(context.Background(), "s1", "write_file", json.RawMessage(`{}`), SubAgentConstraints{ReadOnly: true})
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestRouterDispatchForSubAgentAllowsPermitted(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "grep"})
	router := NewRouter(r)

	res, err := router.DispatchForSubAgent(context.Background(), "s1", "grep", json.RawMessage(`{}`), SubAgentConstraints{ReadOnly: true})
	require.NoError(t, err)
	require.False(t, res.IsError)
}

// concurrencyTool records the peak number of overlapping Execute calls.
type concurrencyTool struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     int
}

func (c *concurrencyTool) Name() string { return "slow" }

func (c *concurrencyTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	c.mu.Lock()
	c.calls++
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	c.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return &Result{Content: "ok"}, nil
}

func TestRouterSerializesPerSession(t *testing.T) {
	r := NewRegistry()
	slow := &concurrencyTool{}
	r.Register(slow)
	router := NewRouter(r)

	var wg sync.WaitGroup
	var order []int
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = router.Dispatch(context.Background(), "same-session", "slow", json.RawMessage(`{}`))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	require.Equal(t, 5, slow.calls)
	require.Len(t, order, 5)
	require.Equal(t, 1, slow.maxActive, "dispatches within one session must not overlap")
}

func TestRouterLockReleasedAfterUse(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "t"})
	router := NewRouter(r)

	done := make(chan struct{})
	go func() {
		_, _ = router.Dispatch(context.Background(), "s", "t", json.RawMessage(`{}`))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not complete")
	}

	router.locksMu.Lock()
	_, held := router.locks["s"]
	router.locksMu.Unlock()
	require.False(t, held, "session lock entry should be cleaned up after use")
}
