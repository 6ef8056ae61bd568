package classify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testIndex(known ...string) *Index {
	idx := NewIndex()
	idx.mu.Lock()
	for _, k := range known {
		idx.commands[k] = struct{}{}
	}
	idx.built = true
	idx.mu.Unlock()
	return idx
}

func TestClassifyEmptyIsAgent(t *testing.T) {
	idx := testIndex()
	r := idx.Classify("")
	require.Equal(t, RouteAgent, r.Route)
	require.Empty(t, r.DetectedCommand)
}

func TestClassifyPathPrefixIsTerminal(t *testing.T) {
	idx := testIndex()
	require.Equal(t, RouteTerminal, idx.Classify("./build.sh").Route)
	require.Equal(t, RouteTerminal, idx.Classify("/usr/bin/env").Route)
	require.Equal(t, RouteTerminal, idx.Classify("~/bin/tool").Route)
}

func TestClassifyShellOperatorIsTerminal(t *testing.T) {
	idx := testIndex("ls")
	r := idx.Classify("ls -la | grep foo")
	require.Equal(t, RouteTerminal, r.Route)
	require.Equal(t, "ls", r.DetectedCommand)
}

func TestClassifyShellOperatorIgnoresQuotedPipes(t *testing.T) {
	idx := testIndex("echo")
	r := idx.Classify(`echo "a|b"`)
	require.Equal(t, RouteTerminal, r.Route) // still 2 tokens, terminal via rule 4
}

func TestClassifyKnownCommandWithFlags(t *testing.T) {
	idx := testIndex("git")
	r := idx.Classify("git commit -m fix")
	require.Equal(t, RouteTerminal, r.Route)
	require.Equal(t, "git", r.DetectedCommand)
}

func TestClassifyKnownCommandShortFormIsTerminal(t *testing.T) {
	idx := testIndex("git")
	r := idx.Classify("git status")
	require.Equal(t, RouteTerminal, r.Route)
	require.Equal(t, "git", r.DetectedCommand)
}

func TestClassifyKnownCommandWithPlainEnglishTailIsAgent(t *testing.T) {
	idx := testIndex("make")
	r := idx.Classify("make sure the tests pass")
	require.Equal(t, RouteAgent, r.Route)
	require.Equal(t, "make", r.DetectedCommand)
}

func TestClassifyKnownCommandWithPathTailIsTerminal(t *testing.T) {
	idx := testIndex("cat")
	r := idx.Classify("cat ./some/file.txt extra")
	require.Equal(t, RouteTerminal, r.Route)
}

func TestClassifyUnknownFirstTokenIsAgent(t *testing.T) {
	idx := testIndex("git")
	r := idx.Classify("please summarize this file")
	require.Equal(t, RouteAgent, r.Route)
	require.Empty(t, r.DetectedCommand)
}
