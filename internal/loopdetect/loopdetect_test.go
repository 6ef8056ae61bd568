package loopdetect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObserveRunLength(t *testing.T) {
	d := New()
	h := HashArgs([]byte(`{"path":"."}`))
	for i := 1; i <= 9; i++ {
		require.Equal(t, i, d.Observe("list_files", h))
	}
	require.False(t, d.ShouldBlock(9))
	require.True(t, d.ShouldWarn(9))
	require.Equal(t, 10, d.Observe("list_files", h))
	require.True(t, d.ShouldBlock(10))
}

func TestObserveResetsOnDifferentArgs(t *testing.T) {
	d := New()
	h1 := HashArgs([]byte(`{"path":"."}`))
	h2 := HashArgs([]byte(`{"path":"/tmp"}`))
	require.Equal(t, 1, d.Observe("list_files", h1))
	require.Equal(t, 2, d.Observe("list_files", h1))
	require.Equal(t, 1, d.Observe("list_files", h2))
}

func TestObserveIsolatedPerTool(t *testing.T) {
	d := New()
	h := HashArgs([]byte(`{}`))
	require.Equal(t, 1, d.Observe("a", h))
	require.Equal(t, 1, d.Observe("b", h))
	require.Equal(t, 2, d.Observe("a", h))
}

func TestCustomThresholds(t *testing.T) {
	d := NewWithThresholds(2, 3)
	require.Equal(t, 2, d.WarnAt())
	require.Equal(t, 3, d.BlockAt())
}
