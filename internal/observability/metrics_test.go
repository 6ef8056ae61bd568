package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ToolExecutions.WithLabelValues("read_file", "success").Inc()
	m.ToolExecutions.WithLabelValues("read_file", "success").Inc()
	m.ToolExecutions.WithLabelValues("grep", "error").Inc()
	m.TokensUsed.WithLabelValues("claude-4", "input").Add(120)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ToolExecutions.WithLabelValues("read_file", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolExecutions.WithLabelValues("grep", "error")))
	assert.Equal(t, float64(120), testutil.ToFloat64(m.TokensUsed.WithLabelValues("claude-4", "input")))
}

func TestDefaultRegistryIsolated(t *testing.T) {
	Default.LoopBlocks.WithLabelValues("list_files", "block").Inc()

	families, err := Gatherer().Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "qbit_loop_detector_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSetupTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
