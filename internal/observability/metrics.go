// Package observability centralizes the runtime's Prometheus metrics
// and OpenTelemetry tracing setup. Subsystems record through the
// package-level Default metrics instance; the CLI entrypoint decides
// whether an OTLP exporter is attached.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the agent runtime's operational counters.
type Metrics struct {
	// ToolExecutions counts tool dispatches.
	// Labels: tool_name, status (success|error).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionSeconds measures tool dispatch latency.
	// Labels: tool_name.
	ToolExecutionSeconds *prometheus.HistogramVec

	// ApprovalDecisions counts HITL outcomes.
	// Labels: tool_name, decision (approved|denied|auto).
	ApprovalDecisions *prometheus.CounterVec

	// LoopBlocks counts loop-detector interventions.
	// Labels: tool_name, action (warn|block).
	LoopBlocks *prometheus.CounterVec

	// Compactions counts context-compaction runs per session outcome.
	// Labels: status (success|error).
	Compactions *prometheus.CounterVec

	// TokensUsed tracks LLM token consumption.
	// Labels: model, type (input|output).
	TokensUsed *prometheus.CounterVec

	// StreamParseErrors counts malformed SSE events per provider dialect.
	// Labels: provider.
	StreamParseErrors *prometheus.CounterVec
}

// NewMetrics registers a fresh Metrics set on reg (nil means the default
// Prometheus registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_tool_executions_total",
			Help: "Tool dispatches by tool name and status.",
		}, []string{"tool_name", "status"}),

		ToolExecutionSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qbit_tool_execution_seconds",
			Help:    "Tool dispatch latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"tool_name"}),

		ApprovalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_approval_decisions_total",
			Help: "Human-in-the-loop approval outcomes.",
		}, []string{"tool_name", "decision"}),

		LoopBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_loop_detector_total",
			Help: "Loop-detector warnings and blocks.",
		}, []string{"tool_name", "action"}),

		Compactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_context_compactions_total",
			Help: "Context-compaction runs.",
		}, []string{"status"}),

		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_llm_tokens_total",
			Help: "LLM token consumption by model and direction.",
		}, []string{"model", "type"}),

		StreamParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qbit_stream_parse_errors_total",
			Help: "Malformed SSE events per provider dialect.",
		}, []string{"provider"}),
	}
}

// defaultRegistry is the private registry Default records against, so
// importing this package never collides with an embedding application's
// default registry; Gatherer exposes it for scraping.
var defaultRegistry = prometheus.NewRegistry()

// Default is the process-wide metrics set.
var Default = NewMetrics(defaultRegistry)

// Gatherer returns the registry backing Default, for mounting a
// /metrics handler.
func Gatherer() prometheus.Gatherer { return defaultRegistry }
