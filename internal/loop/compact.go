package loop

import (
	stdctx "context"
	"time"

	ctxwin "github.com/qbit-ai/qbit/internal/context"
	"github.com/qbit-ai/qbit/internal/events"
	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/internal/observability"
	"github.com/qbit-ai/qbit/internal/tokenbudget"
)

// maybeCompact runs the context-manager check between iterations. When
// the history's estimated footprint pushes utilization over the threshold
// (and the cooldown has elapsed), it emits ContextWarning and rewrites the
// history into [summary, protected tail] form via deps.Summarize. The
// returned time is the new last-compaction stamp (unchanged when no
// compaction ran).
func maybeCompact(ctx stdctx.Context, cfg Config, deps Deps, tb tokenbudget.Config, h history.History, last time.Time, _ tokenbudget.Usage) (history.History, time.Time, error) {
	used := ctxwin.EstimateHistoryTokens(h)

	mgr := ctxwin.NewManager(ctxwin.Config{
		Enabled:        true,
		Threshold:      cfg.CompactionThreshold,
		ProtectedTurns: cfg.ProtectedTurns,
		Cooldown:       cfg.CompactionCooldown,
	}, tb)
	mgr.SetClock(deps.now)

	if !last.IsZero() && deps.now().Sub(last) < cfg.CompactionCooldown {
		return h, last, nil
	}
	if !mgr.ShouldCompact(used) {
		return h, last, nil
	}

	deps.Coordinator.EmitEvent(events.ContextWarning{
		Utilization: mgr.Utilization(used),
		TotalTokens: used,
		MaxTokens:   tb.AvailableTokens(),
	})

	compacted, err := mgr.Compact(ctx, h, func(c stdctx.Context, entries []history.Entry) (string, error) {
		return deps.Summarize(c, history.History{System: h.System, Entries: entries})
	})
	if err != nil {
		observability.Default.Compactions.WithLabelValues("error").Inc()
		return h, last, err
	}
	observability.Default.Compactions.WithLabelValues("success").Inc()
	return compacted, deps.now(), nil
}
