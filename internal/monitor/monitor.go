// Package monitor scans live calls for orphans and publishes the
// active-calls widget.
package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/alerts"
	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/notify"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

// WidgetType is the widget the monitor publishes
const WidgetType = "active_calls"

// WidgetBroadcaster receives the periodic widget
type WidgetBroadcaster interface {
	BroadcastWidget(widget types.Widget)
}

// Monitor periodically inspects the context store. It never evicts: a call
// only ends on a telephony end signal.
type Monitor struct {
	store     *cache.ContextStore
	sink      notify.Sink
	widgets   WidgetBroadcaster
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	threshold time.Duration
	interval  time.Duration

	// orphaned holds calls already reported in the current orphan episode.
	// Only the Start goroutine touches it.
	orphaned map[string]bool
}

// New creates a monitor
func New(store *cache.ContextStore, sink notify.Sink, widgets WidgetBroadcaster, m *metrics.Metrics, logger zerolog.Logger, threshold, interval time.Duration) *Monitor {
	return &Monitor{
		store:     store,
		sink:      sink,
		widgets:   widgets,
		metrics:   m,
		logger:    logger.With().Str("component", "monitor").Logger(),
		threshold: threshold,
		interval:  interval,
		orphaned:  make(map[string]bool),
	}
}

// Start runs scans until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("interval", m.interval).
		Dur("orphan_threshold", m.threshold).
		Msg("monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor stopped")
			return
		case now := <-ticker.C:
			m.Scan(now)
		}
	}
}

// Scan runs one inspection cycle and returns the widget it published
func (m *Monitor) Scan(now time.Time) types.Widget {
	contexts := m.store.List()
	calls := make([]types.CallSummary, 0, len(contexts))
	for i := range contexts {
		calls = append(calls, contexts[i].Summary())
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].StartedAt.Before(calls[j].StartedAt) })

	alerts.CheckCallAlerts(calls, now, m.threshold)

	summary := types.WidgetSummary{ActiveCalls: len(calls)}
	current := make(map[string]bool)
	for _, call := range calls {
		summary.TotalTurns += call.TurnCount
		if !alerts.HasRule(call, types.RuleOrphaned) {
			continue
		}
		summary.Orphaned++
		current[call.CallID] = true

		if m.orphaned[call.CallID] {
			continue
		}
		m.sink.Notify(types.NewEvent(types.EventConversationOrphaned, call.CallID, call.TenantID, map[string]any{
			"lastActivityAt": call.LastActivityAt.UTC(),
			"idleSecs":       now.Sub(call.LastActivityAt).Seconds(),
			"turnCount":      call.TurnCount,
		}))
		m.logger.Warn().
			Str("call_id", call.CallID).
			Str("tenant_id", call.TenantID).
			Time("last_activity", call.LastActivityAt).
			Msg("orphaned conversation context")
	}
	// An episode ends when the call is active again or gone
	m.orphaned = current

	if m.metrics != nil {
		m.metrics.ActiveCalls.Set(float64(summary.ActiveCalls))
		m.metrics.OrphanedContexts.Set(float64(summary.Orphaned))
	}

	widget := types.Widget{
		Type:      WidgetType,
		Timestamp: now,
		Summary:   summary,
		Calls:     calls,
	}
	if m.widgets != nil {
		m.widgets.BroadcastWidget(widget)
	}

	m.logger.Debug().
		Int("active_calls", summary.ActiveCalls).
		Int("orphaned", summary.Orphaned).
		Msg("monitor scan complete")
	return widget
}
