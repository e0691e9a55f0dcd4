package monitor

import (
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/notify"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetRecorder struct{ widgets []types.Widget }

func (r *widgetRecorder) BroadcastWidget(w types.Widget) { r.widgets = append(r.widgets, w) }

func TestScanReportsOrphanOncePerEpisode(t *testing.T) {
	store := cache.NewContextStore()
	events := &notify.Recorder{}
	widgets := &widgetRecorder{}
	m := metrics.New(prometheus.NewRegistry())
	mon := New(store, events, widgets, m, zerolog.Nop(), 5*time.Minute, time.Second)

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Create("old", types.ContextInit{TenantID: "t1", StartedAt: start})
	require.NoError(t, err)
	_, err = store.Create("new", types.ContextInit{TenantID: "t2", StartedAt: start.Add(5 * time.Minute)})
	require.NoError(t, err)

	now := start.Add(6 * time.Minute)
	w := mon.Scan(now)
	assert.Equal(t, 2, w.Summary.ActiveCalls)
	assert.Equal(t, 1, w.Summary.Orphaned)
	assert.Equal(t, "old", w.Calls[0].CallID)
	require.Len(t, events.OfType(types.EventConversationOrphaned), 1)
	assert.Equal(t, "old", events.OfType(types.EventConversationOrphaned)[0].CallID)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrphanedContexts))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveCalls))

	// Still orphaned, no new event
	mon.Scan(now.Add(time.Minute))
	assert.Len(t, events.OfType(types.EventConversationOrphaned), 1)

	// Activity resumes, then goes idle again: a new episode
	require.NoError(t, store.Mutate("old", func(c *types.CallContext) error {
		c.LastActivityAt = now.Add(time.Minute)
		return nil
	}))
	mon.Scan(now.Add(2 * time.Minute))
	assert.Len(t, events.OfType(types.EventConversationOrphaned), 1)

	mon.Scan(now.Add(7 * time.Minute))
	assert.Len(t, events.OfType(types.EventConversationOrphaned), 3) // old again, new for the first time

	// The store is never evicted by the monitor
	assert.Equal(t, 2, store.Count())
	assert.Len(t, widgets.widgets, 4)
}

func TestScanEmptyStore(t *testing.T) {
	mon := New(cache.NewContextStore(), &notify.Recorder{}, nil, nil, zerolog.Nop(), time.Minute, time.Second)
	w := mon.Scan(time.Now())
	assert.Equal(t, WidgetType, w.Type)
	assert.Zero(t, w.Summary.ActiveCalls)
	assert.Empty(t, w.Calls)
}
