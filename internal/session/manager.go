// Package session starts and ends conversations on telephony signals.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/notify"
	"github.com/dennisdiepolder/monti/convo/internal/storage"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const recordSaveTimeout = 10 * time.Second

// ErrInvalidRequest is returned when a start request misses an identifier
var ErrInvalidRequest = errors.New("callId, tenantId and agentId are required")

// Workers is the part of the pipeline coordinator the manager drives
type Workers interface {
	Open(callID string) error
	Close(callID string)
}

// StartRequest identifies a new call
type StartRequest struct {
	CallID    string `json:"callId"`
	TenantID  string `json:"tenantId"`
	AgentID   string `json:"agentId"`
	ContactID string `json:"contactId,omitempty"`
}

// Summary describes an ended call
type Summary struct {
	CallID         string   `json:"callId"`
	TenantID       string   `json:"tenantId"`
	AgentID        string   `json:"agentId"`
	Reason         string   `json:"reason"`
	DurationSecs   float64  `json:"durationSecs"`
	TurnCount      int      `json:"turnCount"`
	CompletedTurns int      `json:"completedTurns"`
	FailedTurns    int      `json:"failedTurns"`
	AvgLatencyMs   float64  `json:"avgLatencyMs"`
	Topics         []string `json:"topics,omitempty"`
	Appointments   []string `json:"appointments,omitempty"`
}

// Manager owns the creation and removal of call contexts
type Manager struct {
	store     *cache.ContextStore
	directory storage.Directory
	records   storage.RecordStore
	workers   Workers
	sink      notify.Sink
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	saves sync.WaitGroup
}

// NewManager creates a session manager
func NewManager(
	store *cache.ContextStore,
	directory storage.Directory,
	records storage.RecordStore,
	workers Workers,
	sink notify.Sink,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Manager {
	if records == nil {
		records = storage.NewNoopStore()
	}
	return &Manager{
		store:     store,
		directory: directory,
		records:   records,
		workers:   workers,
		sink:      sink,
		metrics:   m,
		logger:    logger.With().Str("component", "session").Logger(),
		now:       time.Now,
	}
}

// Start resolves the agent and contact and registers the call
func (m *Manager) Start(ctx context.Context, req StartRequest) (types.CallContext, error) {
	logger := m.logger.With().
		Str("call_id", req.CallID).
		Str("tenant_id", req.TenantID).
		Str("agent_id", req.AgentID).
		Logger()

	if req.CallID == "" || req.TenantID == "" || req.AgentID == "" {
		m.sessionError("invalid_request")
		return types.CallContext{}, ErrInvalidRequest
	}

	var (
		agent   types.AgentConfig
		contact *types.ContactInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agent, err = m.directory.GetAgentConfig(gctx, req.AgentID, req.TenantID)
		return err
	})
	if req.ContactID != "" {
		g.Go(func() error {
			c, err := m.directory.GetContact(gctx, req.ContactID, req.TenantID)
			if err != nil {
				// A missing contact never blocks the call
				logger.Warn().Err(err).Str("contact_id", req.ContactID).Msg("contact lookup failed, continuing without contact")
				return nil
			}
			contact = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, types.ErrAgentNotFound) {
			m.sessionError("agent_not_found")
		} else {
			m.sessionError("directory")
		}
		logger.Error().Err(err).Msg("failed to resolve agent")
		return types.CallContext{}, err
	}

	snap, err := m.store.Create(req.CallID, types.ContextInit{
		TenantID:    req.TenantID,
		AgentID:     req.AgentID,
		ContactID:   req.ContactID,
		AgentConfig: agent,
		ContactInfo: contact,
		StartedAt:   m.now(),
	})
	if err != nil {
		m.sessionError("already_exists")
		logger.Warn().Err(err).Msg("duplicate call start")
		return types.CallContext{}, err
	}

	if err := m.workers.Open(req.CallID); err != nil {
		// Roll back so the call id can be retried
		_, _ = m.store.Remove(req.CallID)
		m.sessionError("worker")
		logger.Error().Err(err).Msg("failed to open pipeline worker")
		return types.CallContext{}, err
	}

	if m.metrics != nil {
		m.metrics.SessionsStarted.Inc()
		m.metrics.ActiveCalls.Set(float64(m.store.Count()))
	}

	payload := map[string]any{
		"agentId":   req.AgentID,
		"agentName": agent.Name,
		"startedAt": snap.StartedAt.UTC(),
	}
	if req.ContactID != "" {
		payload["contactId"] = req.ContactID
		payload["contactResolved"] = contact != nil
	}
	m.sink.Notify(types.NewEvent(types.EventConversationStarted, req.CallID, req.TenantID, payload))

	logger.Info().Bool("has_contact", contact != nil).Msg("conversation started")
	return snap, nil
}

// End stops the call's pipeline and removes its context. Unknown calls are
// a no-op so repeated end signals are harmless.
func (m *Manager) End(ctx context.Context, callID, reason string) (*Summary, error) {
	if reason == "" {
		reason = "hangup"
	}
	logger := m.logger.With().Str("call_id", callID).Str("reason", reason).Logger()

	m.workers.Close(callID)

	final, err := m.store.Remove(callID)
	if errors.Is(err, types.ErrNotFound) {
		logger.Warn().Msg("end for unknown call ignored")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	endedAt := m.now()
	summary := Summarize(final, reason, endedAt)

	if m.metrics != nil {
		m.metrics.SessionsEnded.WithLabelValues(metricReason(reason)).Inc()
		m.metrics.ActiveCalls.Set(float64(m.store.Count()))
	}

	m.sink.Notify(types.NewEvent(types.EventConversationEnded, final.CallID, final.TenantID, map[string]any{
		"reason":         summary.Reason,
		"durationSecs":   summary.DurationSecs,
		"turnCount":      summary.TurnCount,
		"completedTurns": summary.CompletedTurns,
		"failedTurns":    summary.FailedTurns,
		"avgLatencyMs":   summary.AvgLatencyMs,
		"topics":         summary.Topics,
		"appointments":   summary.Appointments,
	}))

	m.saveRecord(ctx, Record(final, summary, endedAt), logger)

	logger.Info().
		Float64("duration_secs", summary.DurationSecs).
		Int("turns", summary.TurnCount).
		Int("failed_turns", summary.FailedTurns).
		Msg("conversation ended")
	return &summary, nil
}

// saveRecord persists in the background. The request context may already be
// gone by the time the write runs.
func (m *Manager) saveRecord(ctx context.Context, rec types.ConversationRecord, logger zerolog.Logger) {
	m.saves.Add(1)
	go func() {
		defer m.saves.Done()
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordSaveTimeout)
		defer cancel()

		if err := m.records.SaveConversationRecord(saveCtx, rec); err != nil {
			if m.metrics != nil {
				m.metrics.RecordSaveFailures.Inc()
			}
			logger.Error().Err(err).Msg("failed to save conversation record")
		}
	}()
}

// Wait blocks until pending record saves finish or ctx is done
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) sessionError(kind string) {
	if m.metrics != nil {
		m.metrics.SessionErrors.WithLabelValues(kind).Inc()
	}
}

func metricReason(reason string) string {
	switch reason {
	case "hangup", "completed", "transferred", "timeout", "error", "operator", "orphaned":
		return reason
	default:
		return "other"
	}
}
