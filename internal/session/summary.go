package session

import (
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// Summarize computes the end-of-call figures from the final context
func Summarize(c types.CallContext, reason string, endedAt time.Time) Summary {
	s := Summary{
		CallID:       c.CallID,
		TenantID:     c.TenantID,
		AgentID:      c.AgentID,
		Reason:       reason,
		DurationSecs: endedAt.Sub(c.StartedAt).Seconds(),
		TurnCount:    len(c.Turns),
		Topics:       c.Topics,
		Appointments: c.Appointments,
	}
	if s.DurationSecs < 0 {
		s.DurationSecs = 0
	}

	var totalLatency int64
	for _, t := range c.Turns {
		switch {
		case t.Failed:
			s.FailedTurns++
		case t.LatencyMs != nil:
			s.CompletedTurns++
			totalLatency += *t.LatencyMs
		}
	}
	if s.CompletedTurns > 0 {
		s.AvgLatencyMs = float64(totalLatency) / float64(s.CompletedTurns)
	}
	return s
}

// Record builds the persisted form of an ended call
func Record(c types.CallContext, s Summary, endedAt time.Time) types.ConversationRecord {
	return types.ConversationRecord{
		DateKey:      c.StartedAt.UTC().Format(time.DateOnly),
		CallID:       c.CallID,
		TenantID:     c.TenantID,
		AgentID:      c.AgentID,
		ContactID:    c.ContactID,
		StartedAt:    c.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:      endedAt.UTC().Format(time.RFC3339),
		Reason:       s.Reason,
		DurationSecs: s.DurationSecs,
		TurnCount:    s.TurnCount,
		FailedTurns:  s.FailedTurns,
		AvgLatencyMs: s.AvgLatencyMs,
		Topics:       s.Topics,
		Appointments: s.Appointments,
		Transcript:   c.Turns,
	}
}
