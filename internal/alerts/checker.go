package alerts

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// FailedTurnsThreshold is the failed turn count that raises a warning
const FailedTurnsThreshold = 3

// CheckCallAlerts evaluates alert rules for a slice of calls,
// mutating each call's Alerts field in place. A call idle past
// orphanAfter is orphaned; idle past half of it raises a warning.
func CheckCallAlerts(calls []types.CallSummary, now time.Time, orphanAfter time.Duration) {
	for i := range calls {
		calls[i].Alerts = nil
		c := &calls[i]

		idle := now.Sub(c.LastActivityAt)
		switch {
		case idle > orphanAfter:
			c.Alerts = append(c.Alerts, types.CallAlert{
				CallID:   c.CallID,
				TenantID: c.TenantID,
				Rule:     types.RuleOrphaned,
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("No activity for %s", formatDuration(idle)),
			})
		case idle > orphanAfter/2:
			c.Alerts = append(c.Alerts, types.CallAlert{
				CallID:   c.CallID,
				TenantID: c.TenantID,
				Rule:     types.RuleIdle,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("Idle for %s", formatDuration(idle)),
			})
		}

		if c.FailedTurns >= FailedTurnsThreshold {
			c.Alerts = append(c.Alerts, types.CallAlert{
				CallID:   c.CallID,
				TenantID: c.TenantID,
				Rule:     types.RuleFailedTurns,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("%d failed turns", c.FailedTurns),
			})
		}
	}
}

// HasRule reports whether the call carries an alert for rule
func HasRule(c types.CallSummary, rule string) bool {
	for _, a := range c.Alerts {
		if a.Rule == rule {
			return true
		}
	}
	return false
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
