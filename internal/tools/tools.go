// Package tools answers mid-call tool invocations from the conversational agent.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/calendar"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

// Tool names
const (
	ToolGetAvailableSlots = "get_available_calendar_slots"
	ToolBookAppointment   = "book_appointment"
)

// Result is the tagged outcome returned to the agent
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func succeeded(data any) Result { return Result{Success: true, Data: data} }

func failed(msg string) Result { return Result{Success: false, Error: msg} }

func failedErr(err error) Result { return failed(err.Error()) }

// Handler runs tools against the live call context
type Handler struct {
	store     *cache.ContextStore
	calendars calendar.Providers
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewHandler creates a tool handler. Agents whose provider has no client
// in calendars are treated as having booking disabled.
func NewHandler(store *cache.ContextStore, calendars calendar.Providers, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		store:     store,
		calendars: calendars,
		metrics:   m,
		logger:    logger.With().Str("component", "tools").Logger(),
		now:       time.Now,
	}
}

// WithClock overrides the clock used to resolve relative dates
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Invoke runs toolName for callID. It never returns a Go error; every
// outcome is a Result.
func (h *Handler) Invoke(ctx context.Context, callID, toolName string, params map[string]any) Result {
	res := h.invoke(ctx, callID, toolName, params)
	if h.metrics != nil {
		h.metrics.ToolInvocations.WithLabelValues(metricTool(toolName), fmt.Sprint(res.Success)).Inc()
	}
	h.logger.Info().
		Str("call_id", callID).
		Str("tool", toolName).
		Bool("success", res.Success).
		Str("error", res.Error).
		Msg("tool invoked")
	return res
}

func (h *Handler) invoke(ctx context.Context, callID, toolName string, params map[string]any) Result {
	cc, err := h.store.Get(callID)
	if err != nil {
		return failedErr(types.ErrNoActiveConversation)
	}

	switch toolName {
	case ToolGetAvailableSlots, ToolBookAppointment:
	default:
		return failed("tool not recognized: " + toolName)
	}

	if !cc.AgentConfig.BookingEnabled() {
		return failedErr(types.ErrCapabilityDisabled)
	}
	cal, ok := h.calendars.For(cc.AgentConfig.Calendar.Provider)
	if !ok {
		h.logger.Warn().Str("call_id", callID).Str("provider", string(cc.AgentConfig.Calendar.Provider)).Msg("no calendar client for provider")
		return failedErr(types.ErrCapabilityDisabled)
	}

	if toolName == ToolGetAvailableSlots {
		return h.availableSlots(ctx, cal, cc, params)
	}
	return h.bookAppointment(ctx, cal, cc, params)
}

func (h *Handler) availableSlots(ctx context.Context, cal calendar.Client, cc types.CallContext, params map[string]any) Result {
	start, end, err := ResolveDay(stringParam(params, "date"), h.now())
	if err != nil {
		return failedErr(err)
	}
	calendarID := cc.AgentConfig.Calendar.CalendarID
	if calendarID == "" {
		return failed("no calendar configured")
	}

	startISO := start.Format(calendar.ISOMillis)
	endISO := end.Format(calendar.ISOMillis)
	slots, err := cal.ListSlots(ctx, calendarID, startISO, endISO)
	if err != nil {
		h.logger.Error().Err(err).Str("call_id", cc.CallID).Str("calendar_id", calendarID).Msg("failed to list slots")
		return failedErr(err)
	}
	if slots == nil {
		slots = []calendar.Slot{}
	}

	return succeeded(map[string]any{
		"date":      start.Format(time.DateOnly),
		"startTime": startISO,
		"endTime":   endISO,
		"slots":     slots,
	})
}

func (h *Handler) bookAppointment(ctx context.Context, cal calendar.Client, cc types.CallContext, params map[string]any) Result {
	raw := stringParam(params, "startTime")
	if raw == "" {
		return failed("startTime is required")
	}
	startTime, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return failed("invalid startTime: " + raw)
	}

	calendarID := stringParam(params, "calendarId")
	if calendarID == "" {
		calendarID = cc.AgentConfig.Calendar.CalendarID
	}
	if calendarID == "" {
		return failed("no calendar configured")
	}

	title := stringParam(params, "title")
	if title == "" {
		title = DefaultTitle(cc.ContactInfo)
	}

	req := calendar.AppointmentRequest{
		CalendarID: calendarID,
		Title:      title,
		StartTime:  startTime.UTC(),
	}
	if cc.ContactInfo != nil {
		req.ContactID = cc.ContactInfo.ContactID
	}

	appt, err := cal.CreateAppointment(ctx, req)
	if err != nil {
		h.logger.Error().Err(err).Str("call_id", cc.CallID).Str("calendar_id", calendarID).Msg("failed to book appointment")
		return failedErr(err)
	}

	err = h.store.Mutate(cc.CallID, func(c *types.CallContext) error {
		c.Appointments = append(c.Appointments, appt.ID)
		c.AddTopic("appointment_booked")
		return nil
	})
	if errors.Is(err, types.ErrNotFound) {
		// The booking stands even though the call hung up meanwhile
		h.logger.Warn().Str("call_id", cc.CallID).Str("appointment_id", appt.ID).Msg("call ended before booking was recorded")
	}

	return succeeded(appt)
}

// ResolveDay maps a date token to its UTC day window
// [00:00:00.000, 23:59:59.999]. Accepts "" or "today", "tomorrow",
// YYYY-MM-DD and RFC3339.
func ResolveDay(token string, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	var day time.Time
	switch t := strings.ToLower(strings.TrimSpace(token)); t {
	case "", "today":
		day = now
	case "tomorrow":
		day = now.AddDate(0, 0, 1)
	default:
		if d, err := time.Parse(time.DateOnly, t); err == nil {
			day = d
		} else if d, err := time.Parse(time.RFC3339, strings.TrimSpace(token)); err == nil {
			day = d.UTC()
		} else {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date: %s", token)
		}
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Millisecond)
	return start, end, nil
}

// DefaultTitle names a booking after the caller when known
func DefaultTitle(contact *types.ContactInfo) string {
	if contact != nil {
		if name := contact.DisplayName(); name != "" {
			return "Appointment with " + name
		}
	}
	return "Phone appointment"
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

// metricTool keeps label cardinality bounded
func metricTool(name string) string {
	switch name {
	case ToolGetAvailableSlots, ToolBookAppointment:
		return name
	default:
		return "unknown"
	}
}
