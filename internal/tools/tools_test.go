package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/calendar"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCalendar struct {
	listCalls []struct{ calendarID, start, end string }
	booked    []calendar.AppointmentRequest
	err       error
}

func (c *recordingCalendar) ListSlots(ctx context.Context, calendarID, startISO, endISO string) ([]calendar.Slot, error) {
	c.listCalls = append(c.listCalls, struct{ calendarID, start, end string }{calendarID, startISO, endISO})
	return nil, c.err
}

func (c *recordingCalendar) CreateAppointment(ctx context.Context, req calendar.AppointmentRequest) (calendar.Appointment, error) {
	if c.err != nil {
		return calendar.Appointment{}, c.err
	}
	c.booked = append(c.booked, req)
	return calendar.Appointment{ID: "appt-1", CalendarID: req.CalendarID, Title: req.Title, StartTime: req.StartTime, Status: "confirmed"}, nil
}

func bookingConfig() types.AgentConfig {
	return types.AgentConfig{
		AgentID: "a1",
		Calendar: types.CalendarConfig{
			BookingEnabled: true,
			Provider:       types.CalendarProviderGoHighLevel,
			CalendarID:     "cal-1",
		},
	}
}

func newHandler(t *testing.T, cfg types.AgentConfig, contact *types.ContactInfo) (*Handler, *cache.ContextStore, *recordingCalendar) {
	t.Helper()
	store := cache.NewContextStore()
	_, err := store.Create("c1", types.ContextInit{TenantID: "t1", AgentID: "a1", AgentConfig: cfg, ContactInfo: contact})
	require.NoError(t, err)
	cal := &recordingCalendar{}
	h := NewHandler(store, calendar.Providers{types.CalendarProviderGoHighLevel: cal}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	return h, store, cal
}

func TestResolveDay(t *testing.T) {
	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	tests := []struct {
		token     string
		wantStart string
		wantEnd   string
	}{
		{"", "2024-01-01T00:00:00.000Z", "2024-01-01T23:59:59.999Z"},
		{"today", "2024-01-01T00:00:00.000Z", "2024-01-01T23:59:59.999Z"},
		{"tomorrow", "2024-01-02T00:00:00.000Z", "2024-01-02T23:59:59.999Z"},
		{"Tomorrow", "2024-01-02T00:00:00.000Z", "2024-01-02T23:59:59.999Z"},
		{"2024-02-29", "2024-02-29T00:00:00.000Z", "2024-02-29T23:59:59.999Z"},
		{"2024-03-10T22:30:00-05:00", "2024-03-11T00:00:00.000Z", "2024-03-11T23:59:59.999Z"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			start, end, err := ResolveDay(tt.token, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start.Format(calendar.ISOMillis))
			assert.Equal(t, tt.wantEnd, end.Format(calendar.ISOMillis))
		})
	}

	_, _, err := ResolveDay("next week", now)
	assert.Error(t, err)
}

func TestTomorrowBoundaryQueriesNextUTCDay(t *testing.T) {
	h, _, cal := newHandler(t, bookingConfig(), nil)
	h.WithClock(func() time.Time { return time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC) })

	res := h.Invoke(context.Background(), "c1", ToolGetAvailableSlots, map[string]any{"date": "tomorrow"})
	require.True(t, res.Success, res.Error)

	require.Len(t, cal.listCalls, 1)
	assert.Equal(t, "cal-1", cal.listCalls[0].calendarID)
	assert.Equal(t, "2024-01-02T00:00:00.000Z", cal.listCalls[0].start)
	assert.Equal(t, "2024-01-02T23:59:59.999Z", cal.listCalls[0].end)

	data := res.Data.(map[string]any)
	assert.Equal(t, "2024-01-02", data["date"])
	assert.NotNil(t, data["slots"])
}

func TestBookingDisabledReturnsCapabilityDisabled(t *testing.T) {
	h, _, cal := newHandler(t, types.AgentConfig{AgentID: "a1"}, nil)

	res := h.Invoke(context.Background(), "c1", ToolBookAppointment, map[string]any{"startTime": "2024-01-01T10:00:00Z"})
	assert.Equal(t, Result{Success: false, Error: "capability disabled"}, res)
	assert.Empty(t, cal.booked)
}

func TestUnsupportedProviderIsDisabled(t *testing.T) {
	cfg := bookingConfig()
	cfg.Calendar.Provider = "outlook"
	h, _, _ := newHandler(t, cfg, nil)

	res := h.Invoke(context.Background(), "c1", ToolGetAvailableSlots, nil)
	assert.Equal(t, "capability disabled", res.Error)
}

func TestUnknownCall(t *testing.T) {
	h, _, _ := newHandler(t, bookingConfig(), nil)

	res := h.Invoke(context.Background(), "ghost", ToolGetAvailableSlots, nil)
	assert.Equal(t, Result{Success: false, Error: "no active conversation"}, res)
}

func TestUnknownTool(t *testing.T) {
	h, _, _ := newHandler(t, bookingConfig(), nil)

	res := h.Invoke(context.Background(), "c1", "transfer_call", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "tool not recognized: transfer_call", res.Error)
}

func TestBookAppointment(t *testing.T) {
	contact := &types.ContactInfo{ContactID: "ct-1", FirstName: "Ana", LastName: "Ruiz"}
	h, store, cal := newHandler(t, bookingConfig(), contact)

	res := h.Invoke(context.Background(), "c1", ToolBookAppointment, map[string]any{"startTime": "2024-01-01T10:00:00Z"})
	require.True(t, res.Success, res.Error)

	require.Len(t, cal.booked, 1)
	req := cal.booked[0]
	assert.Equal(t, "cal-1", req.CalendarID)
	assert.Equal(t, "ct-1", req.ContactID)
	assert.Equal(t, "Appointment with Ana Ruiz", req.Title)
	assert.True(t, req.StartTime.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	cc, err := store.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"appt-1"}, cc.Appointments)
	assert.Contains(t, cc.Topics, "appointment_booked")
}

func TestBookAppointmentOverrides(t *testing.T) {
	h, _, cal := newHandler(t, bookingConfig(), nil)

	res := h.Invoke(context.Background(), "c1", ToolBookAppointment, map[string]any{
		"startTime":  "2024-01-01T10:00:00Z",
		"calendarId": "cal-2",
		"title":      "Root canal",
	})
	require.True(t, res.Success)
	assert.Equal(t, "cal-2", cal.booked[0].CalendarID)
	assert.Equal(t, "Root canal", cal.booked[0].Title)
	assert.Empty(t, cal.booked[0].ContactID)
}

func TestBookAppointmentValidation(t *testing.T) {
	h, _, cal := newHandler(t, bookingConfig(), nil)

	res := h.Invoke(context.Background(), "c1", ToolBookAppointment, map[string]any{})
	assert.Equal(t, "startTime is required", res.Error)

	res = h.Invoke(context.Background(), "c1", ToolBookAppointment, map[string]any{"startTime": "10am"})
	assert.Equal(t, "invalid startTime: 10am", res.Error)

	cal.err = errors.New("calendar down")
	res = h.Invoke(context.Background(), "c1", ToolBookAppointment, map[string]any{"startTime": "2024-01-01T10:00:00Z"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "calendar down")
}

func TestDefaultTitle(t *testing.T) {
	assert.Equal(t, "Phone appointment", DefaultTitle(nil))
	assert.Equal(t, "Phone appointment", DefaultTitle(&types.ContactInfo{Phone: "+34600000000"}))
	assert.Equal(t, "Appointment with Ana", DefaultTitle(&types.ContactInfo{FirstName: "Ana"}))
}

func TestHandleInvoke(t *testing.T) {
	h, _, _ := newHandler(t, types.AgentConfig{}, nil)

	body := `{"callId":"c1","toolName":"book_appointment","parameters":{"startTime":"2024-01-01T10:00:00Z"}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/tools/invoke", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleInvoke(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var res Result
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, Result{Success: false, Error: "capability disabled"}, res)

	req = httptest.NewRequest(http.MethodPost, "/internal/tools/invoke", strings.NewReader("{"))
	rr = httptest.NewRecorder()
	h.HandleInvoke(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var errBody map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errBody))
	assert.Equal(t, "invalid request body", errBody["error"])
}

func TestCalendarRoutedByProvider(t *testing.T) {
	store := cache.NewContextStore()
	ghl := &recordingCalendar{}
	internal := &recordingCalendar{}
	h := NewHandler(store, calendar.Providers{
		types.CalendarProviderGoHighLevel: ghl,
		types.CalendarProviderInternal:    internal,
	}, nil, zerolog.Nop())

	cfg := bookingConfig()
	cfg.Calendar.Provider = types.CalendarProviderInternal
	_, err := store.Create("c1", types.ContextInit{TenantID: "t1", AgentID: "a1", AgentConfig: cfg})
	require.NoError(t, err)
	_, err = store.Create("c2", types.ContextInit{TenantID: "t1", AgentID: "a2", AgentConfig: bookingConfig()})
	require.NoError(t, err)

	require.True(t, h.Invoke(context.Background(), "c1", ToolGetAvailableSlots, nil).Success)
	require.True(t, h.Invoke(context.Background(), "c2", ToolGetAvailableSlots, nil).Success)

	assert.Len(t, internal.listCalls, 1)
	assert.Len(t, ghl.listCalls, 1)
}

func TestProviderWithoutClientIsDisabled(t *testing.T) {
	store := cache.NewContextStore()
	cal := &recordingCalendar{}
	h := NewHandler(store, calendar.Providers{types.CalendarProviderInternal: cal}, nil, zerolog.Nop())

	_, err := store.Create("c1", types.ContextInit{TenantID: "t1", AgentID: "a1", AgentConfig: bookingConfig()})
	require.NoError(t, err)

	res := h.Invoke(context.Background(), "c1", ToolBookAppointment, map[string]any{"startTime": "2024-01-01T10:00:00Z"})
	assert.Equal(t, Result{Success: false, Error: "capability disabled"}, res)
	assert.Empty(t, cal.booked)
}
