package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryClient is an in-process calendar with fixed hourly slots.
// Used in fake vendor mode and tests.
type MemoryClient struct {
	mu           sync.Mutex
	calendars    map[string]bool
	booked       map[string]map[time.Time]Appointment
	openHour     int
	closeHour    int
	slotDuration time.Duration
}

// NewMemoryClient creates a calendar that offers hourly slots 09:00-17:00 UTC
// on each of the given calendars
func NewMemoryClient(calendarIDs ...string) *MemoryClient {
	m := &MemoryClient{
		calendars:    make(map[string]bool),
		booked:       make(map[string]map[time.Time]Appointment),
		openHour:     9,
		closeHour:    17,
		slotDuration: time.Hour,
	}
	for _, id := range calendarIDs {
		m.calendars[id] = true
		m.booked[id] = make(map[time.Time]Appointment)
	}
	return m
}

// ListSlots returns unbooked hourly slots that fall inside the window
func (m *MemoryClient) ListSlots(ctx context.Context, calendarID, startISO, endISO string) ([]Slot, error) {
	start, err := time.Parse(time.RFC3339Nano, startISO)
	if err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339Nano, endISO)
	if err != nil {
		return nil, fmt.Errorf("invalid end: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.calendars[calendarID] {
		return nil, ErrCalendarNotFound
	}

	var slots []Slot
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		for h := m.openHour; h < m.closeHour; h++ {
			s := day.Add(time.Duration(h) * time.Hour)
			if s.Before(start) || s.Add(m.slotDuration).After(end.Add(time.Millisecond)) {
				continue
			}
			if _, taken := m.booked[calendarID][s]; taken {
				continue
			}
			slots = append(slots, Slot{StartTime: s, EndTime: s.Add(m.slotDuration)})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime.Before(slots[j].StartTime) })
	return slots, nil
}

// CreateAppointment books the slot starting at req.StartTime
func (m *MemoryClient) CreateAppointment(ctx context.Context, req AppointmentRequest) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.calendars[req.CalendarID] {
		return Appointment{}, ErrCalendarNotFound
	}

	start := req.StartTime.UTC()
	if _, taken := m.booked[req.CalendarID][start]; taken {
		return Appointment{}, ErrSlotUnavailable
	}

	appt := Appointment{
		ID:         uuid.New().String(),
		CalendarID: req.CalendarID,
		ContactID:  req.ContactID,
		Title:      req.Title,
		StartTime:  start,
		EndTime:    start.Add(m.slotDuration),
		Status:     "confirmed",
	}
	m.booked[req.CalendarID][start] = appt
	return appt, nil
}
