// Package calendar talks to the booking calendar used by mid-call tools.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// ISOMillis is the timestamp layout the calendar API expects
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

// ErrCalendarNotFound is returned when the calendar id is unknown
var ErrCalendarNotFound = errors.New("calendar not found")

// ErrSlotUnavailable is returned when booking a taken slot
var ErrSlotUnavailable = errors.New("slot unavailable")

// Slot is a bookable time window
type Slot struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// AppointmentRequest is the payload for a new booking
type AppointmentRequest struct {
	CalendarID string    `json:"calendarId"`
	ContactID  string    `json:"contactId,omitempty"`
	Title      string    `json:"title"`
	StartTime  time.Time `json:"startTime"`
}

// Appointment is a confirmed booking
type Appointment struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendarId"`
	ContactID  string    `json:"contactId,omitempty"`
	Title      string    `json:"title"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	Status     string    `json:"status"`
}

// Client is the calendar collaborator
type Client interface {
	ListSlots(ctx context.Context, calendarID, startISO, endISO string) ([]Slot, error)
	CreateAppointment(ctx context.Context, req AppointmentRequest) (Appointment, error)
}

// Providers maps each calendar provider to the client that serves it
type Providers map[types.CalendarProvider]Client

// For returns the client for the provider, if one is configured
func (p Providers) For(provider types.CalendarProvider) (Client, bool) {
	c, ok := p[provider]
	return c, ok && c != nil
}
