package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const apiVersion = "2021-04-15"

// HTTPClient calls a GoHighLevel-style calendar REST API
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client. A nil httpClient gets a 5s timeout client.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, token: token, httpClient: httpClient}
}

type slotsResponse struct {
	Slots []Slot `json:"slots"`
}

// ListSlots returns the free slots in [startISO, endISO]
func (c *HTTPClient) ListSlots(ctx context.Context, calendarID, startISO, endISO string) ([]Slot, error) {
	q := url.Values{}
	q.Set("startDate", startISO)
	q.Set("endDate", endISO)
	endpoint := fmt.Sprintf("%s/calendars/%s/free-slots?%s", c.baseURL, url.PathEscape(calendarID), q.Encode())

	var out slotsResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return out.Slots, nil
}

// CreateAppointment books a slot
func (c *HTTPClient) CreateAppointment(ctx context.Context, req AppointmentRequest) (Appointment, error) {
	body := map[string]any{
		"calendarId": req.CalendarID,
		"title":      req.Title,
		"startTime":  req.StartTime.UTC().Format(ISOMillis),
	}
	if req.ContactID != "" {
		body["contactId"] = req.ContactID
	}

	var out Appointment
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/calendars/events/appointments", body, &out); err != nil {
		return Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCalendarNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrSlotUnavailable
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("calendar api error %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
