package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dennisdiepolder/monti/convo/internal/config"
	"github.com/dennisdiepolder/monti/convo/internal/types"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	// Check status code
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Check content type
	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	// Parse response body
	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	// Check response fields
	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != serviceName {
		t.Errorf("expected service %s, got %s", serviceName, response["service"])
	}
}

func TestNewVendorsCalendarRouting(t *testing.T) {
	tests := []struct {
		name            string
		calendarURL     string
		wantGoHighLevel bool
	}{
		{"memory only", "", false},
		{"with calendar api", "https://calendar.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{VendorMode: config.VendorModeFake, CalendarAPIURL: tt.calendarURL}

			set, err := newVendors(context.Background(), cfg)
			if err != nil {
				t.Fatalf("newVendors: %v", err)
			}
			defer set.close()

			if _, ok := set.calendars.For(types.CalendarProviderInternal); !ok {
				t.Error("expected internal provider to have a calendar")
			}
			if _, ok := set.calendars.For(types.CalendarProviderGoHighLevel); ok != tt.wantGoHighLevel {
				t.Errorf("gohighlevel calendar configured = %v, want %v", ok, tt.wantGoHighLevel)
			}
			if set.transcriber == nil || set.generator == nil || set.synthesizer == nil {
				t.Error("expected fake pipeline adapters")
			}
		})
	}
}

func TestNewVendorsLiveRequiresKeys(t *testing.T) {
	_, err := newVendors(context.Background(), &config.Config{VendorMode: config.VendorModeLive})
	if err == nil {
		t.Fatal("expected error for live mode without vendor keys")
	}
}
