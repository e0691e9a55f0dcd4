package main

import (
	"context"
	"fmt"

	"github.com/dennisdiepolder/monti/convo/internal/storage"
	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// seedDemo registers a bookable demo agent and one known caller so a local
// call can be driven end to end without provisioning a directory.
func seedDemo(ctx context.Context, seeder storage.Seeder) error {
	agent := types.AgentConfig{
		AgentID:      "demo-agent",
		TenantID:     "demo",
		Name:         "Reception",
		SystemPrompt: "You are a friendly receptionist for a dental clinic. Keep answers short.",
		Language:     "en",
		Voice:        types.VoiceConfig{VoiceID: "21m00Tcm4TlvDq8ikWAM"},
		Calendar: types.CalendarConfig{
			BookingEnabled: true,
			Provider:       types.CalendarProviderInternal,
			CalendarID:     demoCalendarID,
			Timezone:       "UTC",
		},
	}
	if err := seeder.PutAgentConfig(ctx, agent); err != nil {
		return fmt.Errorf("seed agent: %w", err)
	}

	contact := types.ContactInfo{
		ContactID: "demo-contact",
		TenantID:  "demo",
		FirstName: "Ana",
		LastName:  "Ruiz",
		Phone:     "+34600000000",
	}
	if err := seeder.PutContact(ctx, contact); err != nil {
		return fmt.Errorf("seed contact: %w", err)
	}
	return nil
}
