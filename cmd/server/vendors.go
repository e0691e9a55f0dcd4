package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/calendar"
	"github.com/dennisdiepolder/monti/convo/internal/config"
	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/providers/cartesia"
	"github.com/dennisdiepolder/monti/convo/internal/providers/elevenlabs"
	"github.com/dennisdiepolder/monti/convo/internal/providers/fake"
	"github.com/dennisdiepolder/monti/convo/internal/providers/gemini"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog/log"
)

const demoCalendarID = "demo-calendar"

type vendorSet struct {
	transcriber pipeline.Transcriber
	generator   pipeline.Generator
	synthesizer pipeline.Synthesizer
	calendars   calendar.Providers
	close       func()
}

func newVendors(ctx context.Context, cfg *config.Config) (vendorSet, error) {
	set := vendorSet{close: func() {}}

	// Agents on the internal provider book against the in-process calendar;
	// gohighlevel agents need CALENDAR_API_URL
	set.calendars = calendar.Providers{
		types.CalendarProviderInternal: calendar.NewMemoryClient(demoCalendarID),
	}
	if cfg.CalendarAPIURL != "" {
		set.calendars[types.CalendarProviderGoHighLevel] = calendar.NewHTTPClient(cfg.CalendarAPIURL, cfg.CalendarAPIToken, &http.Client{Timeout: 10 * time.Second})
	} else {
		log.Warn().Msg("CALENDAR_API_URL not set, gohighlevel booking disabled")
	}

	if cfg.VendorMode == config.VendorModeFake {
		log.Info().Msg("using fake vendor adapters (VENDOR_MODE=fake)")
		set.transcriber = fake.Transcriber{}
		set.generator = fake.Generator{}
		set.synthesizer = fake.Synthesizer{}
		return set, nil
	}

	if cfg.CartesiaAPIKey == "" || cfg.GeminiAPIKey == "" || cfg.ElevenLabsAPIKey == "" {
		return vendorSet{}, errors.New("live vendor mode requires CARTESIA_API_KEY, GEMINI_API_KEY and ELEVENLABS_API_KEY")
	}

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return vendorSet{}, err
	}
	synth := elevenlabs.New(cfg.ElevenLabsAPIKey, "", log.Logger)

	set.transcriber = cartesia.New(cfg.CartesiaAPIKey, "", &http.Client{Timeout: cfg.STTTimeout})
	set.generator = gemini.New(client.Models, cfg.GeminiModel)
	set.synthesizer = synth
	set.close = synth.Close
	return set, nil
}
