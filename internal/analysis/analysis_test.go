package analysis

import (
	"testing"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

func TestIntent(t *testing.T) {
	tests := []struct {
		transcript string
		want       types.Intent
	}{
		{"Hola, necesito información", types.IntentInformation},
		{"I'd like to book an appointment", types.IntentBooking},
		{"Quiero cancelar mi cita", types.IntentCancel},
		{"What times are available tomorrow?", types.IntentAvailability},
		{"How much does it cost?", types.IntentPricing},
		{"Hello there", types.IntentGreeting},
		{"ok goodbye", types.IntentFarewell},
		{"the weather is nice", types.IntentOther},
		{"this isn't ideal", types.IntentOther},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			if got := Intent(tt.transcript); got != tt.want {
				t.Errorf("Intent(%q) = %s, want %s", tt.transcript, got, tt.want)
			}
		})
	}
}

func TestSentiment(t *testing.T) {
	tests := []struct {
		transcript string
		want       types.Sentiment
	}{
		{"Perfecto, muchas gracias", types.SentimentPositive},
		{"This is terrible, nothing works", types.SentimentNegative},
		{"I need an appointment", types.SentimentNeutral},
		{"good but there is a problem", types.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			if got := Sentiment(tt.transcript); got != tt.want {
				t.Errorf("Sentiment(%q) = %s, want %s", tt.transcript, got, tt.want)
			}
		})
	}
}
