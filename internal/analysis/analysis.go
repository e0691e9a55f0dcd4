// Package analysis derives intent and sentiment from caller transcripts.
package analysis

import (
	"strings"
	"unicode"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// Ordered: the first matching intent wins.
var intentKeywords = []struct {
	intent   types.Intent
	keywords []string
}{
	{types.IntentCancel, []string{"cancel", "cancelar", "anular"}},
	{types.IntentBooking, []string{"book", "appointment", "schedule", "reserve", "cita", "reservar", "agendar"}},
	{types.IntentAvailability, []string{"available", "availability", "free slot", "opening", "disponible", "disponibilidad", "horario"}},
	{types.IntentPricing, []string{"price", "cost", "how much", "precio", "cuánto", "cuanto", "costo"}},
	{types.IntentInformation, []string{"information", "info", "details", "información", "informacion", "detalles"}},
	{types.IntentFarewell, []string{"bye", "goodbye", "thanks", "adiós", "adios", "gracias"}},
	{types.IntentGreeting, []string{"hello", "hi", "good morning", "hola", "buenos días", "buenos dias", "buenas"}},
}

var positiveWords = map[string]bool{
	"great": true, "good": true, "perfect": true, "thanks": true, "thank": true, "excellent": true, "happy": true,
	"genial": true, "bien": true, "perfecto": true, "gracias": true, "excelente": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "angry": true, "problem": true, "wrong": true, "never": true, "awful": true,
	"mal": true, "problema": true, "nunca": true, "enojado": true, "horrible": true, "queja": true,
}

// Intent classifies a transcript
func Intent(transcript string) types.Intent {
	text := strings.ToLower(transcript)
	words := tokenize(text)
	for _, ik := range intentKeywords {
		for _, kw := range ik.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(text, kw) {
					return ik.intent
				}
				continue
			}
			if words[kw] {
				return ik.intent
			}
		}
	}
	return types.IntentOther
}

// Sentiment scores a transcript by counting polar words
func Sentiment(transcript string) types.Sentiment {
	score := 0
	for w := range tokenize(strings.ToLower(transcript)) {
		if positiveWords[w] {
			score++
		}
		if negativeWords[w] {
			score--
		}
	}
	switch {
	case score > 0:
		return types.SentimentPositive
	case score < 0:
		return types.SentimentNegative
	default:
		return types.SentimentNeutral
	}
}

func tokenize(text string) map[string]bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
