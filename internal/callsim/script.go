// Package callsim places simulated calls against the media stream endpoint
// so a deployment can be load tested without telephony.
package callsim

import "math/rand"

// Script is one scripted caller. Each utterance is sent as a single chunk;
// the fake vendor adapters treat chunk bytes as the transcript.
type Script struct {
	Name       string
	Weight     float64
	Utterances []string
}

// DefaultScripts cover the intents the analysis tables recognize
func DefaultScripts() []Script {
	return []Script{
		{
			Name:   "booking",
			Weight: 4,
			Utterances: []string{
				"Hello, good morning",
				"I would like to book an appointment",
				"Do you have any free slots tomorrow?",
				"Great, thanks, goodbye",
			},
		},
		{
			Name:   "pricing",
			Weight: 3,
			Utterances: []string{
				"Hi there",
				"How much does a cleaning cost?",
				"Thank you, bye",
			},
		},
		{
			Name:   "cancel",
			Weight: 2,
			Utterances: []string{
				"Hello",
				"I need to cancel my appointment",
				"Goodbye",
			},
		},
		{
			Name:   "silent",
			Weight: 1,
			Utterances: []string{
				"Hello?",
			},
		},
	}
}

// pickScript selects a script based on the configured weights
func pickScript(rng *rand.Rand, scripts []Script) Script {
	if len(scripts) == 0 {
		return Script{}
	}

	var total float64
	for _, s := range scripts {
		total += s.Weight
	}

	r := rng.Float64() * total
	for _, s := range scripts {
		r -= s.Weight
		if r <= 0 {
			return s
		}
	}
	return scripts[len(scripts)-1]
}
