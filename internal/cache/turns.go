package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/google/uuid"
)

// ErrAudioWithoutText is returned when a reply carries audio but no text
var ErrAudioWithoutText = errors.New("reply audio set without reply text")

// UserUtterance is the transcribed input that opens a turn
type UserUtterance struct {
	Transcript string
	Confidence float64
	Language   string
	Intent     types.Intent
	Sentiment  types.Sentiment
	At         time.Time
}

// Reply is what the agent answered for the current turn
type Reply struct {
	Text       string
	Audio      []byte
	DurationMs int64
	TokensUsed int
	LatencyMs  int64
}

// AppendUserTurn appends a new user turn and marks it current
func AppendUserTurn(c *types.CallContext, u UserUtterance) types.Turn {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}

	turn := types.Turn{
		ID:         uuid.New().String(),
		Timestamp:  at,
		Role:       types.RoleUser,
		Transcript: u.Transcript,
		Confidence: u.Confidence,
		Language:   u.Language,
		Intent:     u.Intent,
		Sentiment:  u.Sentiment,
	}
	c.Turns = append(c.Turns, turn)
	c.CurrentTurn = len(c.Turns) - 1
	return turn
}

// current returns the in-progress turn or ErrDoubleCompletion
func current(c *types.CallContext) (*types.Turn, error) {
	if c.CurrentTurn < 0 || c.CurrentTurn >= len(c.Turns) {
		return nil, fmt.Errorf("no turn in progress: %w", types.ErrDoubleCompletion)
	}
	t := &c.Turns[c.CurrentTurn]
	if t.Terminal() {
		return nil, fmt.Errorf("turn %s: %w", t.ID, types.ErrDoubleCompletion)
	}
	return t, nil
}

// CompleteTurn fills the current turn with the reply and makes it terminal
func CompleteTurn(c *types.CallContext, r Reply) error {
	t, err := current(c)
	if err != nil {
		return err
	}
	if len(r.Audio) > 0 && r.Text == "" {
		return ErrAudioWithoutText
	}

	t.ReplyText = r.Text
	t.ReplyAudioBytes = len(r.Audio)
	t.ReplyDurationMs = r.DurationMs
	t.TokensUsed = r.TokensUsed
	latency := r.LatencyMs
	t.LatencyMs = &latency
	c.CurrentTurn = types.NoCurrentTurn
	return nil
}

// SetReplyText records the generated text before synthesis finishes
func SetReplyText(c *types.CallContext, text string, tokens int) error {
	t, err := current(c)
	if err != nil {
		return err
	}
	t.ReplyText = text
	t.TokensUsed = tokens
	return nil
}

// FailTurn marks the current turn as failed. A failed turn is terminal and
// never carries reply audio or latency.
func FailTurn(c *types.CallContext, kind types.ErrorKind) error {
	t, err := current(c)
	if err != nil {
		return err
	}
	t.Failed = true
	t.FailureKind = string(kind)
	c.CurrentTurn = types.NoCurrentTurn
	return nil
}

// RecentTurns returns up to n turns before the current one, most recent
// first. A failed turn keeps the caller's transcript but drops its reply
// text, since the caller only heard the fallback.
func RecentTurns(c *types.CallContext, n int) []types.Turn {
	end := len(c.Turns)
	if c.CurrentTurn >= 0 && c.CurrentTurn < end {
		end = c.CurrentTurn
	}
	out := make([]types.Turn, 0, n)
	for i := end - 1; i >= 0 && len(out) < n; i-- {
		t := c.Turns[i]
		if t.Failed {
			t.ReplyText = ""
		}
		out = append(out, t)
	}
	return out
}
