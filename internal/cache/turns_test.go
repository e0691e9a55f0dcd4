package cache

import (
	"testing"

	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() *types.CallContext {
	return &types.CallContext{CallID: "c1", CurrentTurn: types.NoCurrentTurn}
}

func TestAppendUserTurnMarksCurrent(t *testing.T) {
	c := newContext()
	turn := AppendUserTurn(c, UserUtterance{Transcript: "hola", Intent: types.IntentGreeting})

	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, types.RoleUser, turn.Role)
	assert.Equal(t, 0, c.CurrentTurn)
	require.Len(t, c.Turns, 1)
	assert.Equal(t, types.IntentGreeting, c.Turns[0].Intent)
}

func TestCompleteTurn(t *testing.T) {
	c := newContext()
	AppendUserTurn(c, UserUtterance{Transcript: "hola"})

	err := CompleteTurn(c, Reply{Text: "buenos días", Audio: []byte{1, 2, 3}, LatencyMs: 120})
	require.NoError(t, err)

	turn := c.Turns[0]
	assert.Equal(t, "buenos días", turn.ReplyText)
	assert.Equal(t, 3, turn.ReplyAudioBytes)
	require.NotNil(t, turn.LatencyMs)
	assert.Equal(t, int64(120), *turn.LatencyMs)
	assert.True(t, turn.Terminal())
	assert.Equal(t, types.NoCurrentTurn, c.CurrentTurn)
}

func TestCompleteTurnTwice(t *testing.T) {
	c := newContext()
	AppendUserTurn(c, UserUtterance{Transcript: "hola"})
	require.NoError(t, CompleteTurn(c, Reply{Text: "a", LatencyMs: 1}))

	err := CompleteTurn(c, Reply{Text: "b", LatencyMs: 2})
	assert.ErrorIs(t, err, types.ErrDoubleCompletion)
	assert.Equal(t, "a", c.Turns[0].ReplyText, "terminal turn must not be rewritten")
}

func TestCompleteTurnWithoutTurn(t *testing.T) {
	c := newContext()
	assert.ErrorIs(t, CompleteTurn(c, Reply{Text: "x"}), types.ErrDoubleCompletion)
}

func TestCompleteTurnRejectsAudioWithoutText(t *testing.T) {
	c := newContext()
	AppendUserTurn(c, UserUtterance{Transcript: "hola"})
	assert.ErrorIs(t, CompleteTurn(c, Reply{Audio: []byte{1}}), ErrAudioWithoutText)
	assert.False(t, c.Turns[0].Terminal())
}

func TestFailTurn(t *testing.T) {
	c := newContext()
	AppendUserTurn(c, UserUtterance{Transcript: "hola"})
	require.NoError(t, SetReplyText(c, "respuesta", 12))
	require.NoError(t, FailTurn(c, types.KindSynthesisService))

	turn := c.Turns[0]
	assert.True(t, turn.Failed)
	assert.True(t, turn.Terminal())
	assert.Nil(t, turn.LatencyMs)
	assert.False(t, turn.HasReplyAudio())
	assert.Equal(t, "respuesta", turn.ReplyText)

	assert.ErrorIs(t, CompleteTurn(c, Reply{Text: "late"}), types.ErrDoubleCompletion)
}

func TestRecentTurnsMostRecentFirst(t *testing.T) {
	c := newContext()
	for _, tr := range []string{"one", "two", "three", "four"} {
		AppendUserTurn(c, UserUtterance{Transcript: tr})
		require.NoError(t, CompleteTurn(c, Reply{Text: "ok", LatencyMs: 1}))
	}
	AppendUserTurn(c, UserUtterance{Transcript: "current"})

	recent := RecentTurns(c, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "four", recent[0].Transcript)
	assert.Equal(t, "three", recent[1].Transcript)

	all := RecentTurns(c, 10)
	assert.Len(t, all, 4, "current turn is excluded")
}

func TestRecentTurnsDropsFailedReply(t *testing.T) {
	c := newContext()
	AppendUserTurn(c, UserUtterance{Transcript: "hola"})
	c.Turns[0].ReplyText = "unspoken"
	require.NoError(t, FailTurn(c, types.KindSynthesisService))

	recent := RecentTurns(c, 5)
	require.Len(t, recent, 1)
	assert.Equal(t, "hola", recent[0].Transcript)
	assert.Empty(t, recent[0].ReplyText)
	assert.Equal(t, "unspoken", c.Turns[0].ReplyText, "stored turn is untouched")
}
