package callsim

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Write timeout
	writeTimeout = 10 * time.Second

	// How long to wait for a synthesized reply per utterance
	replyTimeout = 15 * time.Second
)

// Identity is who the simulated calls are placed for
type Identity struct {
	TenantID  string
	AgentID   string
	ContactID string
}

// Stats counts simulated traffic
type Stats struct {
	CallsPlaced    int64 `json:"callsPlaced"`
	CallsFailed    int64 `json:"callsFailed"`
	ChunksSent     int64 `json:"chunksSent"`
	RepliesHeard   int64 `json:"repliesHeard"`
	RepliesMissing int64 `json:"repliesMissing"`
}

// Caller drives one call at a time over a media stream connection
type Caller struct {
	mediaURL string
	identity Identity
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	placed, failed, chunks, heard, missing atomic.Int64
}

// NewCaller creates a caller. backendURL is the orchestrator base URL, e.g.
// "http://localhost:8080".
func NewCaller(backendURL string, identity Identity, logger zerolog.Logger) (*Caller, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/internal/media/"

	return &Caller{
		mediaURL: u.String(),
		identity: identity,
		dialer:   websocket.DefaultDialer,
		logger:   logger.With().Str("component", "callsim").Logger(),
	}, nil
}

// Place runs one scripted call: start, one chunk per utterance with a wait
// for the reply, then stop.
func (c *Caller) Place(ctx context.Context, callID string, script Script) error {
	logger := c.logger.With().Str("call_id", callID).Str("script", script.Name).Logger()

	conn, _, err := c.dialer.DialContext(ctx, c.mediaURL+url.PathEscape(callID), nil)
	if err != nil {
		c.failed.Add(1)
		return fmt.Errorf("dial media stream: %w", err)
	}
	defer conn.Close()

	if err := c.write(conn, types.MediaMessage{
		Event:     "start",
		CallID:    callID,
		TenantID:  c.identity.TenantID,
		AgentID:   c.identity.AgentID,
		ContactID: c.identity.ContactID,
	}); err != nil {
		c.failed.Add(1)
		return err
	}
	c.placed.Add(1)

	for i, utterance := range script.Utterances {
		if ctx.Err() != nil {
			break
		}
		err := c.write(conn, types.MediaMessage{
			Event:      "media",
			CallID:     callID,
			Sequence:   int64(i + 1),
			Payload:    base64.StdEncoding.EncodeToString([]byte(utterance)),
			Format:     "mulaw",
			SampleRate: 8000,
		})
		if err != nil {
			c.failed.Add(1)
			return err
		}
		c.chunks.Add(1)

		if err := c.awaitReply(conn); err != nil {
			c.missing.Add(1)
			logger.Debug().Err(err).Int("sequence", i+1).Msg("no reply for utterance")
			continue
		}
		c.heard.Add(1)
	}

	if err := c.write(conn, types.MediaMessage{Event: "stop", CallID: callID, Reason: "hangup"}); err != nil {
		return err
	}
	logger.Debug().Int("utterances", len(script.Utterances)).Msg("call completed")
	return nil
}

func (c *Caller) write(conn *websocket.Conn, msg types.MediaMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", msg.Event, err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Event, err)
	}
	return nil
}

// awaitReply reads until a dispatch frame arrives. An error frame from the
// orchestrator ends the wait.
func (c *Caller) awaitReply(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg types.MediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "dispatch":
			return nil
		case "error":
			return errors.New(msg.Reason)
		}
	}
}

// Stats returns a snapshot of the counters
func (c *Caller) Stats() Stats {
	return Stats{
		CallsPlaced:    c.placed.Load(),
		CallsFailed:    c.failed.Load(),
		ChunksSent:     c.chunks.Load(),
		RepliesHeard:   c.heard.Load(),
		RepliesMissing: c.missing.Load(),
	}
}
