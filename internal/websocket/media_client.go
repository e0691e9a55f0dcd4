package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to telephony
	mediaWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from telephony
	mediaPongWait = 30 * time.Second

	// Send pings with this period (must be less than pongWait)
	mediaPingPeriod = 20 * time.Second

	// Maximum frame size allowed from telephony (base64 audio)
	mediaMaxMessageSize = 256 * 1024

	// Time allowed for start and stop signals to complete
	signalTimeout = 10 * time.Second
)

// MediaClient represents one telephony media stream for a call
type MediaClient struct {
	callID string

	// The hub this client belongs to
	hub *MediaHub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	logger zerolog.Logger

	// done channel to signal client shutdown
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
	// mu guards send against a concurrent Close
	mu     sync.RWMutex
	closed bool
}

// NewMediaClient creates a new MediaClient
func NewMediaClient(hub *MediaHub, conn *websocket.Conn, callID string, logger zerolog.Logger) *MediaClient {
	return &MediaClient{
		callID: callID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: logger.With().Str("call_id", callID).Logger(),
		done:   make(chan struct{}),
	}
}

// readPump pumps frames from the websocket connection to the processor
func (c *MediaClient) readPump() {
	defer func() {
		close(c.done)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(mediaMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(mediaPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(mediaPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("media websocket read error")
			}
			break
		}
		if c.hub.metrics != nil {
			c.hub.metrics.WebSocketMessages.WithLabelValues("in").Inc()
		}

		if stop := c.handleMessage(message); stop {
			break
		}
	}
}

// handleMessage processes one frame. It reports whether the stream ended.
func (c *MediaClient) handleMessage(message []byte) bool {
	var msg types.MediaMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse media frame")
		return false
	}

	switch msg.Event {
	case "start":
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		_, err := c.hub.processor.ProcessCallStart(ctx, &types.CallStartSignal{
			CallID:    c.callID,
			TenantID:  msg.TenantID,
			AgentID:   msg.AgentID,
			ContactID: msg.ContactID,
		})
		switch {
		case errors.Is(err, types.ErrAlreadyExists):
			// Started over HTTP before the stream connected
			c.logger.Debug().Msg("call already started")
		case err != nil:
			c.logger.Warn().Err(err).Msg("call start from media stream failed")
			c.sendError(err)
		}

	case "media":
		audio, err := base64.StdEncoding.DecodeString(msg.Payload)
		if err != nil {
			c.logger.Debug().Err(err).Msg("invalid media payload")
			return false
		}
		err = c.hub.processor.ProcessAudio(types.AudioChunk{
			CallID:     c.callID,
			Sequence:   msg.Sequence,
			Audio:      audio,
			Format:     msg.Format,
			SampleRate: msg.SampleRate,
		})
		if err != nil {
			c.logger.Debug().Err(err).Int64("sequence", msg.Sequence).Msg("chunk rejected")
		}

	case "stop":
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		if _, err := c.hub.processor.ProcessCallEnd(ctx, &types.CallEndSignal{CallID: c.callID, Reason: msg.Reason}); err != nil {
			c.logger.Warn().Err(err).Msg("call end from media stream failed")
		}
		return true

	default:
		c.logger.Debug().Str("event", msg.Event).Msg("unknown media event")
	}
	return false
}

func (c *MediaClient) sendError(err error) {
	data, mErr := json.Marshal(types.MediaMessage{Event: "error", CallID: c.callID, Reason: err.Error()})
	if mErr == nil {
		c.safeSend(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *MediaClient) writePump() {
	ticker := time.NewTicker(mediaPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(mediaWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(mediaWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *MediaClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the client's send channel (idempotent)
func (c *MediaClient) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// safeSend attempts a non-blocking send; false once the client is closing
func (c *MediaClient) safeSend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
