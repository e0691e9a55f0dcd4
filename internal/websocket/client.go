package websocket

import (
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/auth"
	"github.com/dennisdiepolder/monti/convo/internal/config"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between a dashboard websocket connection and the hub
type Client struct {
	// Unique client ID
	id string

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Configuration
	config *config.Config

	// Logger
	logger zerolog.Logger

	// User claims with visible tenants
	claims *auth.Claims
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger, claims *auth.Claims) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:     clientID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Logger(),
		claims: claims,
	}
}

// readPump pumps messages from the websocket connection to the hub
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		c.logger.Debug().Str("message", string(message)).Msg("received message from client")
	}
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame so the dashboard can parse each
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// allows reports whether the client may see events of tenantID
func (c *Client) allows(tenantID string) bool {
	return c.claims == nil || c.claims.IsTenantAllowed(tenantID)
}

// FilterWidget filters a widget's calls based on the client's tenants
// Returns nil if no calls are visible to this client
func (c *Client) FilterWidget(widget *types.Widget) *types.Widget {
	// If no claims or the user sees every tenant, return as-is
	if c.claims == nil || c.claims.IsAdmin() {
		return widget
	}

	var calls []types.CallSummary
	for _, call := range widget.Calls {
		if c.claims.IsTenantAllowed(call.TenantID) {
			calls = append(calls, call)
		}
	}

	if len(calls) == 0 {
		return nil
	}

	// Recalculate summary stats for the visible calls
	summary := types.WidgetSummary{ActiveCalls: len(calls)}
	for _, call := range calls {
		summary.TotalTurns += call.TurnCount
		for _, alert := range call.Alerts {
			if alert.Rule == types.RuleOrphaned {
				summary.Orphaned++
				break
			}
		}
	}

	return &types.Widget{
		Type:      widget.Type,
		Timestamp: widget.Timestamp,
		Summary:   summary,
		Calls:     calls,
	}
}
