package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

// outbound is one message queued for the dashboard clients.
// Widgets are filtered per client; events go to clients allowed to see tenantID.
type outbound struct {
	tenantID string
	data     []byte
	widget   *types.Widget
}

// Hub maintains the set of active dashboard clients and fans out
// conversation events and widgets to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for the clients
	broadcast chan outbound

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		metrics:    m,
		logger:     logger.With().Str("component", "dashboard_hub").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.setGauge()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.setGauge()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()
			h.setGauge()

		case msg := <-h.broadcast:
			if msg.widget != nil {
				h.broadcastFiltered(msg.widget)
				continue
			}
			h.broadcastTenant(msg.tenantID, msg.data)
		}
	}
}

// Notify queues a conversation event for the dashboard. Never blocks: when
// the hub is saturated the event is dropped.
func (h *Hub) Notify(event types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal event")
		return
	}
	h.enqueue(outbound{tenantID: event.TenantID, data: data})
}

// BroadcastWidget queues a widget, filtered per client by tenant
func (h *Hub) BroadcastWidget(widget types.Widget) {
	h.enqueue(outbound{widget: &widget})
}

// Broadcast sends a raw message to all connected clients
func (h *Hub) Broadcast(message []byte) {
	h.enqueue(outbound{data: message})
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		if h.metrics != nil {
			h.metrics.NotificationsDropped.WithLabelValues("dashboard").Inc()
		}
		h.logger.Warn().Msg("dashboard broadcast buffer full, dropping message")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) setGauge() {
	if h.metrics != nil {
		h.metrics.WebSocketClients.Set(float64(h.ClientCount()))
	}
}

// broadcastTenant sends data to clients allowed to see tenantID.
// An empty tenantID reaches everyone.
func (h *Hub) broadcastTenant(tenantID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if tenantID != "" && !client.allows(tenantID) {
			continue
		}
		h.send(client, data)
	}
}

// broadcastFiltered sends a widget to each client after applying tenant filtering
func (h *Hub) broadcastFiltered(widget *types.Widget) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		filtered := client.FilterWidget(widget)
		if filtered == nil {
			// Client doesn't have access to any calls in this widget
			continue
		}

		data, err := json.Marshal(filtered)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to marshal filtered widget")
			continue
		}
		h.send(client, data)
	}
}

// send must be called with h.mu held
func (h *Hub) send(client *Client, data []byte) {
	select {
	case client.send <- data:
		if h.metrics != nil {
			h.metrics.WebSocketMessages.WithLabelValues("out").Inc()
		}
	default:
		// Client's send buffer is full, close and remove it
		close(client.send)
		delete(h.clients, client)
		h.logger.Warn().
			Str("client_id", client.id).
			Msg("client send buffer full, closing connection")
	}
}
