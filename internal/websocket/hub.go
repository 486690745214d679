package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/bus"
	"github.com/xelth-com/chatrelay/internal/models"
	"github.com/xelth-com/chatrelay/internal/services/relay"
)

// Relay is what connected clients can do.
type Relay interface {
	Post(ctx context.Context, in relay.PostInput) (models.Message, error)
	SubscribeRoom(ctx context.Context, roomID string) *bus.Subscription[models.Message]
	SubscribeUser(ctx context.Context, user string) *bus.Subscription[models.Message]
}

// Hub maintains the set of active clients
type Hub struct {
	relay Relay
	log   *zap.Logger

	// Registered clients map: client ID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(r Relay, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		relay:      r,
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. When ctx ends every client is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Debug("client connected", zap.String("client", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.close()
				h.log.Debug("client disconnected", zap.String("client", client.ID))
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// attach hands a new client to the hub; false once the hub has stopped.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// detach removes a client; after the hub stopped the client is closed directly.
func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close()
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
