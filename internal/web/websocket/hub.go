// Package websocket fans pipeline logs out to web panel clients.
package websocket

import (
	"context"
	"sync"

	"github.com/Sube3494/bilidownloader/internal/common/logger"
	"github.com/sirupsen/logrus"
)

// Client is one connected browser.
type Client struct {
	ID      string
	Send    chan []byte
	Hub     *Hub
	mu      sync.Mutex
	closeCh chan struct{}
	closed  bool
}

func newClient(id string, hub *Hub) *Client {
	return &Client{
		ID:      id,
		Hub:     hub,
		Send:    make(chan []byte, 256),
		closeCh: make(chan struct{}),
	}
}

// Hub keeps the set of connected clients and broadcasts to them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	log        *logger.ComponentLogger
	mu         sync.RWMutex
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		log:        logger.NewComponentLogger(log, "ws_hub"),
	}
}

// Run serves register, unregister and broadcast until ctx is done. All
// clients are dropped on exit.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{
				"client_id": client.ID,
				"clients":   total,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.WithFields(logrus.Fields{
					"client_id": client.ID,
					"clients":   len(h.clients),
				}).Info("Client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow consumer.
					h.drop(client)
					h.log.WithFields(logrus.Fields{
						"client_id": client.ID,
					}).Warn("Dropping client with full send buffer")
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client and closes its send channel. Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.mu.Lock()
	if !client.closed {
		close(client.Send)
		client.closed = true
	}
	client.mu.Unlock()
}

// Broadcast queues message for every client. It drops the message when the
// hub is backed up rather than blocking the log consumer.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.log.Entry().Warn("Broadcast buffer full, dropping message")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters the client and stops its write loop.
func (c *Client) Close() {
	c.mu.Lock()
	already := c.closed
	c.mu.Unlock()
	if !already {
		c.Hub.unregister <- c
	}
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
}
