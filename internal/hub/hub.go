// Package hub fans out live departures to websocket clients subscribed to
// individual stops.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"livedepartures/internal/domain"
)

type Client struct {
	ID    string
	Send  chan []byte
	stops map[int64]struct{}
	mu    sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:    id,
		Send:  make(chan []byte, bufferSize),
		stops: make(map[int64]struct{}),
	}
}

func (c *Client) HasStop(stopID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.stops[stopID]
	return ok
}

func (c *Client) AddStops(stopIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range stopIDs {
		c.stops[id] = struct{}{}
	}
}

func (c *Client) RemoveStops(stopIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range stopIDs {
		delete(c.stops, id)
	}
}

func (c *Client) GetStops() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stops := make([]int64, 0, len(c.stops))
	for id := range c.stops {
		stops = append(stops, id)
	}
	return stops
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	stopClients map[int64]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan domain.FeedDelta

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		stopClients: make(map[int64]map[*Client]struct{}),
		register:    make(chan *Client, 16),
		unregister:  make(chan *Client, 16),
		broadcast:   make(chan domain.FeedDelta, 64),
		logger:      logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case delta := <-h.broadcast:
			h.fanoutDelta(delta)
		}
	}
}

func (h *Hub) Subscribe(client *Client, stopIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.AddStops(stopIDs)

	for _, stopID := range stopIDs {
		if h.stopClients[stopID] == nil {
			h.stopClients[stopID] = make(map[*Client]struct{})
		}
		h.stopClients[stopID][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, stopIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.RemoveStops(stopIDs)
	h.detach(client, stopIDs)
}

// detach must be called with the write lock held.
func (h *Hub) detach(client *Client, stopIDs []int64) {
	for _, stopID := range stopIDs {
		if h.stopClients[stopID] != nil {
			delete(h.stopClients[stopID], client)
			if len(h.stopClients[stopID]) == 0 {
				delete(h.stopClients, stopID)
			}
		}
	}
}

// Broadcast queues a delta for fan-out. It never blocks the caller; a full
// queue drops the delta.
func (h *Hub) Broadcast(delta domain.FeedDelta) {
	if len(delta.Departures) == 0 {
		return
	}
	select {
	case h.broadcast <- delta:
	default:
		h.logger.Warn("broadcast channel full, dropping delta", "cycle_id", delta.CycleID, "stops", len(delta.Departures))
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SubscribedStops() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.stopClients)
}

type DeltaMessage struct {
	Type    string       `json:"type"`
	Payload DeltaPayload `json:"payload"`
}

type DeltaPayload struct {
	CycleID    string                       `json:"cycle_id"`
	At         time.Time                    `json:"at"`
	Departures map[int64][]domain.Departure `json:"departures"`
}

func (h *Hub) fanoutDelta(delta domain.FeedDelta) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientDepartures := make(map[*Client]map[int64][]domain.Departure)

	for stopID, departures := range delta.Departures {
		clients, ok := h.stopClients[stopID]
		if !ok {
			continue
		}
		for client := range clients {
			if clientDepartures[client] == nil {
				clientDepartures[client] = make(map[int64][]domain.Departure)
			}
			clientDepartures[client][stopID] = departures
		}
	}

	for client, departures := range clientDepartures {
		data, err := json.Marshal(DeltaMessage{
			Type: "departures",
			Payload: DeltaPayload{
				CycleID:    delta.CycleID,
				At:         delta.At,
				Departures: departures,
			},
		})
		if err != nil {
			continue
		}

		select {
		case client.Send <- data:
		default:
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	h.detach(client, client.GetStops())

	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
	h.stopClients = make(map[int64]map[*Client]struct{})
}
