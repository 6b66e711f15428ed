package sse

import (
	"encoding/json"
	"sync"

	"timekeeper-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Client represents a single connected SSE client: a channel carrying the
// messages destined for it.
type Client chan []byte

// Hub manages the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mu         sync.Mutex
}

// EventData is the payload pushed to clients when an attendance event
// commits. Kept lean: just what the live panel needs to render a row.
type EventData struct {
	Name       string        `json:"name"`
	Date       string        `json:"date"`
	Time       string        `json:"time"`
	Status     models.Status `json:"status"`
	Confidence float64       `json:"confidence"`
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 16),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run starts the hub's processing loop. Run it in its own goroutine.
func (h *Hub) Run() {
	log.Info("SSE hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", len(h.clients))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client) // Signals the client handler to stop.
				log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Slow client; drop the message rather than block the hub.
					log.Warn("SSE client channel full. Skipping message.")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast sends a message to all registered clients without blocking the
// caller.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full. Message dropped.")
	}
}

// BroadcastEvent formats and broadcasts one committed attendance event.
func (h *Hub) BroadcastEvent(ev *models.AttendanceEvent) {
	data := EventData{
		Name:       ev.Name,
		Date:       ev.Date,
		Time:       ev.Time,
		Status:     ev.Status,
		Confidence: ev.Confidence,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Errorf("Error marshalling attendance event for SSE: %v", err)
		return
	}

	h.Broadcast(jsonData)
}

// PublishEvent lets the hub act as an event sink for the capture pipeline.
func (h *Hub) PublishEvent(ev *models.AttendanceEvent) {
	h.BroadcastEvent(ev)
}
