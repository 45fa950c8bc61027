package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Event types broadcast while pipelines run
const (
	RunStarted    = "run_started"
	StageStarted  = "stage_started"
	StageFinished = "stage_finished"
	RunFinished   = "run_finished"
)

// EventBroker manages SSE connections and broadcasts events
type EventBroker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
}

// Global event broker instance
var broker = NewBroker()

// GetBroker returns the global event broker
func GetBroker() *EventBroker {
	return broker
}

// NewBroker creates a broker with no clients
func NewBroker() *EventBroker {
	return &EventBroker{clients: make(map[chan string]bool)}
}

// Register adds a new SSE client
func (b *EventBroker) Register(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	slog.Debug("SSE client connected", "clients", len(b.clients))
}

// Unregister removes an SSE client
func (b *EventBroker) Unregister(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.clients[client] {
		return
	}
	delete(b.clients, client)
	close(client)
	slog.Debug("SSE client disconnected", "clients", len(b.clients))
}

// Clients returns the number of connected clients
func (b *EventBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all connected clients. Slow clients miss
// events rather than blocking the run.
func (b *EventBroker) Broadcast(eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Warn("failed to marshal event data", "event", eventType, "error", err)
		return
	}

	message := fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- message:
		default:
		}
	}
}
