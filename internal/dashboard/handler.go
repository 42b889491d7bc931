package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/checklisthq/syncd/internal/status"
)

// Handler bridges engine status transitions to the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// Observer returns the status observer to register with the engine.
// Every status or progress transition becomes a broadcast, followed by a
// queue-depth refresh so connected clients stay consistent.
func (h *Handler) Observer() status.Observer {
	return func(snap status.Snapshot) {
		data, err := json.Marshal(snap)
		if err != nil {
			h.logger.Printf("Failed to marshal status snapshot: %v", err)
			return
		}

		h.server.Broadcast(Message{
			Type:      MessageTypeStatus,
			Timestamp: time.Now(),
			Data:      data,
		})

		h.broadcastQueue()
	}
}

// broadcastQueue sends current queue statistics to all clients
func (h *Handler) broadcastQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	depth, err := h.server.store.Count(ctx)
	if err != nil {
		h.logger.Printf("Failed to read queue depth: %v", err)
		return
	}

	abandoned, err := h.server.store.ListAbandoned(ctx)
	if err != nil {
		h.logger.Printf("Failed to read abandoned records: %v", err)
		return
	}

	data, err := json.Marshal(QueueData{Depth: depth, Abandoned: len(abandoned)})
	if err != nil {
		h.logger.Printf("Failed to marshal queue data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeQueue,
		Timestamp: time.Now(),
		Data:      data,
	})
}
