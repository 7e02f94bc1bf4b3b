package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/energy"
	"github.com/wattscope/wattscope/pkg/plugin"
)

// Handler exposes the live energy stream endpoint and relays bus events
// to connected clients.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates the handler and subscribes the hub to energy events.
func NewHandler(bus plugin.EventBus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		logger: logger,
	}

	relay := func(msgType string) plugin.EventHandler {
		return func(_ context.Context, event plugin.Event) {
			h.hub.Broadcast(Message{
				Type:      msgType,
				Timestamp: event.Timestamp,
				Payload:   event.Payload,
			})
		}
	}
	bus.Subscribe(energy.TopicObservation, relay("observation"))
	bus.Subscribe(energy.TopicAnomalies, relay("anomalies"))
	bus.Subscribe(energy.TopicTrained, relay("model_trained"))
	return h
}

// ServeHTTP lets the handler be mounted directly on the server mux.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handleEnergyStream(w, r)
}

// handleEnergyStream upgrades the connection and streams energy events
// until the client disconnects.
func (h *Handler) handleEnergyStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboards connect cross-origin
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, 256),
		logger: h.logger,
	}
	h.hub.Register(client)

	ctx := r.Context()
	go client.writePump(ctx)

	// Blocks until the client goes away.
	client.readPump(ctx)

	h.hub.Unregister(client)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
