package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ataxia123/bonfire-hub/internal/hub"
	"github.com/Ataxia123/bonfire-hub/internal/worker"
)

// clientMessage is an inbound message on an agent's WebSocket.
type clientMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// Handler serves the WebSocket endpoint and the observability routes.
type Handler struct {
	hub          *hub.Hub
	dispatcher   *hub.Dispatcher
	stackWorker  *worker.Worker
	gmWorker     *worker.Worker
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewHandler creates a Handler.
//
// Precondition: h, d, stackWorker, gmWorker, and logger must be non-nil.
func NewHandler(h *hub.Hub, d *hub.Dispatcher, stackWorker, gmWorker *worker.Worker, writeTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		hub:          h,
		dispatcher:   d,
		stackWorker:  stackWorker,
		gmWorker:     gmWorker,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the HTTP routes served by the hub server.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealth)
	r.Get("/ws", h.handleWS)
	r.Get("/api/timers", h.handleTimers)
	r.Post("/api/rooms/{roomID}/events", h.handleFireEvent)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": h.hub.ConnectedCount(),
		"rooms":     h.hub.RoomCount(),
	})
}

// handleTimers reports both workers' observability state.
func (h *Handler) handleTimers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stack_timer": h.stackWorker.Status(),
		"gm_timer":    h.gmWorker.Status(),
	})
}

// handleFireEvent lets HTTP callers push an event into a room through the
// dispatcher. Always accepted; delivery is best-effort with no confirmation.
func (h *Handler) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var event hub.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid event payload"})
		return
	}

	h.dispatcher.FireEvent(roomID, event)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// handleWS upgrades the connection, installs it in the hub, and serves the
// subscribe loop until the client goes away.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "agent_id is required"})
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return
	}

	conn := NewConn(wsConn, h.writeTimeout)
	h.hub.Connect(agentID, conn)
	h.logger.Info("agent connected", zap.String("agent_id", agentID))

	defer func() {
		h.hub.DisconnectConn(agentID, conn)
		_ = conn.Close()
		h.logger.Info("agent disconnected", zap.String("agent_id", agentID))
	}()

	for {
		var msg clientMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.RoomID == "" {
				continue
			}
			h.hub.Subscribe(agentID, msg.RoomID)
			h.hub.SendToAgent(agentID, hub.Event{
				"type":    "subscribed",
				"room_id": msg.RoomID,
			})
		case "ping":
			h.hub.SendToAgent(agentID, hub.Event{"type": "pong"})
		default:
			// Unknown message types are ignored.
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
