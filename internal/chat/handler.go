package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "travel-chat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the edge proxy.
	},
}

const maxHistoryPage = 200

type Handler struct {
	service *Service
	hub     *Hub
	logger  *slog.Logger
	// sessions is the parent context of every websocket session.
	sessions context.Context
}

func NewHandler(ctx context.Context, service *Service, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		logger:   logger,
		sessions: ctx,
	}
}

// GetConversation serves GET /api/conversation/{roomId}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	roomID := chi.URLParam(r, "roomId")
	view, err := h.service.GetHistory(r.Context(), roomID, userID, page)
	if err != nil {
		h.logger.Error("failed to get conversation", "room_id", roomID, "user_id", userID, "err", err)
		h.writeChatError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{"conversation": view}, http.StatusOK)
}

// ListConversations serves GET /api/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	summaries, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list conversations", "user_id", userID, "err", err)
		h.writeChatError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{"conversations": summaries}, http.StatusOK)
}

// ServeWs upgrades the request and starts the session pumps.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Register before the handshake completes so inbox events published as
	// soon as the peer sees the upgrade are buffered in client.send.
	client := NewClient(h.hub, nil, userID, h.service, h.logger)
	h.hub.Register(client)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		h.hub.Unregister(client)
		return
	}
	client.conn = conn

	// ServeWs returns immediately; the pumps own the connection from here.
	go client.WritePump()
	go client.ReadPump(h.sessions)
}

func parsePage(r *http.Request) (Page, error) {
	var page Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Page{}, errors.New("limit must be a positive integer")
		}
		page.Limit = min(n, maxHistoryPage)
	}
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Page{}, errors.New("before must be a positive sequence number")
		}
		page.BeforeSeq = n
	}
	return page, nil
}

// ----------------------------- helpers -----------------------------

func (h *Handler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMalformedRoomID), errors.Is(err, ErrInvalidParticipants),
		errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		h.writeError(w, "you are not part of this conversation", http.StatusForbidden)
	case errors.Is(err, ErrTimeout):
		h.writeError(w, "timed out", http.StatusGatewayTimeout)
	case errors.Is(err, ErrStoreUnavailable):
		h.writeError(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		h.writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
