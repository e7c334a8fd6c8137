package user

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	myMiddleware "travel-chat/internal/middleware"
)

type Handler struct {
	Service *Service
	logger  *slog.Logger
}

func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return &Handler{Service: s, logger: logger}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrEmailTaken):
			h.writeError(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("failed to register user", "err", err)
			h.writeError(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, res, http.StatusCreated)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.logger.Error("login failed", "err", err)
		}
		h.writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.writeJSON(w, res, http.StatusOK)
}

// Search serves GET /api/users/search?q=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserIDFromContext(r.Context())

	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"), userID)
	if err != nil {
		h.logger.Error("failed to search users", "err", err)
		h.writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]any{"users": users}, http.StatusOK)
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
