package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"travel-chat/internal/chat"
	myMiddleware "travel-chat/internal/middleware"
	"travel-chat/internal/user"
)

type routerDeps struct {
	logger      *slog.Logger
	users       *user.Handler
	chat        *chat.Handler
	validator   myMiddleware.TokenValidator
	healthCheck func(context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	authMiddleware := myMiddleware.NewAuthMiddleware(d.validator)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := d.healthCheck(ctx); err != nil {
			d.logger.Warn("health check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Post("/api/register", d.users.Register)
	r.Post("/api/login", d.users.Login)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", d.users.Search)

		// WebSocket (Real-time)
		r.Get("/ws", d.chat.ServeWs)

		r.Get("/api/conversations", d.chat.ListConversations)
		r.Get("/api/conversation/{roomId}", d.chat.GetConversation)
	})

	return r
}
