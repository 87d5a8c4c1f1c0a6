package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"teen-chats/internal/app"
	"teen-chats/pkg/metrics"
)

// Store is what the HTTP layer needs from persistence
type Store interface {
	HistoryStore
	Ping(ctx context.Context) error
}

// WSHandler upgrades authenticated requests and reports bus readiness
type WSHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Ping(ctx context.Context) error
}

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, mw *Middleware, hub WSHandler, db Store) http.Handler {
	history := &HistoryAPI{DB: db, Log: logger, Limit: cfg.HistoryLimit, GroupAuthz: cfg.GroupJoinAuthz}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logger.Warn("readyz.db", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := hub.Ping(ctx); err != nil {
			logger.Warn("readyz.bus", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	}))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint (JWT-protected)
	mux.Handle("/ws", mw.Auth(http.HandlerFunc(hub.ServeWS)))

	// Identity echo
	mux.Handle("GET /api/auth/me", mw.Auth(http.HandlerFunc(Me)))

	// Recent history (JWT-protected)
	mux.Handle("GET /api/messages/direct", mw.Auth(http.HandlerFunc(history.Direct)))
	mux.Handle("GET /api/groups/{id}/messages", mw.Auth(http.HandlerFunc(history.Group)))

	return mw.Wrap(mux) // CORS + rate limit applied globally
}
