package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"log/slog"
	"teen-chats/internal/realtime"
	"teen-chats/pkg/auth"
	"teen-chats/pkg/ratelimit"
)

type Hub struct {
	log    *slog.Logger
	router *realtime.Router
	bus    *RedisBus // nil on a single instance
	limit  *ratelimit.Limiter
}

// NewHub sets up the hub with router + optional redis bus + per-connection limiter
func NewHub(logger *slog.Logger, router *realtime.Router, bus *RedisBus, limit *ratelimit.Limiter) *Hub {
	return &Hub{log: logger, router: router, bus: bus, limit: limit}
}

// Run listens to the redis bus and forwards frames from other instances to local rooms
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		err := h.bus.Subscribe(ctx, func(m realtime.BusMessage) {
			h.router.DeliverRemote(m)
		})
		if err != nil {
			return err
		}
		h.log.Info("hub.bus.subscribed", "instance", h.router.InstanceID())
	}
	<-ctx.Done()
	return nil
}

// Ping reports whether the cross-instance bus is reachable; always fine without one
func (h *Hub) Ping(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Ping(ctx)
}

// ServeWS handles a new /ws connection for the authenticated user
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r.Context())
	if uid == "" || uid == "anon" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := Accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tc := NewConn(ws)
	c := h.router.Connect(uid, tc)
	h.log.Info("ws.open", "conn", c.ID, "user", uid)

	// Outbound writer
	go tc.WriteLoop(ctx)

	// Inbound reader, one event at a time so a connection's events keep their order
	for {
		payload, ok := tc.Read(ctx)
		if !ok {
			break
		}

		var env realtime.Envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Type == "" {
			h.reject(tc, "", "validation", "malformed frame")
			continue
		}
		if h.limit != nil && !h.limit.Allow(c.ID) {
			h.reject(tc, env.Ref, "rate_limited", "too many events")
			continue
		}
		if err := h.router.Dispatch(ctx, c, env); err != nil {
			h.log.Debug("ws.dispatch", "conn", c.ID, "type", env.Type, "err", err)
		}
	}

	h.router.Disconnect(c)
	if h.limit != nil {
		h.limit.Forget(c.ID)
	}
	_ = tc.Close()
	h.log.Info("ws.close", "conn", c.ID, "user", uid)
}

// reject answers a frame the router never saw
func (h *Hub) reject(tc *Conn, ref, code, msg string) {
	b, err := realtime.Encode(realtime.TypeError, ref, map[string]string{"code": code, "message": msg})
	if err != nil {
		return
	}
	_ = tc.Send(b)
}
