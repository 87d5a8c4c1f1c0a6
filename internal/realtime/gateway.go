package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"teen-chats/pkg/metrics"
)

// Store is the durable Persistence Service
type Store interface {
	Store(ctx context.Context, ev NewChatEvent) (ChatEvent, error)
}

// Gateway serializes writes per (sender, destination) so they land in submission order.
// Each busy pair gets one draining goroutine; unrelated pairs never wait on each other.
type Gateway struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	queue []*storeReq
}

type storeReq struct {
	ctx  context.Context
	ev   NewChatEvent
	done chan storeResult
}

type storeResult struct {
	ev  ChatEvent
	err error
}

// NewGateway wraps a Store
func NewGateway(store Store, logger *slog.Logger) *Gateway {
	return &Gateway{store: store, log: logger, lanes: map[string]*lane{}}
}

// Store queues ev behind earlier writes of the same pair and waits for the result.
// Returns ErrPersistence when the store fails or ctx ends first.
func (g *Gateway) Store(ctx context.Context, ev NewChatEvent) (ChatEvent, error) {
	start := time.Now()
	req := &storeReq{ctx: ctx, ev: ev, done: make(chan storeResult, 1)}
	key := laneKey(ev)

	g.mu.Lock()
	ln := g.lanes[key]
	if ln == nil {
		ln = &lane{}
		g.lanes[key] = ln
		go g.drain(key, ln)
	}
	ln.queue = append(ln.queue, req)
	g.mu.Unlock()

	var res storeResult
	select {
	case res = <-req.done:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w: %w", ErrPersistence, ctx.Err())
	}

	result := "ok"
	if res.err != nil {
		result = "error"
	}
	metrics.PersistDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return res.ev, res.err
}

// drain stores queued requests one at a time until the lane is empty
func (g *Gateway) drain(key string, ln *lane) {
	for {
		g.mu.Lock()
		if len(ln.queue) == 0 {
			delete(g.lanes, key)
			g.mu.Unlock()
			return
		}
		req := ln.queue[0]
		ln.queue[0] = nil
		ln.queue = ln.queue[1:]
		g.mu.Unlock()

		// the caller already gave up; storing now would create an event nobody broadcasts
		if err := req.ctx.Err(); err != nil {
			req.done <- storeResult{err: fmt.Errorf("%w: %w", ErrPersistence, err)}
			continue
		}

		ev, err := g.store.Store(req.ctx, req.ev)
		if err != nil {
			g.log.Warn("gateway.store", "sender", req.ev.SenderID, "kind", req.ev.Kind, "err", err)
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		req.done <- storeResult{ev: ev, err: err}
	}
}

// pending reports how many lanes are active (tests only)
func (g *Gateway) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lanes)
}

func laneKey(ev NewChatEvent) string {
	return string(ev.Kind) + "\x00" + ev.SenderID + "\x00" + ev.Destination
}
