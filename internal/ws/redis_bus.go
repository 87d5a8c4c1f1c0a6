package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"log/slog"
	"teen-chats/internal/app"
	"teen-chats/internal/realtime"
)

// RedisBus carries room frames between router instances
type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisBus connects to redis and verifies connectivity
func NewRedisBus(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisBus{rdb: rdb, log: log}, nil
}

// Publish sends a frame to the redis channel of its room
func (b *RedisBus) Publish(ctx context.Context, m realtime.BusMessage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel(m.Room), raw).Err()
}

// Subscribe listens to all room channels and invokes fn for each message.
// Returns once the subscription is confirmed; delivery runs until ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(realtime.BusMessage)) error {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var bm realtime.BusMessage
				if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
					b.log.Warn("bus.decode", "channel", msg.Channel, "err", err)
					continue
				}
				if bm.Room != "" {
					fn(bm)
				}
			}
		}
	}()
	return nil
}

// Ping checks the redis connection for readiness probes
func (b *RedisBus) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

// Close shuts down the redis connection
func (b *RedisBus) Close() { _ = b.rdb.Close() }

// channel namespacing for room pub/sub
func channel(room realtime.RoomKey) string { return "chat:" + string(room) }
