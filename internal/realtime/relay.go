package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"teen-chats/pkg/metrics"
)

// Relay routes WebRTC handshake frames to every connection of a target identity
type Relay struct {
	log    *slog.Logger
	reg    *Registry
	bus    Publisher
	origin string
	pairs  keyedMutex // keeps frames of one (from, to) pair in order
}

// NewRelay builds a relay; bus may be nil for single-instance setups
func NewRelay(logger *slog.Logger, reg *Registry, bus Publisher, origin string) *Relay {
	return &Relay{log: logger, reg: reg, bus: bus, origin: origin}
}

// Relay delivers one frame and returns how many local connections got it.
// A target with no live connection is not an error; the frame is dropped.
func (r *Relay) Relay(ctx context.Context, kind SignalKind, from *Conn, to string, payload json.RawMessage) (int, error) {
	if !kind.valid() {
		return 0, fmt.Errorf("%w: unknown signal kind %q", ErrValidation, kind)
	}
	if !validID(to) {
		return 0, fmt.Errorf("%w: invalid target", ErrValidation)
	}
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: empty %s payload", ErrValidation, kind)
	}

	frame := SignalFrame{From: from.Identity, FromConn: from.ID}
	switch kind {
	case SignalOffer:
		frame.Offer = payload
	case SignalAnswer:
		frame.Answer = payload
	default:
		frame.Candidate = payload
	}
	b, err := Encode(string(kind), "", frame)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	unlock := r.pairs.Lock(from.ID + "\x00" + to)
	defer unlock()

	if r.bus != nil {
		msg := BusMessage{Origin: r.origin, Room: UserRoomKey(to), Payload: b}
		if err := r.bus.Publish(ctx, msg); err != nil {
			r.log.Warn("relay.publish", "to", to, "err", err)
		}
	}

	targets := r.reg.ConnectionsFor(to)
	if len(targets) == 0 {
		metrics.SignalsDropped.Inc()
		r.log.Debug("relay.drop", "kind", kind, "from", from.Identity, "to", to, "reason", ErrUnknownTarget)
		return 0, nil
	}

	sent := 0
	for _, c := range targets {
		if err := c.deliver(b); err != nil {
			metrics.Deliveries.WithLabelValues("failed").Inc()
			r.log.Warn("relay.deliver", "conn", c.ID, "to", to, "err", err)
			continue
		}
		metrics.Deliveries.WithLabelValues("ok").Inc()
		sent++
	}
	return sent, nil
}
