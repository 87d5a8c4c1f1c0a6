package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeTransport records every frame handed to it
type fakeTransport struct {
	mu     sync.Mutex
	frames []Envelope
	fail   error
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeTransport) ofType(typ string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Envelope
	for _, e := range f.frames {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// fakeStore assigns sequential ids and records calls in arrival order
type fakeStore struct {
	mu      sync.Mutex
	calls   []NewChatEvent
	err     error
	gate    chan struct{} // when set, Store waits on it (or ctx)
	started chan NewChatEvent
	seq     int
}

func (s *fakeStore) Store(ctx context.Context, ev NewChatEvent) (ChatEvent, error) {
	if s.started != nil {
		s.started <- ev
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ChatEvent{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ev)
	if s.err != nil {
		return ChatEvent{}, s.err
	}
	s.seq++
	out := ChatEvent{
		ID:        fmt.Sprintf("msg-%d", s.seq),
		Kind:      ev.Kind,
		SenderID:  ev.SenderID,
		Content:   ev.Content,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Sender:    Sender{ID: ev.SenderID, Username: "name-" + ev.SenderID},
	}
	if ev.Kind == KindGroup {
		out.GroupID = ev.Destination
	} else {
		out.ReceiverID = ev.Destination
	}
	return out, nil
}

func (s *fakeStore) recorded() []NewChatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]NewChatEvent(nil), s.calls...)
}

// fakeMembers answers IsMember from a fixed set of "identity/group" pairs
type fakeMembers struct {
	allowed map[string]bool
	err     error
}

func (m fakeMembers) IsMember(_ context.Context, identity, groupID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.allowed[identity+"/"+groupID], nil
}

// fakeBus records published messages
type fakeBus struct {
	mu   sync.Mutex
	msgs []BusMessage
	err  error
}

func (b *fakeBus) Publish(_ context.Context, m BusMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, m)
	return nil
}

func (b *fakeBus) published() []BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BusMessage(nil), b.msgs...)
}

var errBoom = errors.New("boom")
