package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queued reports how many requests wait in the lane of ev (tests only)
func (g *Gateway) queued(ev NewChatEvent) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ln := g.lanes[laneKey(ev)]; ln != nil {
		return len(ln.queue)
	}
	return 0
}

func TestGateway_StoresInSubmissionOrder(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{}), started: make(chan NewChatEvent, 16)}
	gw := NewGateway(store, testLogger())
	ctx := context.Background()

	ev := func(i int) NewChatEvent {
		return NewChatEvent{Kind: KindDM, SenderID: "u1", Destination: "u2", Content: fmt.Sprintf("m%d", i)}
	}

	var wg sync.WaitGroup
	submit := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.Store(ctx, ev(i))
			assert.NoError(t, err)
		}()
	}

	// first request blocks inside the store; the rest pile up behind it in order
	submit(0)
	<-store.started
	for i := 1; i < 5; i++ {
		submit(i)
		want := i
		require.Eventually(t, func() bool { return gw.queued(ev(0)) == want }, time.Second, time.Millisecond)
	}

	close(store.gate)
	wg.Wait()

	calls := store.recorded()
	require.Len(t, calls, 5)
	for i, c := range calls {
		assert.Equal(t, fmt.Sprintf("m%d", i), c.Content)
	}
	require.Eventually(t, func() bool { return gw.pending() == 0 }, time.Second, time.Millisecond)
}

func TestGateway_UnrelatedLanesDoNotWait(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{}), started: make(chan NewChatEvent, 4)}
	gw := NewGateway(store, testLogger())

	blocked := make(chan error, 1)
	go func() {
		_, err := gw.Store(context.Background(), NewChatEvent{Kind: KindDM, SenderID: "u1", Destination: "u2", Content: "slow"})
		blocked <- err
	}()
	<-store.started

	// second lane reaches the store while the first is still stuck
	go func() {
		_, _ = gw.Store(context.Background(), NewChatEvent{Kind: KindGroup, SenderID: "u3", Destination: "g1", Content: "fast"})
	}()
	select {
	case got := <-store.started:
		assert.Equal(t, "fast", got.Content)
	case <-time.After(time.Second):
		t.Fatal("independent lane was blocked")
	}

	close(store.gate)
	require.NoError(t, <-blocked)
}

func TestGateway_StoreFailure(t *testing.T) {
	store := &fakeStore{err: errBoom}
	gw := NewGateway(store, testLogger())

	_, err := gw.Store(context.Background(), NewChatEvent{Kind: KindDM, SenderID: "u1", Destination: "u2", Content: "hi"})
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, errBoom)
}

func TestGateway_Timeout(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	defer close(store.gate)
	gw := NewGateway(store, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := gw.Store(ctx, NewChatEvent{Kind: KindDM, SenderID: "u1", Destination: "u2", Content: "hi"})
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateway_ExpiredWhileQueuedIsNotStored(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{}), started: make(chan NewChatEvent, 4)}
	gw := NewGateway(store, testLogger())
	first := NewChatEvent{Kind: KindDM, SenderID: "u1", Destination: "u2", Content: "first"}

	done := make(chan error, 1)
	go func() {
		_, err := gw.Store(context.Background(), first)
		done <- err
	}()
	<-store.started

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() {
		_, err := gw.Store(ctx, NewChatEvent{Kind: KindDM, SenderID: "u1", Destination: "u2", Content: "late"})
		queued <- err
	}()
	require.Eventually(t, func() bool { return gw.queued(first) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-queued, ErrPersistence)

	close(store.gate)
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return gw.pending() == 0 }, time.Second, time.Millisecond)

	calls := store.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "first", calls[0].Content)
}
