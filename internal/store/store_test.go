package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teen-chats/internal/app"
	"teen-chats/internal/realtime"
)

func TestMessageRow_Event(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	ev := messageRow{
		ID: "m1", Kind: "group", SenderID: "u1", GroupID: "g1", Content: "hi",
		CreatedAt: at, Username: "ann", Avatar: "a.png",
	}.event()

	assert.Equal(t, realtime.KindGroup, ev.Kind)
	assert.Equal(t, "g1", ev.GroupID)
	assert.Equal(t, time.UTC, ev.CreatedAt.Location())
	assert.True(t, at.Equal(ev.CreatedAt))
	assert.Equal(t, realtime.Sender{ID: "u1", Username: "ann", Avatar: "a.png"}, ev.Sender)
}

// openTestDB connects to PG_TEST_URL; the tests below need a disposable database
func openTestDB(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL not set")
	}
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pg, err := NewPostgres(ctx, app.Config{PGURL: url, PGMaxConn: 4}, log)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	require.NoError(t, RunMigrations(ctx, pg, log))
	return pg
}

func TestPostgres_StoreAndFetchRecent(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	a, b := "u-"+uuid.NewString(), "u-"+uuid.NewString()
	_, err := pg.pool.Exec(ctx, `INSERT INTO users (id, username, nickname) VALUES ($1, 'ann', 'Annie')`, a)
	require.NoError(t, err)

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		ev, err := pg.Store(ctx, realtime.NewChatEvent{Kind: realtime.KindDM, SenderID: a, Destination: b, Content: text})
		require.NoError(t, err)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, b, ev.ReceiverID)
		assert.Equal(t, "ann", ev.Sender.Username)
		ids = append(ids, ev.ID)
	}

	recent, err := pg.FetchRecent(ctx, realtime.ResolveDirectPairKey(b, a), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[1], recent[0].ID)
	assert.Equal(t, ids[2], recent[1].ID)
	assert.Equal(t, "Annie", recent[1].Sender.Nickname)
}

func TestPostgres_IsMember(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	g, u := "g-"+uuid.NewString(), "u-"+uuid.NewString()
	_, err := pg.pool.Exec(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, g, u)
	require.NoError(t, err)

	ok, err := pg.IsMember(ctx, u, g)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pg.IsMember(ctx, "someone-else", g)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgres_StoreRejectsUnknownKind(t *testing.T) {
	pg := &Postgres{}
	_, err := pg.Store(context.Background(), realtime.NewChatEvent{Kind: "broadcast", SenderID: "a", Destination: "b", Content: "x"})
	assert.Error(t, err)
}
