package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDirectPairKey_OrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"u1", "u1"},
		{"", "x"},
		{"Zed", "adam"},
		{"c1f0-aa", "c1f0-ab"},
	}
	for _, p := range pairs {
		t.Run(p[0]+"|"+p[1], func(t *testing.T) {
			assert.Equal(t, ResolveDirectPairKey(p[0], p[1]), ResolveDirectPairKey(p[1], p[0]))
		})
	}
	assert.Equal(t, RoomKey("dm:alice-bob"), ResolveDirectPairKey("bob", "alice"))
}

func TestRoomKeys(t *testing.T) {
	assert.Equal(t, RoomKey("user:u1"), UserRoomKey("u1"))
	assert.Equal(t, RoomKey("group:g1"), GroupRoomKey("g1"))
}

func TestRooms_JoinLeaveIdempotent(t *testing.T) {
	rooms := NewRooms()
	reg := NewRegistry(rooms)
	c := reg.Admit("u1", &fakeTransport{})
	key := GroupRoomKey("g1")

	require.NoError(t, rooms.Join(c, key))
	require.NoError(t, rooms.Join(c, key))
	assert.Len(t, rooms.MembersOf(key), 1)

	rooms.Leave(c, key)
	rooms.Leave(c, key)
	assert.Empty(t, rooms.MembersOf(key))
	assert.Equal(t, []RoomKey{UserRoomKey("u1")}, c.Rooms())

	// leaving a room that never existed is fine too
	rooms.Leave(c, GroupRoomKey("nope"))
}

func TestRooms_EmptyRoomsAreReaped(t *testing.T) {
	rooms := NewRooms()
	reg := NewRegistry(rooms)
	c := reg.Admit("u1", &fakeTransport{})
	require.Equal(t, 1, rooms.Len())

	require.NoError(t, rooms.Join(c, GroupRoomKey("g1")))
	assert.Equal(t, 2, rooms.Len())

	rooms.Leave(c, GroupRoomKey("g1"))
	assert.Equal(t, 1, rooms.Len())

	reg.Remove(c)
	assert.Equal(t, 0, rooms.Len())
}

func TestRooms_MembersOfIsSnapshot(t *testing.T) {
	rooms := NewRooms()
	reg := NewRegistry(rooms)
	a := reg.Admit("a", &fakeTransport{})
	b := reg.Admit("b", &fakeTransport{})
	key := GroupRoomKey("g")
	require.NoError(t, rooms.Join(a, key))
	require.NoError(t, rooms.Join(b, key))

	snap := rooms.MembersOf(key)
	rooms.Leave(b, key)
	assert.Len(t, snap, 2)
	assert.Len(t, rooms.MembersOf(key), 1)
}

func TestRooms_JoinAfterRemoveFails(t *testing.T) {
	rooms := NewRooms()
	reg := NewRegistry(rooms)
	c := reg.Admit("u1", &fakeTransport{})
	reg.Remove(c)

	err := rooms.Join(c, GroupRoomKey("g1"))
	require.ErrorIs(t, err, ErrConnClosed)
	assert.Empty(t, rooms.MembersOf(GroupRoomKey("g1")))
	assert.Equal(t, 0, rooms.Len())
}

func TestRooms_ConcurrentJoinLeave(t *testing.T) {
	rooms := NewRooms()
	reg := NewRegistry(rooms)
	stable := reg.Admit("stable", &fakeTransport{})
	key := GroupRoomKey("busy")
	require.NoError(t, rooms.Join(stable, key))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := reg.Admit(fmt.Sprintf("u%d", i), &fakeTransport{})
			for j := 0; j < 50; j++ {
				_ = rooms.Join(c, key)
				_ = rooms.Join(c, GroupRoomKey(fmt.Sprintf("side-%d", j%3)))
				rooms.Leave(c, key)
			}
			reg.Remove(c)
		}(i)
	}

	// a member that never leaves must never be skipped by a snapshot
	for i := 0; i < 200; i++ {
		assert.Contains(t, rooms.MembersOf(key), stable)
	}
	wg.Wait()

	assert.Equal(t, []*Conn{stable}, rooms.MembersOf(key))
	assert.Equal(t, 1, reg.Count())
}
