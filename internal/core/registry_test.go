package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media/mediatest"
)

func TestGetOrCreateReturnsSameRoom(t *testing.T) {
	eng := mediatest.NewEngine()
	reg := NewRegistry(eng)
	ctx := context.Background()

	r1, err := reg.GetOrCreate(ctx, "room-1")
	require.NoError(t, err)
	r2, err := reg.GetOrCreate(ctx, "room-1")
	require.NoError(t, err)
	require.Same(t, r1, r2)
	require.Equal(t, 1, eng.RoutersCreated)
	require.Equal(t, 1, reg.RoomCount())
}

func TestConcurrentJoinsCreateOneRouter(t *testing.T) {
	eng := mediatest.NewEngine()
	reg := NewRegistry(eng)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := reg.GetOrCreate(ctx, "room-1")
			require.NoError(t, err)
			_, err = room.Join(domain.PeerID(fmt.Sprintf("peer-%d", i)), "Guest", &fakeSender{})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, eng.RoutersCreated)
	room, ok := reg.Get("room-1")
	require.True(t, ok)
	require.Equal(t, 8, room.PeerCount())
}

func TestGetOrCreateRouterFailure(t *testing.T) {
	eng := mediatest.NewEngine()
	eng.FailRouter = true
	reg := NewRegistry(eng)

	_, err := reg.GetOrCreate(context.Background(), "room-1")
	require.ErrorIs(t, err, ErrEngine)
	require.Equal(t, 0, reg.RoomCount())
}

func TestRoomRecreatedAfterDraining(t *testing.T) {
	eng := mediatest.NewEngine()
	reg := NewRegistry(eng)
	ctx := context.Background()

	room, err := reg.GetOrCreate(ctx, "room-1")
	require.NoError(t, err)
	join(t, room, "peer-a", "Alice")
	room.Leave("peer-a")

	again, err := reg.GetOrCreate(ctx, "room-1")
	require.NoError(t, err)
	require.NotSame(t, room, again)
	require.Equal(t, 2, eng.RoutersCreated)

	// The drained room stays dead even if a stale handle joins it.
	_, err = room.Join("peer-b", "Bob", &fakeSender{})
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLeaveAllSpansRooms(t *testing.T) {
	eng := mediatest.NewEngine()
	reg := NewRegistry(eng)
	ctx := context.Background()

	r1, err := reg.GetOrCreate(ctx, "room-1")
	require.NoError(t, err)
	r2, err := reg.GetOrCreate(ctx, "room-2")
	require.NoError(t, err)
	join(t, r1, "peer-a", "Alice")
	join(t, r2, "peer-a", "Alice")
	join(t, r2, "peer-b", "Bob")

	reg.LeaveAll("peer-a")

	_, ok := reg.Get("room-1")
	require.False(t, ok)
	require.Equal(t, 1, r2.PeerCount())
}

func TestCloseAll(t *testing.T) {
	eng := mediatest.NewEngine()
	reg := NewRegistry(eng)
	ctx := context.Background()

	room, err := reg.GetOrCreate(ctx, "room-1")
	require.NoError(t, err)
	join(t, room, "peer-a", "Alice")
	sendTransport(t, room, "peer-a")

	reg.CloseAll()

	require.Equal(t, 0, reg.RoomCount())
	router := eng.Routers()[0]
	require.Equal(t, 1, router.CloseCount())
	require.True(t, router.Transports()[0].Closed())
}
