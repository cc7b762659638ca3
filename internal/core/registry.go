package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/devaladey/yct-soup/internal/domain"
	"github.com/devaladey/yct-soup/internal/media"
)

// Registry owns the room table. Rooms are created on first join and
// removed when their last peer leaves; each room gets its own engine
// router whose lifetime matches the room's.
type Registry struct {
	engine media.Engine
	group  singleflight.Group

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRegistry(engine media.Engine) *Registry {
	return &Registry{
		engine: engine,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate returns the room, creating it and its router on first use.
// Concurrent calls for the same id are collapsed so the engine is asked
// for exactly one router.
func (reg *Registry) GetOrCreate(ctx context.Context, id domain.RoomID) (*Room, error) {
	if room, ok := reg.Get(id); ok {
		return room, nil
	}

	v, err, _ := reg.group.Do(string(id), func() (any, error) {
		if room, ok := reg.Get(id); ok {
			return room, nil
		}
		router, err := reg.engine.CreateRouter(ctx)
		if err != nil {
			return nil, engineErr("create router", err)
		}
		room := newRoom(id, router, reg)
		reg.mu.Lock()
		reg.rooms[id] = room
		reg.mu.Unlock()
		log.Info().Str("module", "core.registry").Str("room", string(id)).
			Str("router", router.ID()).Msg("room created")
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Get looks up an existing room.
func (reg *Registry) Get(id domain.RoomID) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// RoomCount reports the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// LeaveAll removes the peer from every room that tracks it. This is the
// disconnect path; Leave itself is idempotent so an explicit leave racing
// the socket teardown is harmless.
func (reg *Registry) LeaveAll(peerID domain.PeerID) {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	for _, room := range rooms {
		room.Leave(peerID)
	}
}

// removeIfEmpty drops the room and closes its router, once, if no peer is
// left. Both locks are taken in registry-then-room order; the router is
// closed outside the locks.
func (reg *Registry) removeIfEmpty(id domain.RoomID) {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	if !ok {
		reg.mu.Unlock()
		return
	}
	room.mu.Lock()
	drained := len(room.peers) == 0 && !room.closed
	if drained {
		room.closed = true
		delete(reg.rooms, id)
	}
	room.mu.Unlock()
	reg.mu.Unlock()

	if drained {
		room.router.Close()
		log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room closed")
	}
}

// CloseAll tears down every room during shutdown.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	rooms := reg.rooms
	reg.rooms = make(map[domain.RoomID]*Room)
	reg.mu.Unlock()

	for _, room := range rooms {
		room.closeForShutdown()
	}
}
