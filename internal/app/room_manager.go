package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/talkio/pttd/internal/core"
	"github.com/talkio/pttd/internal/domain"
)

//go:generate mockgen -source=room_manager.go -destination=mocks/directory_mock.go -package=mocks Directory

// Directory answers channel-membership questions for authenticated
// principals. In a distributed deployment this is a remote call, so it takes
// a context and is always consulted before any room state is touched.
type Directory interface {
	IsMember(ctx context.Context, p domain.Principal, ch domain.ChannelID) (bool, error)
}

// RoomManagerConfig tunes the rooms a manager creates.
type RoomManagerConfig struct {
	Floor core.FloorConfig
	// DirectoryTimeout bounds each membership lookup.
	DirectoryTimeout time.Duration
}

// RoomManager owns the set of active rooms: lazy creation on first join,
// deletion when the last member leaves, and the authorization boundary in
// front of every join. Per-room state stays isolated; the manager's own lock
// only guards the channel-to-room table.
type RoomManager struct {
	registry  *Registry
	directory Directory
	clock     core.Clock
	cfg       RoomManagerConfig

	mu    sync.RWMutex
	rooms map[domain.ChannelID]*core.Room
}

func NewRoomManager(registry *Registry, directory Directory, clock core.Clock, cfg RoomManagerConfig) *RoomManager {
	return &RoomManager{
		registry:  registry,
		directory: directory,
		clock:     clock,
		cfg:       cfg,
		rooms:     make(map[domain.ChannelID]*core.Room),
	}
}

// Join authorizes connID against the membership directory and attaches it to
// the channel's room, creating the room lazily. Re-joining is idempotent.
// The directory is consulted before any room mutation and never while
// holding room state.
func (m *RoomManager) Join(ctx context.Context, connID core.ConnectionID, ch domain.ChannelID) (core.RoomView, error) {
	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return core.RoomView{}, core.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.DirectoryTimeout)
	defer cancel()
	member, err := m.directory.IsMember(ctx, conn.Principal, ch)
	if err != nil {
		return core.RoomView{}, fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return core.RoomView{}, core.ErrUnauthorized
	}

	// The connection may have dropped while the lookup was in flight; a
	// stale join must not resurrect it inside a room.
	if _, ok := m.registry.Lookup(connID); !ok {
		return core.RoomView{}, core.ErrNotFound
	}

	entry := &core.Member{ID: connID, Principal: conn.Principal, Transport: conn.Transport}
	for {
		room := m.getOrCreate(ch)
		view, joined, err := room.Join(entry)
		if errors.Is(err, core.ErrRoomClosed) {
			// Lost the race against deletion; drop the dead room and retry.
			m.evict(ch, room)
			continue
		}
		if err != nil {
			return core.RoomView{}, err
		}
		if !m.registry.AddRoom(connID, ch) {
			// The connection disconnected while the join was being applied;
			// discard the stale join instead of leaking a dead member.
			if _, empty := room.Leave(connID, core.CauseDisconnect); empty {
				m.evict(ch, room)
			}
			return core.RoomView{}, core.ErrNotFound
		}
		if joined {
			log.Info().Str("module", "app.rooms").Str("channel", string(ch)).
				Str("conn", string(connID)).Msg("joined room")
		}
		return view, nil
	}
}

// Leave detaches connID from the channel's room, releasing the floor first
// if held. Unknown rooms and non-members are safe no-ops.
func (m *RoomManager) Leave(connID core.ConnectionID, ch domain.ChannelID, cause core.ReleaseCause) {
	m.registry.RemoveRoom(connID, ch)
	room, ok := m.get(ch)
	if !ok {
		return
	}
	if _, empty := room.Leave(connID, cause); empty {
		m.evict(ch, room)
		log.Info().Str("module", "app.rooms").Str("channel", string(ch)).Msg("room deleted")
	}
}

// Disconnect tears a connection down completely: leaves every joined room
// with cause disconnect, then removes the registry record. Idempotent.
func (m *RoomManager) Disconnect(connID core.ConnectionID) {
	conn, rooms, ok := m.registry.Unregister(connID)
	if !ok {
		return
	}
	for _, ch := range rooms {
		if room, ok := m.get(ch); ok {
			if _, empty := room.Leave(connID, core.CauseDisconnect); empty {
				m.evict(ch, room)
			}
		}
	}
	conn.Transport.Close()
}

func (m *RoomManager) RequestFloor(connID core.ConnectionID, ch domain.ChannelID) error {
	room, ok := m.get(ch)
	if !ok {
		return core.ErrNotFound
	}
	return room.RequestFloor(connID)
}

func (m *RoomManager) ReleaseFloor(connID core.ConnectionID, ch domain.ChannelID) error {
	room, ok := m.get(ch)
	if !ok {
		return core.ErrNotFound
	}
	return room.ReleaseFloor(connID)
}

func (m *RoomManager) Relay(connID core.ConnectionID, ch domain.ChannelID, data []byte) error {
	room, ok := m.get(ch)
	if !ok {
		return core.ErrNotFound
	}
	return room.Relay(connID, data)
}

// Snapshot is the read-only view exposed to status endpoints.
func (m *RoomManager) Snapshot(ch domain.ChannelID) (core.RoomView, bool) {
	room, ok := m.get(ch)
	if !ok {
		return core.RoomView{}, false
	}
	return room.Snapshot()
}

func (m *RoomManager) List() []core.RoomView {
	m.mu.RLock()
	rooms := make([]*core.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]core.RoomView, 0, len(rooms))
	for _, r := range rooms {
		if view, ok := r.Snapshot(); ok {
			out = append(out, view)
		}
	}
	return out
}

func (m *RoomManager) get(ch domain.ChannelID) (*core.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[ch]
	return room, ok
}

func (m *RoomManager) getOrCreate(ch domain.ChannelID) *core.Room {
	m.mu.RLock()
	room, ok := m.rooms[ch]
	m.mu.RUnlock()
	if ok {
		return room
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[ch]; ok {
		return room
	}
	room = core.NewRoom(ch, m.cfg.Floor, m.clock, m.registry.MarkStale)
	m.rooms[ch] = room
	log.Info().Str("module", "app.rooms").Str("channel", string(ch)).Msg("room created")
	return room
}

// evict removes ch from the table only while it still maps to room, so a
// recreated room under the same channel id is never torn down by a straggler.
func (m *RoomManager) evict(ch domain.ChannelID, room *core.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rooms[ch]; ok && current == room {
		delete(m.rooms, ch)
	}
}
