package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/talkio/pttd/internal/core"
	"github.com/talkio/pttd/internal/domain"
)

// Connection is the registry's record of one live transport session.
type Connection struct {
	ID        core.ConnectionID
	Principal domain.Principal
	Transport core.Transport
}

type connEntry struct {
	conn     *Connection
	rooms    map[domain.ChannelID]struct{}
	lastSeen time.Time
	stale    bool
}

// Registry tracks every live connection, its principal and the rooms it has
// joined. It is the single owner of Connection records: created on
// successful authentication, destroyed on disconnect.
type Registry struct {
	clock core.Clock

	mu      sync.RWMutex
	entries map[core.ConnectionID]*connEntry
}

func NewRegistry(clock core.Clock) *Registry {
	return &Registry{clock: clock, entries: make(map[core.ConnectionID]*connEntry)}
}

func (r *Registry) Register(transport core.Transport, principal domain.Principal) *Connection {
	conn := &Connection{
		ID:        core.ConnectionID(uuid.NewString()),
		Principal: principal,
		Transport: transport,
	}
	r.mu.Lock()
	r.entries[conn.ID] = &connEntry{
		conn:     conn,
		rooms:    make(map[domain.ChannelID]struct{}),
		lastSeen: r.clock.Now(),
	}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("conn", string(conn.ID)).
		Str("user", string(principal.UserID)).Str("org", string(principal.OrgID)).Msg("registered connection")
	return conn
}

// Unregister removes the record and returns the rooms the connection still
// belonged to, so the caller can run membership cleanup in each.
func (r *Registry) Unregister(id core.ConnectionID) (*Connection, []domain.ChannelID, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, false
	}
	delete(r.entries, id)
	rooms := make([]domain.ChannelID, 0, len(e.rooms))
	for ch := range e.rooms {
		rooms = append(rooms, ch)
	}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("rooms", len(rooms)).Msg("unregistered connection")
	return e.conn, rooms, true
}

// Touch records a liveness heartbeat and clears any stale mark.
func (r *Registry) Touch(id core.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.lastSeen = r.clock.Now()
	e.stale = false
	return true
}

func (r *Registry) Lookup(id core.ConnectionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) AddRoom(id core.ConnectionID, ch domain.ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.rooms[ch] = struct{}{}
	return true
}

func (r *Registry) RemoveRoom(id core.ConnectionID, ch domain.ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		delete(e.rooms, ch)
	}
}

func (r *Registry) Rooms(id core.ConnectionID) []domain.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	out := make([]domain.ChannelID, 0, len(e.rooms))
	for ch := range e.rooms {
		out = append(out, ch)
	}
	return out
}

// MarkStale queues a liveness check: the next sweep treats the connection as
// expired unless a heartbeat arrives first.
func (r *Registry) MarkStale(id core.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.stale = true
	}
}

// Expired returns connections whose last heartbeat predates cutoff or that
// were marked stale by a failed delivery.
func (r *Registry) Expired(cutoff time.Time) []core.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ConnectionID
	for id, e := range r.entries {
		if e.stale || e.lastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
