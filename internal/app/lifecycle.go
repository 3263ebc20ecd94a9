package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/talkio/pttd/internal/core"
)

// Lifecycle reacts to dying connections so rooms and floor state never leak
// a dead one: transport-level closes funnel into Disconnect, and a periodic
// sweep expires connections whose heartbeat went silent.
type Lifecycle struct {
	registry *Registry
	rooms    *RoomManager
	clock    core.Clock

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration
}

func NewLifecycle(registry *Registry, rooms *RoomManager, clock core.Clock, heartbeatTimeout, sweepInterval time.Duration) *Lifecycle {
	return &Lifecycle{
		registry:         registry,
		rooms:            rooms,
		clock:            clock,
		heartbeatTimeout: heartbeatTimeout,
		sweepInterval:    sweepInterval,
	}
}

// Disconnect is the single teardown path for a connection, shared by abrupt
// transport closes, explicit logouts and sweep expiry.
func (l *Lifecycle) Disconnect(id core.ConnectionID) {
	l.rooms.Disconnect(id)
}

// Heartbeat records client liveness.
func (l *Lifecycle) Heartbeat(id core.ConnectionID) bool {
	return l.registry.Touch(id)
}

// Run sweeps until ctx is cancelled.
func (l *Lifecycle) Run(ctx context.Context) {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Lifecycle) sweep() {
	cutoff := l.clock.Now().Add(-l.heartbeatTimeout)
	for _, id := range l.registry.Expired(cutoff) {
		log.Warn().Str("module", "app.lifecycle").Str("conn", string(id)).Msg("liveness expired, disconnecting")
		l.Disconnect(id)
	}
}
