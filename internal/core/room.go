package core

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/talkio/pttd/internal/domain"
)

// Room is the live session state for one channel and the unit of mutual
// exclusion: membership, floor state and the event sequence counter are all
// mutated under one mutex, so operations on one room never block another.
// It never closes adapter-owned transports.
type Room struct {
	channel domain.ChannelID
	clock   Clock

	// onStale is invoked outside the lock for members whose transport
	// rejected a delivery; the owner queues a liveness check for them.
	onStale func(ConnectionID)

	mu      sync.Mutex
	closed  bool
	members map[ConnectionID]*Member
	order   []ConnectionID // join order, used for views and tie-breaks
	seq     uint64
	floor   *floorState
	timer   Timer
	stale   []ConnectionID
}

func NewRoom(channel domain.ChannelID, cfg FloorConfig, clock Clock, onStale func(ConnectionID)) *Room {
	return &Room{
		channel: channel,
		clock:   clock,
		onStale: onStale,
		members: make(map[ConnectionID]*Member),
		floor:   newFloorState(cfg),
	}
}

func (r *Room) Channel() domain.ChannelID { return r.channel }

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Snapshot returns a read-only view, eventually consistent with in-flight
// mutations. ok is false once the room has been emptied and closed.
func (r *Room) Snapshot() (RoomView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return RoomView{}, false
	}
	return r.viewLocked(), true
}

// Join attaches m to the room and broadcasts member.joined. A repeated join
// from the same connection is an idempotent no-op: the current view comes
// back, joined is false and no duplicate event is emitted. ErrRoomClosed
// means the caller raced room deletion and must recreate the room.
func (r *Room) Join(m *Member) (RoomView, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return RoomView{}, false, ErrRoomClosed
	}
	if _, ok := r.members[m.ID]; ok {
		view := r.viewLocked()
		r.mu.Unlock()
		return view, false, nil
	}
	r.members[m.ID] = m
	r.order = append(r.order, m.ID)
	r.broadcastLocked(Event{Type: EventMemberJoined, Channel: r.channel, From: m.ID})
	view := r.viewLocked()
	stale := r.takeStaleLocked()
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("channel", string(r.channel)).
		Str("conn", string(m.ID)).Str("user", string(m.Principal.UserID)).Msg("member added")
	r.reportStale(stale)
	return view, true, nil
}

// Leave removes id, releasing the floor first if id holds it so that
// floor.released(cause) precedes member.left, and only then services the
// pending queue. empty reports that the room closed with this departure and
// must be dropped by its manager. Unknown members are a safe no-op.
func (r *Room) Leave(id ConnectionID, cause ReleaseCause) (left, empty bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, false
	}
	if _, ok := r.members[id]; !ok {
		r.mu.Unlock()
		return false, false
	}
	if r.floor.drop(id) {
		r.stopTimerLocked()
		r.broadcastLocked(Event{Type: EventFloorReleased, Channel: r.channel, From: id, Cause: cause})
	}
	r.removeMemberLocked(id)
	r.broadcastLocked(Event{Type: EventMemberLeft, Channel: r.channel, From: id})
	if len(r.members) == 0 {
		// Closing under the same lock as the emptying removal means no join
		// can slip into a room its manager is about to delete.
		r.closed = true
		r.stopTimerLocked()
		empty = true
	} else {
		r.serviceNextLocked()
	}
	stale := r.takeStaleLocked()
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("channel", string(r.channel)).
		Str("conn", string(id)).Str("cause", string(cause)).Msg("member removed")
	r.reportStale(stale)
	return true, empty
}

// RequestFloor arbitrates a transmit request from id. Grants broadcast
// floor.granted and arm the max-hold timer; a renewal by the sitting holder
// re-confirms privately; contested requests are denied (and queued, FCFS)
// or, with preemption on, seize the floor from the holder.
func (r *Room) RequestFloor(id ConnectionID) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	m, ok := r.members[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	res := r.floor.request(id, r.clock.Now())
	switch res.outcome {
	case floorGranted:
		r.broadcastLocked(Event{Type: EventFloorGranted, Channel: r.channel, From: id})
		r.armTimerLocked(res.gen)
	case floorRenewed:
		// The grant everyone saw still stands; only the requester needs the
		// re-confirmation.
		r.sendLocked(m, Event{Type: EventFloorGranted, Channel: r.channel, From: id})
		r.armTimerLocked(res.gen)
	case floorPreempted:
		r.broadcastLocked(Event{Type: EventFloorReleased, Channel: r.channel, From: res.ousted, Cause: CausePreempted})
		r.broadcastLocked(Event{Type: EventFloorGranted, Channel: r.channel, From: id})
		r.armTimerLocked(res.gen)
	case floorDenied:
		r.sendLocked(m, Event{Type: EventFloorDenied, Channel: r.channel, Reason: res.reason})
	}
	stale := r.takeStaleLocked()
	r.mu.Unlock()
	r.reportStale(stale)
	return nil
}

// ReleaseFloor hands the floor back and grants the oldest pending request,
// if any. ErrNotHolder when id does not hold the floor.
func (r *Room) ReleaseFloor(id ConnectionID) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	if _, ok := r.members[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if !r.floor.release(id) {
		r.mu.Unlock()
		return ErrNotHolder
	}
	r.stopTimerLocked()
	r.broadcastLocked(Event{Type: EventFloorReleased, Channel: r.channel, From: id, Cause: CauseManual})
	r.serviceNextLocked()
	stale := r.takeStaleLocked()
	r.mu.Unlock()
	r.reportStale(stale)
	return nil
}

// Relay fans an opaque audio frame out to the room. Only the floor holder
// may transmit.
func (r *Room) Relay(from ConnectionID, data []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	if _, ok := r.members[from]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if r.floor.holder != from {
		r.mu.Unlock()
		return ErrNotHolder
	}
	res := r.broadcastLocked(Event{Type: EventAudioFrame, Channel: r.channel, From: from, Data: data})
	stale := r.takeStaleLocked()
	r.mu.Unlock()

	log.Debug().Str("module", "core.room").Str("channel", string(r.channel)).
		Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("frame relayed")
	r.reportStale(stale)
	return nil
}

// expireFloor is the max-hold timer callback for one grant generation.
// Renewals and releases bump the generation, so a stale timer is a no-op.
func (r *Room) expireFloor(gen uint64) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	ousted, ok := r.floor.expire(gen)
	if !ok {
		r.mu.Unlock()
		return
	}
	r.broadcastLocked(Event{Type: EventFloorReleased, Channel: r.channel, From: ousted, Cause: CauseTimeout})
	r.serviceNextLocked()
	stale := r.takeStaleLocked()
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("channel", string(r.channel)).
		Str("conn", string(ousted)).Msg("floor hold expired")
	r.reportStale(stale)
}

func (r *Room) viewLocked() RoomView {
	members := make([]MemberView, 0, len(r.order))
	for _, id := range r.order {
		m := r.members[id]
		members = append(members, MemberView{ID: id, UserID: m.Principal.UserID})
	}
	return RoomView{Channel: r.channel, Members: members, Holder: r.floor.holder, Seq: r.seq}
}

func (r *Room) removeMemberLocked(id ConnectionID) {
	delete(r.members, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// broadcastLocked assigns the next sequence number and delivers to the
// membership snapshot taken under the same lock, so no member added or
// removed mid-broadcast is missed or double-delivered.
func (r *Room) broadcastLocked(ev Event) PublishResult {
	r.seq++
	ev.Seq = r.seq
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("event marshal")
		return PublishResult{}
	}
	res := PublishResult{}
	for _, id := range r.order {
		m := r.members[id]
		if err := m.Transport.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Str("channel", string(r.channel)).
				Str("conn", string(id)).Msg("delivery failed, marking stale")
			res.Dropped = append(res.Dropped, id)
			r.stale = append(r.stale, id)
			continue
		}
		res.SentTo++
	}
	return res
}

// sendLocked delivers a private event to one member, stamped with the
// current sequence number without consuming one: private events must not
// open gaps in the room's broadcast ordering.
func (r *Room) sendLocked(m *Member, ev Event) {
	ev.Seq = r.seq
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("event marshal")
		return
	}
	if err := m.Transport.TrySend(frame); err != nil {
		r.stale = append(r.stale, m.ID)
	}
}

func (r *Room) armTimerLocked(gen uint64) {
	r.stopTimerLocked()
	if r.floor.cfg.MaxHold <= 0 {
		return
	}
	r.timer = r.clock.AfterFunc(r.floor.cfg.MaxHold, func() { r.expireFloor(gen) })
}

func (r *Room) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Room) serviceNextLocked() {
	id, gen, ok := r.floor.next(r.clock.Now())
	if !ok {
		return
	}
	r.broadcastLocked(Event{Type: EventFloorGranted, Channel: r.channel, From: id})
	r.armTimerLocked(gen)
}

func (r *Room) takeStaleLocked() []ConnectionID {
	stale := r.stale
	r.stale = nil
	return stale
}

func (r *Room) reportStale(ids []ConnectionID) {
	if r.onStale == nil {
		return
	}
	for _, id := range ids {
		r.onStale(id)
	}
}
