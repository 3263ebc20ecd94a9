package core

import "time"

// FloorConfig tunes floor arbitration for a room.
type FloorConfig struct {
	// MaxHold bounds how long a grant lives without a renewal before it is
	// force-released with cause timeout. Zero disables the timer.
	MaxHold time.Duration
	// QueueCap bounds the pending-request queue. A request beyond the cap is
	// denied with reason capacity instead of queued. Zero means unbounded.
	QueueCap int
	// Preemption lets a contested request seize the floor from the sitting
	// holder instead of queueing behind it. Off means strict FCFS.
	Preemption bool
}

// floorState is the per-room mutual-exclusion state machine over the
// transmit floor. It is deliberately free of locks, timers and transports:
// the owning room serializes all calls and turns results into events, so
// transitions stay testable independent of transport callback timing.
//
// States: idle (holder == "") and held. The pending queue is FCFS by request
// arrival order.
type floorState struct {
	cfg        FloorConfig
	holder     ConnectionID
	acquiredAt time.Time
	// gen increments on every grant and renewal. Max-hold timers capture the
	// generation they were armed for, so a timer firing after a renewal or a
	// release is recognized as stale and ignored.
	gen     uint64
	pending []ConnectionID
}

func newFloorState(cfg FloorConfig) *floorState {
	return &floorState{cfg: cfg}
}

func (f *floorState) held() bool { return f.holder != "" }

type floorOutcome int

const (
	floorGranted floorOutcome = iota
	floorRenewed
	floorDenied
	floorPreempted
)

type requestResult struct {
	outcome floorOutcome
	reason  DenyReason
	// ousted is the previous holder when outcome is floorPreempted.
	ousted ConnectionID
	// gen is the grant generation for granted/renewed/preempted outcomes.
	gen uint64
	// queued reports whether the denied requester was enqueued.
	queued bool
}

// request applies a floor.request from id.
func (f *floorState) request(id ConnectionID, now time.Time) requestResult {
	if !f.held() {
		f.grantTo(id, now)
		return requestResult{outcome: floorGranted, gen: f.gen}
	}
	if f.holder == id {
		// Keep-alive: re-confirm and restart the max-hold window.
		f.acquiredAt = now
		f.gen++
		return requestResult{outcome: floorRenewed, gen: f.gen}
	}
	if f.cfg.Preemption {
		ousted := f.holder
		f.removePending(id)
		f.grantTo(id, now)
		return requestResult{outcome: floorPreempted, ousted: ousted, gen: f.gen}
	}
	if f.isPending(id) {
		return requestResult{outcome: floorDenied, reason: DenyHeld, queued: true}
	}
	if f.cfg.QueueCap > 0 && len(f.pending) >= f.cfg.QueueCap {
		return requestResult{outcome: floorDenied, reason: DenyCapacity}
	}
	f.pending = append(f.pending, id)
	return requestResult{outcome: floorDenied, reason: DenyHeld, queued: true}
}

// release applies a floor.release from id. ok is false when id is not the
// holder; the floor stays untouched and the next grant is not serviced.
func (f *floorState) release(id ConnectionID) bool {
	if f.holder != id {
		return false
	}
	f.holder = ""
	return true
}

// expire fires the max-hold timer armed for generation gen. A stale
// generation means the grant was renewed, released or replaced since the
// timer was armed, and is ignored.
func (f *floorState) expire(gen uint64) (ConnectionID, bool) {
	if !f.held() || f.gen != gen {
		return "", false
	}
	ousted := f.holder
	f.holder = ""
	return ousted, true
}

// drop removes id from floor state entirely (member left or disconnected).
// wasHolder reports whether the floor was vacated by the drop.
func (f *floorState) drop(id ConnectionID) (wasHolder bool) {
	f.removePending(id)
	if f.holder == id {
		f.holder = ""
		return true
	}
	return false
}

// next pops and grants the oldest pending request, if any. The caller emits
// the grant event and arms the max-hold timer.
func (f *floorState) next(now time.Time) (ConnectionID, uint64, bool) {
	if f.held() || len(f.pending) == 0 {
		return "", 0, false
	}
	id := f.pending[0]
	f.pending = f.pending[1:]
	f.grantTo(id, now)
	return id, f.gen, true
}

func (f *floorState) grantTo(id ConnectionID, now time.Time) {
	f.holder = id
	f.acquiredAt = now
	f.gen++
}

func (f *floorState) isPending(id ConnectionID) bool {
	for _, p := range f.pending {
		if p == id {
			return true
		}
	}
	return false
}

func (f *floorState) removePending(id ConnectionID) {
	for i, p := range f.pending {
		if p == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return
		}
	}
}
