package core

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkio/pttd/internal/domain"
)

type fakeTransport struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (t *fakeTransport) TrySend(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return ErrBackpressure
	}
	var ev Event
	if err := json.Unmarshal(f, &ev); err != nil {
		return err
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *fakeTransport) Close() {}

func (t *fakeTransport) all() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

func (t *fakeTransport) types() []EventType {
	var out []EventType
	for _, ev := range t.all() {
		out = append(out, ev.Type)
	}
	return out
}

type roomFixture struct {
	room  *Room
	clock *ManualClock
	stale []ConnectionID
}

func newRoomFixture(t *testing.T, cfg FloorConfig) *roomFixture {
	t.Helper()
	f := &roomFixture{clock: NewManualClock(time.Unix(1000, 0))}
	f.room = NewRoom("dispatch", cfg, f.clock, func(id ConnectionID) {
		f.stale = append(f.stale, id)
	})
	return f
}

func (f *roomFixture) join(t *testing.T, id ConnectionID) *fakeTransport {
	t.Helper()
	tr := &fakeTransport{}
	_, joined, err := f.room.Join(&Member{
		ID:        id,
		Principal: domain.Principal{UserID: domain.UserID("u-" + id), OrgID: "acme"},
		Transport: tr,
	})
	require.NoError(t, err)
	require.True(t, joined)
	return tr
}

func TestRoomJoinIdempotent(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	tr := &fakeTransport{}
	m := &Member{ID: "a", Principal: domain.Principal{UserID: "u-a"}, Transport: tr}

	view, joined, err := f.room.Join(m)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Len(t, view.Members, 1)

	view, joined, err = f.room.Join(m)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Len(t, view.Members, 1)

	// No duplicate member.joined on the wire.
	assert.Equal(t, []EventType{EventMemberJoined}, tr.types())
}

func TestRoomViewKeepsJoinOrder(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	f.join(t, "a")
	f.join(t, "b")
	f.join(t, "c")

	view, ok := f.room.Snapshot()
	require.True(t, ok)
	assert.Equal(t, []ConnectionID{"a", "b", "c"},
		[]ConnectionID{view.Members[0].ID, view.Members[1].ID, view.Members[2].ID})
}

func TestRoomSequenceGapFree(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	trA := f.join(t, "a")
	f.join(t, "b")
	f.join(t, "c")

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.Relay("a", []byte("frame-1")))
	require.NoError(t, f.room.Relay("a", []byte("frame-2")))
	require.NoError(t, f.room.ReleaseFloor("a"))
	f.room.Leave("c", CauseManual)

	// A continuously-joined member observes strictly increasing, gap-free
	// sequence numbers across everything broadcast since its join.
	events := trA.all()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq,
			"gap between %s and %s", events[i-1].Type, events[i].Type)
	}
}

func TestRoomFloorFCFSWithThreeRequesters(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	f.join(t, "a")
	trB := f.join(t, "b")
	trC := f.join(t, "c")
	trD := f.join(t, "d")

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.RequestFloor("b"))
	require.NoError(t, f.room.RequestFloor("c"))
	require.NoError(t, f.room.RequestFloor("d"))

	// Contested requests are denied and queued.
	for _, tr := range []*fakeTransport{trB, trC} {
		events := tr.all()
		last := events[len(events)-1]
		assert.Equal(t, EventFloorDenied, last.Type)
		assert.Equal(t, DenyHeld, last.Reason)
	}

	// Releases grant in arrival order: b, then c, then d.
	require.NoError(t, f.room.ReleaseFloor("a"))
	require.NoError(t, f.room.ReleaseFloor("b"))
	require.NoError(t, f.room.ReleaseFloor("c"))

	var grants []ConnectionID
	for _, ev := range trD.all() {
		if ev.Type == EventFloorGranted {
			grants = append(grants, ev.From)
		}
	}
	assert.Equal(t, []ConnectionID{"a", "b", "c", "d"}, grants)
}

func TestRoomFloorExclusive(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	trA := f.join(t, "a")
	f.join(t, "b")

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.RequestFloor("b"))
	require.NoError(t, f.room.ReleaseFloor("a"))
	require.NoError(t, f.room.ReleaseFloor("b"))

	// At most one grant outstanding: grants and releases alternate.
	outstanding := 0
	for _, ev := range trA.all() {
		switch ev.Type {
		case EventFloorGranted:
			outstanding++
			require.Equal(t, 1, outstanding, "second grant without release")
		case EventFloorReleased:
			outstanding--
			require.Equal(t, 0, outstanding)
		}
	}
}

func TestRoomRenewIsPrivate(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	trA := f.join(t, "a")
	trB := f.join(t, "b")

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.RequestFloor("a"))

	countGrants := func(tr *fakeTransport) int {
		n := 0
		for _, ev := range tr.all() {
			if ev.Type == EventFloorGranted {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 2, countGrants(trA), "holder gets the re-confirmation")
	assert.Equal(t, 1, countGrants(trB), "others see a single grant")
}

func TestRoomFloorTimeout(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{MaxHold: 10 * time.Second})
	f.join(t, "a")
	trB := f.join(t, "b")

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.RequestFloor("b")) // queued

	f.clock.Advance(11 * time.Second)

	events := trB.all()
	var tail []Event
	for _, ev := range events {
		if ev.Type == EventFloorReleased || ev.Type == EventFloorGranted {
			tail = append(tail, ev)
		}
	}
	require.Len(t, tail, 3)
	assert.Equal(t, EventFloorGranted, tail[0].Type) // a's original grant
	assert.Equal(t, EventFloorReleased, tail[1].Type)
	assert.Equal(t, CauseTimeout, tail[1].Cause)
	assert.Equal(t, ConnectionID("a"), tail[1].From)
	assert.Equal(t, EventFloorGranted, tail[2].Type)
	assert.Equal(t, ConnectionID("b"), tail[2].From)
}

func TestRoomRenewDefersTimeout(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{MaxHold: 10 * time.Second})
	trA := f.join(t, "a")

	require.NoError(t, f.room.RequestFloor("a"))
	f.clock.Advance(6 * time.Second)
	require.NoError(t, f.room.RequestFloor("a")) // keep-alive renewal
	f.clock.Advance(6 * time.Second)

	for _, ev := range trA.all() {
		require.NotEqual(t, EventFloorReleased, ev.Type, "renewed hold must not expire early")
	}

	f.clock.Advance(5 * time.Second)
	events := trA.all()
	last := events[len(events)-1]
	assert.Equal(t, EventFloorReleased, last.Type)
	assert.Equal(t, CauseTimeout, last.Cause)
}

func TestRoomDisconnectingHolderOrdering(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	f.join(t, "a")
	f.join(t, "b")
	trC := f.join(t, "c")

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.RequestFloor("b")) // queued

	left, empty := f.room.Leave("a", CauseDisconnect)
	require.True(t, left)
	require.False(t, empty)

	var tail []Event
	for _, ev := range trC.all() {
		switch ev.Type {
		case EventFloorReleased, EventMemberLeft, EventFloorGranted:
			tail = append(tail, ev)
		}
	}
	// floor.released(disconnect), member.left, then the pending grant.
	require.GreaterOrEqual(t, len(tail), 3)
	tail = tail[len(tail)-3:]
	assert.Equal(t, EventFloorReleased, tail[0].Type)
	assert.Equal(t, CauseDisconnect, tail[0].Cause)
	assert.Equal(t, ConnectionID("a"), tail[0].From)
	assert.Equal(t, EventMemberLeft, tail[1].Type)
	assert.Equal(t, ConnectionID("a"), tail[1].From)
	assert.Equal(t, EventFloorGranted, tail[2].Type)
	assert.Equal(t, ConnectionID("b"), tail[2].From)
}

func TestRoomCapacityDenial(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{QueueCap: 1})
	f.join(t, "a")
	f.join(t, "b")
	trC := f.join(t, "c")

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.RequestFloor("b"))
	require.NoError(t, f.room.RequestFloor("c"))

	events := trC.all()
	last := events[len(events)-1]
	assert.Equal(t, EventFloorDenied, last.Type)
	assert.Equal(t, DenyCapacity, last.Reason)
}

func TestRoomRelayRequiresFloor(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	f.join(t, "a")
	trB := f.join(t, "b")

	assert.ErrorIs(t, f.room.Relay("a", []byte("x")), ErrNotHolder)

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.Relay("a", []byte("payload")))

	events := trB.all()
	last := events[len(events)-1]
	assert.Equal(t, EventAudioFrame, last.Type)
	assert.Equal(t, ConnectionID("a"), last.From)
	assert.Equal(t, []byte("payload"), last.Data)
}

func TestRoomLastLeaveCloses(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	tr := f.join(t, "a")

	left, empty := f.room.Leave("a", CauseManual)
	assert.True(t, left)
	assert.True(t, empty)

	_, ok := f.room.Snapshot()
	assert.False(t, ok)

	_, _, err := f.room.Join(&Member{ID: "b", Transport: tr})
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestRoomStaleLeaveIsNoop(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	f.join(t, "a")

	left, empty := f.room.Leave("ghost", CauseDisconnect)
	assert.False(t, left)
	assert.False(t, empty)
	assert.Equal(t, 1, f.room.MemberCount())
}

func TestRoomDeadTransportReported(t *testing.T) {
	f := newRoomFixture(t, FloorConfig{})
	f.join(t, "a")
	dead := f.join(t, "b")
	dead.fail = true

	require.NoError(t, f.room.RequestFloor("a"))
	require.NoError(t, f.room.Relay("a", []byte("x")))

	assert.Contains(t, f.stale, ConnectionID("b"))
	// The broadcast itself survived for everyone else.
	assert.Equal(t, 2, f.room.MemberCount())
}
