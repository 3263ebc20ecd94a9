package core

import "github.com/talkio/pttd/internal/domain"

type EventType string

const (
	EventMemberJoined  EventType = "member.joined"
	EventMemberLeft    EventType = "member.left"
	EventFloorGranted  EventType = "floor.granted"
	EventFloorReleased EventType = "floor.released"
	EventFloorDenied   EventType = "floor.denied"
	EventAudioFrame    EventType = "audio.frame"
)

// ReleaseCause explains why the floor was vacated.
type ReleaseCause string

const (
	CauseManual     ReleaseCause = "manual"
	CauseTimeout    ReleaseCause = "timeout"
	CauseDisconnect ReleaseCause = "disconnect"
	CausePreempted  ReleaseCause = "preempted"
)

// DenyReason explains a floor.denied event.
type DenyReason string

const (
	DenyHeld      DenyReason = "held"
	DenyCapacity  DenyReason = "capacity"
	DenyNotMember DenyReason = "not_member"
)

// Event is an immutable fact fanned out to room members. Seq is assigned by
// the room, atomically with the membership snapshot the event is sent to.
type Event struct {
	Type    EventType        `json:"type"`
	Channel domain.ChannelID `json:"channel"`
	From    ConnectionID     `json:"from,omitempty"`
	Seq     uint64           `json:"seq"`
	Cause   ReleaseCause     `json:"cause,omitempty"`
	Reason  DenyReason       `json:"reason,omitempty"`
	Data    []byte           `json:"data,omitempty"`
}
