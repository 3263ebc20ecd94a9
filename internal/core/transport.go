package core

import "github.com/talkio/pttd/internal/domain"

type ConnectionID string

// Frame is a raw payload already encoded for the wire.
type Frame []byte

// Transport is a member's outbound signaling endpoint.
// Owned by the adapter; the adapter must Close() it.
type Transport interface {
	// TrySend enqueues without blocking and returns ErrBackpressure when the
	// peer cannot keep up.
	TrySend(Frame) error
	Close()
}

// Member pairs a connection with its transport inside a room.
// This is what a room stores and fans out to.
type Member struct {
	ID        ConnectionID
	Principal domain.Principal
	Transport Transport
}

// MemberView is a read-only member entry for APIs (no transport fields).
type MemberView struct {
	ID     ConnectionID  `json:"connection_id"`
	UserID domain.UserID `json:"user_id"`
}

// RoomView is a read-only snapshot of a room, eventually consistent with
// in-flight mutations. Members appear in join order.
type RoomView struct {
	Channel domain.ChannelID `json:"channel"`
	Members []MemberView     `json:"members"`
	Holder  ConnectionID     `json:"floor_holder,omitempty"`
	Seq     uint64           `json:"seq"`
}

// PublishResult reports delivery stats for one fanout pass. Dropped members
// are reported, never fatal for the broadcast as a whole.
type PublishResult struct {
	SentTo  int
	Dropped []ConnectionID
}
