package core

import "errors"

var (
	// ErrAuth rejects an invalid or expired credential. The connection is
	// refused, never retried server-side.
	ErrAuth = errors.New("authentication failed")

	// ErrUnauthorized rejects a join by a principal that is not a member of
	// the channel. The client may retry after its membership changes.
	ErrUnauthorized = errors.New("not a member of channel")

	// ErrNotFound marks operations against an unknown room or connection.
	// Callers treat it as a stale-cancellation no-op, not a fault.
	ErrNotFound = errors.New("not found")

	// ErrNotHolder rejects a transmit or release from a connection that does
	// not hold the floor.
	ErrNotHolder = errors.New("not floor holder")

	// ErrRoomClosed is returned by a room that was emptied and detached from
	// the manager. A join that hits it recreates the room and retries.
	ErrRoomClosed = errors.New("room closed")

	// ErrBackpressure is returned by a transport whose send buffer is full.
	ErrBackpressure = errors.New("backpressure")
)
