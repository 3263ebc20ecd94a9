package domain

import "errors"

const MaxChannelIDLen = 64

var (
	ErrChannelIDEmpty   = errors.New("channel id empty")
	ErrChannelIDTooLong = errors.New("channel id too long")
)

// ChannelID names a channel as known to the membership directory.
// The live session state for a channel is a core.Room.
type ChannelID string

func ParseChannelID(raw string) (ChannelID, error) {
	if len(raw) == 0 {
		return "", ErrChannelIDEmpty
	}
	if len(raw) > MaxChannelIDLen {
		return "", ErrChannelIDTooLong
	}
	return ChannelID(raw), nil
}
