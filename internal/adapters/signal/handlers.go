package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/talkio/pttd/internal/core"
	"github.com/talkio/pttd/internal/domain"
)

type channelPayload struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (ctl *Controller) parseChannel(c *WsConn, data []byte) (domain.ChannelID, bool) {
	var p channelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed payload")
		return "", false
	}
	ch, err := domain.ParseChannelID(p.Channel)
	if err != nil {
		ctl.sendError(c, "bad_channel", err.Error())
		return "", false
	}
	return ch, true
}

func (ctl *Controller) handleJoin(ctx context.Context, id core.ConnectionID, c *WsConn, data []byte) {
	ch, ok := ctl.parseChannel(c, data)
	if !ok {
		return
	}
	view, err := ctl.Rooms.Join(ctx, id, ch)
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		ctl.sendError(c, "unauthorized", "not a member of channel "+string(ch))
		return
	case errors.Is(err, core.ErrNotFound):
		ctl.sendError(c, "unknown_connection", "connection is gone")
		return
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("channel", string(ch)).Msg("join failed")
		ctl.sendError(c, "internal", "join failed")
		return
	}
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
		core.RoomView
	}{"room.state", view})
}

func (ctl *Controller) handleLeave(id core.ConnectionID, c *WsConn, data []byte) {
	ch, ok := ctl.parseChannel(c, data)
	if !ok {
		return
	}
	ctl.Rooms.Leave(id, ch, core.CauseManual)
	ctl.sendJSON(c, channelPayload{Type: "left", Channel: string(ch)})
}

func (ctl *Controller) handleFloorRequest(id core.ConnectionID, c *WsConn, data []byte) {
	ch, ok := ctl.parseChannel(c, data)
	if !ok {
		return
	}
	if !ctl.limiter.Allow(id) {
		ctl.sendError(c, "rate_limited", "too many floor requests")
		return
	}
	if err := ctl.Rooms.RequestFloor(id, ch); err != nil {
		ctl.sendError(c, "not_joined", "not joined to channel "+string(ch))
	}
}

func (ctl *Controller) handleFloorRelease(id core.ConnectionID, c *WsConn, data []byte) {
	ch, ok := ctl.parseChannel(c, data)
	if !ok {
		return
	}
	err := ctl.Rooms.ReleaseFloor(id, ch)
	switch {
	case errors.Is(err, core.ErrNotHolder):
		ctl.sendError(c, "not_holder", "floor not held by this connection")
	case err != nil:
		ctl.sendError(c, "not_joined", "not joined to channel "+string(ch))
	}
}

func (ctl *Controller) handleAudioFrame(id core.ConnectionID, c *WsConn, data []byte) {
	var p struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		Data    []byte `json:"data"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed payload")
		return
	}
	ch, err := domain.ParseChannelID(p.Channel)
	if err != nil {
		ctl.sendError(c, "bad_channel", err.Error())
		return
	}
	err = ctl.Rooms.Relay(id, ch, p.Data)
	switch {
	case errors.Is(err, core.ErrNotHolder):
		ctl.sendError(c, "no_floor", "transmit requires the floor")
	case err != nil:
		ctl.sendError(c, "not_joined", "not joined to channel "+string(ch))
	}
}

func (ctl *Controller) handleHeartbeat(id core.ConnectionID, c *WsConn) {
	ctl.Lifecycle.Heartbeat(id)
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{"heartbeat.ack"})
}
