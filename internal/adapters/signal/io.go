package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/talkio/pttd/internal/core"
	"github.com/talkio/pttd/internal/domain"
)

const writeWait = 5 * time.Second

// handshake reads the mandatory first message and authenticates it.
func (ctl *Controller) handshake(ctx context.Context, ws *websocket.Conn) (domain.Principal, error) {
	if err := ws.SetReadDeadline(time.Now().Add(ctl.Cfg.AuthTimeout)); err != nil {
		return domain.Principal{}, err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return domain.Principal{}, errors.New("no auth message before deadline")
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return domain.Principal{}, err
	}

	var msg struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "auth" {
		return domain.Principal{}, errors.New("first message must be auth")
	}

	ctx, cancel := context.WithTimeout(ctx, ctl.Cfg.AuthTimeout)
	defer cancel()
	principal, err := ctl.Identity.Authenticate(ctx, msg.Token)
	if err != nil {
		return domain.Principal{}, err
	}
	return principal, nil
}

func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id core.ConnectionID, c *WsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, id, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, id core.ConnectionID, c *WsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload", "malformed message")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, id, c, data)
	case "leave":
		ctl.handleLeave(id, c, data)
	case "floor.request":
		ctl.handleFloorRequest(id, c, data)
	case "floor.release":
		ctl.handleFloorRelease(id, c, data)
	case "audio.frame":
		ctl.handleAudioFrame(id, c, data)
	case "heartbeat":
		ctl.handleHeartbeat(id, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown message type")
		ctl.sendError(c, "unknown_type", "unknown message type "+env.Type)
	}
}

func (ctl *Controller) sendJSON(c *WsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *WsConn, code, msg string) {
	ctl.sendJSON(c, errorEnvelope(code, msg))
}

func errorEnvelope(code, msg string) any {
	return struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}{"error", code, msg}
}

// writeDirect bypasses the send pump for pre-registration failures.
func (ctl *Controller) writeDirect(ws *websocket.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
