package signal

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/talkio/pttd/internal/app"
	"github.com/talkio/pttd/internal/auth"
	"github.com/talkio/pttd/internal/config"
	"github.com/talkio/pttd/internal/core"
)

// Controller terminates signaling websockets: in-band authentication, then
// join/leave/floor/audio dispatch into the session layer.
type Controller struct {
	Identity  auth.Identity
	Registry  *app.Registry
	Rooms     *app.RoomManager
	Lifecycle *app.Lifecycle
	Cfg       *config.Config

	limiter *FloorRateLimiter
}

func NewController(identity auth.Identity, registry *app.Registry, rooms *app.RoomManager, lifecycle *app.Lifecycle, cfg *config.Config) *Controller {
	return &Controller{
		Identity:  identity,
		Registry:  registry,
		Rooms:     rooms,
		Lifecycle: lifecycle,
		Cfg:       cfg,
		limiter:   NewFloorRateLimiter(cfg.FloorRateLimit, cfg.FloorRateWindow),
	}
}

// WsConn adapts one gorilla websocket into a core.Transport with a bounded
// send buffer: a peer that cannot keep up gets ErrBackpressure, never a
// blocked room.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrBackpressure
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, runs the auth handshake and hands the
// socket to the read/write pumps. The first inbound message must be
// auth{token} within the configured auth timeout; everything before a
// successful handshake stays outside the registry.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &WsConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}

	principal, err := ctl.handshake(ctx, ws)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("auth handshake rejected")
		ctl.writeDirect(ws, errorEnvelope("auth_failed", err.Error()))
		_ = ws.Close()
		return
	}

	rec := ctl.Registry.Register(conn, principal)
	log.Info().Str("module", "signal").Str("conn", string(rec.ID)).
		Str("user", string(principal.UserID)).Msg("connection authenticated")

	ctl.sendJSON(conn, struct {
		Type         string            `json:"type"`
		ConnectionID core.ConnectionID `json:"connection_id"`
	}{"auth.ok", rec.ID})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, rec.ID, conn)
		// Abrupt close and clean close end up in the same teardown path.
		ctl.limiter.Forget(rec.ID)
		ctl.Lifecycle.Disconnect(rec.ID)
	}()
}
