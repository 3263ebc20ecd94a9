package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/talkio/pttd/internal/adapters/signal"
	"github.com/talkio/pttd/internal/app"
	"github.com/talkio/pttd/internal/auth"
	"github.com/talkio/pttd/internal/config"
	"github.com/talkio/pttd/internal/domain"
)

// BearerAuthMiddleware authenticates REST calls with the same identity
// provider the socket layer uses.
func BearerAuthMiddleware(identity auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		principal, err := identity.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("principal", principal)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, identity auth.Identity, rooms *app.RoomManager, ctrl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Socket auth happens in-band (first message), not via headers.
	r.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api := r.Group("/api", BearerAuthMiddleware(identity))
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": rooms.List()})
	})
	api.GET("/rooms/:channel", func(c *gin.Context) {
		ch, err := domain.ParseChannelID(c.Param("channel"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		view, ok := rooms.Snapshot(ch)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	return r
}
