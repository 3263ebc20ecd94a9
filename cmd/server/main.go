package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/talkio/pttd/internal/adapters/http"
	wssignal "github.com/talkio/pttd/internal/adapters/signal"
	"github.com/talkio/pttd/internal/app"
	"github.com/talkio/pttd/internal/auth"
	"github.com/talkio/pttd/internal/config"
	"github.com/talkio/pttd/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("secret must be configured")
	}

	clock := core.RealClock()
	identity := auth.NewJWTIdentity(cfg.Secret)
	directory := auth.NewStaticDirectory(cfg.Channels)
	registry := app.NewRegistry(clock)
	rooms := app.NewRoomManager(registry, directory, clock, app.RoomManagerConfig{
		Floor: core.FloorConfig{
			MaxHold:    cfg.MaxHold,
			QueueCap:   cfg.PendingQueueCap,
			Preemption: cfg.Preemption,
		},
		DirectoryTimeout: cfg.DirectoryTimeout,
	})
	lifecycle := app.NewLifecycle(registry, rooms, clock, cfg.HeartbeatTimeout, cfg.SweepInterval)
	go lifecycle.Run(ctx)

	ctrl := wssignal.NewController(identity, registry, rooms, lifecycle, cfg)
	r := router.SetupRouter(ctx, cfg, identity, rooms, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("PTT session server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
