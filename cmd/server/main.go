package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/adapters/bus"
	router "github.com/codecollab/collabd/internal/adapters/http"
	"github.com/codecollab/collabd/internal/adapters/store"
	"github.com/codecollab/collabd/internal/adapters/ws"
	"github.com/codecollab/collabd/internal/app"
	"github.com/codecollab/collabd/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	durable, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres unavailable")
	}
	defer durable.Close()
	if err := durable.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	cache, err := store.NewRedisCache(ctx, cfg.RedisAddr, cfg.CacheTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis unavailable")
	}
	defer cache.Close()

	// The instance id tags published envelopes so relays can tell their own
	// events apart from a peer instance's.
	instanceID := uuid.NewString()
	events := bus.NewRedisBus(cache.Client())

	docs := app.NewDocRegistry()
	persister := app.NewPersister(durable, cache)
	lifecycle := app.NewLifecycle(docs, persister, cfg.FlushInterval, cfg.GracePeriod)
	presence := app.NewPresence(lifecycle, events, instanceID)
	chat := app.NewChat(durable, events, instanceID)
	gate := app.NewGate(cfg.JWTSecret, durable)

	if err := events.Subscribe(ctx, presence.Relay); err != nil {
		log.Fatal().Err(err).Msg("room events subscription failed")
	}

	ctl := &ws.Controller{
		Gate:      gate,
		Lifecycle: lifecycle,
		Presence:  presence,
		Chat:      chat,
		Cfg:       cfg,
	}

	r := router.SetupRouter(ctx, cfg, ctl, lifecycle, durable, cache)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("instance", instanceID).Msg("collabd server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Occupied rooms are flushed so an orderly restart loses no edits.
	lifecycle.FlushAll(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
}
