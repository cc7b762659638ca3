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

	router "github.com/devaladey/yct-soup/internal/adapters/http"
	"github.com/devaladey/yct-soup/internal/config"
	"github.com/devaladey/yct-soup/internal/core"
	"github.com/devaladey/yct-soup/internal/media"
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

	engine, err := media.NewEngine(media.Config{
		WorkerBin:                       cfg.Worker.Bin,
		WorkerLogLevel:                  cfg.Worker.LogLevel,
		ListenIP:                        cfg.Rtc.ListenIP,
		AnnouncedIP:                     cfg.Rtc.AnnouncedIP,
		MinPort:                         cfg.Rtc.MinPort,
		MaxPort:                         cfg.Rtc.MaxPort,
		MaxIncomingBitrate:              cfg.Rtc.MaxIncomingBitrate,
		InitialAvailableOutgoingBitrate: cfg.Rtc.InitialAvailableOutgoingBitrate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media engine")
	}
	// A dead worker means room state can no longer be trusted; shut the
	// whole process down instead of limping along.
	engine.OnDied(func() {
		log.Error().Msg("media engine died, shutting down")
		cancel()
	})

	registry := core.NewRegistry(engine)

	r := router.SetupRouter(ctx, cfg, registry)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("conference server started")
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
	// Rooms before engine: routers must close while the worker lives.
	registry.CloseAll()
	engine.Close()
	log.Info().Msg("Server exited gracefully")
}
