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
	"github.com/spf13/afero"

	router "keyroom/internal/adapters/http"
	"keyroom/internal/app"
	"keyroom/internal/blob"
	"keyroom/internal/config"
	"keyroom/internal/store"
	"keyroom/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var st store.Store
	switch cfg.Store {
	case "memory":
		st = store.NewMemory()
		log.Info().Msg("using in-memory store")
	default:
		st, err = store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
	}
	defer st.Close()

	blobs := blob.New(afero.NewOsFs(), cfg.UploadDir)
	hub := transport.NewHub()
	presence := app.NewPresence(hub)
	rooms := app.NewRoomRegistry(st, blobs, presence)
	binder := app.NewSessionBinder(st, rooms, hub)
	gate := app.NewFileGate(st, blobs, presence, cfg.MaxFileSize)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Rooms:    rooms,
		Binder:   binder,
		Presence: presence,
		Gate:     gate,
		Hub:      hub,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("keyroom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
