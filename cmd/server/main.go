package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danielgsilva/feup-cpd/internal/auth"
	"github.com/danielgsilva/feup-cpd/internal/config"
	clog "github.com/danielgsilva/feup-cpd/internal/log"
	"github.com/danielgsilva/feup-cpd/internal/room"
	"github.com/danielgsilva/feup-cpd/internal/server"
	"github.com/danielgsilva/feup-cpd/internal/session"
	"github.com/danielgsilva/feup-cpd/internal/token"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)

	creds := auth.NewStore(cfg.UsersFile)
	tokens := token.NewService(time.Duration(cfg.TokenTTLHours) * time.Hour)
	sessions := session.NewRegistry()
	rooms := room.NewRegistry(cfg.DefaultRooms...)

	srv := server.New(cfg, creds, tokens, sessions, rooms)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Str("port", cfg.Port).Msg("server start")
	}

	if cfg.HTTPPort != "" {
		r := srv.SetupRouter()
		go func() {
			if err := r.Run(":" + cfg.HTTPPort); err != nil {
				log.Error().Err(err).Msg("http listener")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	srv.Stop()
}
