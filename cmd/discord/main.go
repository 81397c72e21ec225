// cmd/discord/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/keshon/sophia/internal/app"
	"github.com/keshon/sophia/internal/config"
	"github.com/keshon/sophia/internal/discord"
	"github.com/keshon/sophia/internal/httpapi"
	"github.com/keshon/sophia/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireDiscord()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("configuration rejected")
	}
	logger := logging.Setup(cfg.Log)
	logger.Info().Msg("Starting Soph_IA...")

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return discord.StartBot(ctx, cfg.DiscordToken, a.Registry)
	})
	if cfg.HTTPAddr != "" {
		g.Go(func() error {
			handler := httpapi.NewHandler(a.Registry, a.Journal)
			return httpapi.Serve(ctx, cfg.HTTPAddr, httpapi.NewRouter(handler), logging.Component("http"))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("gateway error")
	}
	logger.Info().Msg("Soph_IA exited cleanly")
}
