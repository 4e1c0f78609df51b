package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/app"
	"github.com/markdave123-py/contexta-kb/internal/config"
)

func main() {
	cfg := config.LoadConfig()
	app.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	log.Info().Msg("contexta is running; database connected and migrated")
	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		application.Close()
		os.Exit(1)
	}
	log.Info().Msg("shut down cleanly")
}
