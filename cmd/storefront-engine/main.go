// Command storefront-engine serves the Cinemarwa payment lifecycle and
// access API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/pkg/storefront"
)

func main() {
	configPath := flag.String("config", os.Getenv("CINEMARWA_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("env.load_failed")
	}

	cfg, err := storefront.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config.load_failed")
	}

	app, err := storefront.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app.init_failed")
	}
	logger := app.Logger
	srv := app.NewServer()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("server.starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("server.shutting_down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server.failed")
		}
	}

	// Drains the server, then closes flows, sessions and stores.
	if err := app.Close(); err != nil {
		logger.Error().Err(err).Msg("server.shutdown_failed")
		os.Exit(1)
	}
	logger.Info().Msg("server.stopped")
}
