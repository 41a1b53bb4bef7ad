package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"github.com/mithileshchellappan/pushrelay/internal/config"
	"github.com/mithileshchellappan/pushrelay/internal/logging"
	"github.com/mithileshchellappan/pushrelay/internal/provider"
	"github.com/mithileshchellappan/pushrelay/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With().Str("service", cfg.ServiceName).Logger()

	// Firebase clients are built on the first request that needs them.
	relays := provider.FromConfig(cfg, log)

	httpServer := server.New(relays, server.Options{
		APIKey:      cfg.APIKey,
		ServiceName: cfg.ServiceName,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := net.JoinHostPort("", cfg.ServerPort)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("could not start server")
		}
	}()
	log.Info().
		Str("store", cfg.StoreDriver).
		Str("gateway", cfg.GatewayDriver).
		Msg("push relay listening on port " + cfg.ServerPort)
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, stopping app")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := relays.Close(); err != nil {
		log.Error().Err(err).Msg("error closing backends")
	}

	log.Info().Msg("server exiting")
}
