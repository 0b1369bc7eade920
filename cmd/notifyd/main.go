package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/meshmart/notify/internal/config"
	"github.com/meshmart/notify/internal/engine"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	natsURL := flag.String("nats-url", "", "Message broker URL (overrides config)")
	serverAddr := flag.String("addr", "", "HTTP server address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Parse()

	// Optional .env file for local development
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env file")
	}

	cfg, err := config.LoadConfig(*configFile, *natsURL, *serverAddr, *logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	eng, err := engine.CreateEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Caught signal, initiating shutdown")
		cancel()
	}()

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Engine failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}
