package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/npezzotti/meeting-relay/internal/api"
	"github.com/npezzotti/meeting-relay/internal/chat"
	"github.com/npezzotti/meeting-relay/internal/config"
	"github.com/npezzotti/meeting-relay/internal/correlator"
	"github.com/npezzotti/meeting-relay/internal/database"
	"github.com/npezzotti/meeting-relay/internal/hub"
	"github.com/npezzotti/meeting-relay/internal/logging"
	"github.com/npezzotti/meeting-relay/internal/provider"
	"github.com/npezzotti/meeting-relay/internal/stats"
	"github.com/rs/zerolog"
)

var (
	configPath string
	envFile    string
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (default $CONFIG_PATH or ./config.yaml)")
	flag.StringVar(&envFile, "env-file", ".env", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("relay exited")
	}
	logger.Info().Msg("shutdown complete")
}

func openStore(cfg config.StoreConfig, logger zerolog.Logger) (database.RecordStore, error) {
	logger = logging.Component(logger, "store")

	switch cfg.Driver {
	case config.StoreDriverBadger:
		return database.OpenBadgerStore(badger.DefaultOptions(cfg.Dir), logger)
	case config.StoreDriverPostgres:
		return database.NewPgRecordStore(cfg.DSN, logger)
	default:
		return database.NewFileStore(cfg.Dir, logger)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("store close")
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	relayHub := hub.NewHub(logging.Component(logger, "hub"), statsUpdater)
	go relayHub.Run(ctx)

	client := provider.NewClient(provider.Config{
		BaseURL: cfg.Attendee.BaseURL,
		APIKey:  cfg.Attendee.APIKey,
		Timeout: cfg.Attendee.Timeout,
	}, logging.Component(logger, "provider"), statsUpdater)

	c, err := correlator.New(correlator.Config{
		WebhookSecret:      cfg.Zoom.WebhookSecret,
		PersistTranscripts: cfg.Correlator.PersistTranscripts,
		RegisterTimeout:    cfg.Attendee.Timeout,
	}, relayHub, store, client, logging.Component(logger, "correlator"), statsUpdater)
	if err != nil {
		return fmt.Errorf("correlator: %w", err)
	}

	chatSvc := chat.NewService(chat.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
	}, logging.Component(logger, "chat"))
	if !chatSvc.Configured() {
		logger.Warn().Msg("OPENAI_API_KEY not set, chat endpoint disabled")
	}

	srv := api.NewRelayApp(mux, logger, relayHub, c, store, chatSvc, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Streams block until their subscriber is closed, so the hub goes first.
	relayHub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return nil
}
