// Package cli provides the startup steps shared by cmd/gameledger and
// cmd/ledger-events.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gameledger/internal/amqp"
	"gameledger/internal/config"
	"gameledger/internal/log"
	"gameledger/internal/storage"
)

// LoadAndValidateConfig loads .env and the environment, then validates.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogger builds the process logger at the configured level and makes it
// the slog default.
func SetupLogger(level, component string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := log.New(log.Config{
		Level:     lvl,
		Component: component,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger, nil
}

// OpenStore opens the ledger database named by the config.
func OpenStore(cfg *config.Config, logger *log.Logger) (*storage.Store, error) {
	store, err := storage.Open(cfg.DatabasePath,
		storage.WithEnforcedReferences(cfg.EnforceGameReferences),
		storage.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("Opened ledger database",
		"path", cfg.DatabasePath,
		"enforce_game_references", cfg.EnforceGameReferences)
	return store, nil
}

// ConnectAMQP dials the broker. It returns nil, nil when AMQP is disabled.
func ConnectAMQP(cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	if !cfg.AMQPEnabled() {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("connect AMQP: %w", err)
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
