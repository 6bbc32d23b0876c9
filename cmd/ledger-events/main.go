package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"gameledger/internal/amqp"
	"gameledger/internal/cli"
	"gameledger/internal/log"
	"gameledger/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ledger-events:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	if !cfg.AMQPEnabled() {
		return errors.New("AMQP_URL is required")
	}

	logger, err := cli.SetupLogger(cfg.LogLevel, log.ComponentWorker)
	if err != nil {
		return err
	}
	logger.Info("Starting ledger-events", log.FieldOperation, log.OpStartup)

	client, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		return err
	}
	defer client.Close()

	w := worker.NewEventWorker(logger)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Consume(gctx, func(e *amqp.LedgerEvent) error {
			return w.HandleEvent(gctx, e)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	w.LogSummary(context.Background())
	if err != nil {
		logger.Error("Message consumption failed", log.FieldError, err)
		return err
	}
	logger.Info("ledger-events stopped")
	return nil
}
