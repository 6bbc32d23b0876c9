package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"gameledger/internal/cli"
	apphttp "gameledger/internal/http"
	"gameledger/internal/ledger"
	"gameledger/internal/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gameledger:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}

	logger, err := cli.SetupLogger(cfg.LogLevel, log.ComponentApp)
	if err != nil {
		return err
	}
	logger.Info("Starting gameledger", log.FieldOperation, log.OpStartup)

	store, err := cli.OpenStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger database", log.FieldError, err, "path", cfg.DatabasePath)
		return err
	}
	defer store.Close()

	opts := []ledger.Option{ledger.WithLogger(logger)}

	// Events are best effort: without a broker the ledger still serves.
	publisher, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		logger.Error("Ledger events disabled", log.FieldError, err)
	} else if publisher != nil {
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
	}

	l := ledger.New(store, opts...)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:           cfg.Addr(),
		PublicDir:      cfg.PublicDir,
		RateLimit:      cfg.RateLimit,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, l, store, logger)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Listening", "addr", srv.Addr, "public_dir", cfg.PublicDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
