package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/inboxpilot/triage/internal/adapters/ingest"
	"github.com/inboxpilot/triage/internal/adapters/storage"
	"github.com/inboxpilot/triage/internal/background"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/inboxpilot/triage/internal/di"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	engine *core.Engine,
	smtpIngest *ingest.SMTPIngest,
	jobs *background.Jobs,
	store *storage.SQLiteStore,
	cacheRepo core.CacheRepository,
) error {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the engine worker pool
	if err := engine.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
		return err
	}

	// Start the SMTP ingest listener
	if err := smtpIngest.Start(); err != nil {
		logger.Fatal("Failed to start SMTP ingest", zap.Error(err))
		return err
	}

	// Start the background learning passes
	if err := jobs.Start(); err != nil {
		logger.Fatal("Failed to start background jobs", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	// Stop accepting new mail first, then drain in-flight work
	if err := smtpIngest.Stop(); err != nil {
		logger.Error("Failed to stop SMTP ingest", zap.Error(err))
	}
	jobs.Stop()
	cancel()
	engine.Stop()

	// Stop the cache sweep if the backend runs one
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
