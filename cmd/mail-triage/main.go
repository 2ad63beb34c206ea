package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail-triage/internal/adapters/httpapi"
	"github.com/mikey/mail-triage/internal/adapters/mailsource"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/di"
	"github.com/mikey/mail-triage/internal/factory"
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
	cfg *config.Config,
	logger *zap.Logger,
	server *httpapi.Server,
	ingest *mailsource.SMTPIngest,
	remote core.BatchClassifier,
	stores *factory.Stores,
) error {
	defer logger.Sync()

	if ingest != nil {
		if err := ingest.Start(); err != nil {
			logger.Fatal("Failed to start SMTP ingest", zap.Error(err))
			return err
		}
	}

	// Serve HTTP in the foreground; shutdown signals unwind through errCh
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg.GetString("server.listen_address"))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down...", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("HTTP server stopped", zap.Error(err))
	}

	if ingest != nil {
		if err := ingest.Stop(); err != nil {
			logger.Error("Failed to stop SMTP ingest", zap.Error(err))
		}
	}

	// Close any resources that need closing
	if closer, ok := remote.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}
	if err := stores.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
