package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memoryd HTTP server and ingestion subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// runServe loads configuration, wires the full component graph, subscribes
// the C7 ingestion handlers to the event bus, and serves the C13 pipeline
// over HTTP until the context is cancelled (mirrors
// cmd/contextd/main.go's run()).
func runServe(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	deps, err := buildDependencies(cfg)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	unsubscribe, err := deps.ingestion.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribing ingestion handlers: %w", err)
	}
	defer unsubscribe()

	deps.logger.Info("memoryd starting",
		zap.Int("port", cfg.Server.Port),
		zap.String("vector_store_backend", cfg.VectorStore.Backend),
		zap.Bool("classifier_offline", cfg.Classifier.Offline),
	)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := deps.httpServer.Echo().Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.httpServer.Echo().Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		deps.logger.Info("memoryd shut down cleanly")
		return nil
	}
}
