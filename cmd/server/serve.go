package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/fee-tracker/api"
	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/config"
	"github.com/warp/fee-tracker/documents"
	"github.com/warp/fee-tracker/observability"
	"github.com/warp/fee-tracker/store/sqlite"
)

func serveCmd() *cobra.Command {
	var (
		port   int
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Addr = fmt.Sprintf(":%d", port)
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			return serve(cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	cmd.Flags().StringVar(&dbPath, "db", "fees.db", "SQLite database path")
	return cmd
}

func serve(cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize stores
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	docs, err := documents.New(cfg.DocumentsDir, store, logger.Named("documents"))
	if err != nil {
		return fmt.Errorf("failed to initialize document store: %w", err)
	}

	// Initialize handler
	handler := api.NewHandler(store, docs, logger.Named("api"))
	handler.Metrics = observability.NewMetrics()
	handler.Status = billing.StatusEngine{NeverPaidLookback: cfg.NeverPaidLookback}
	handler.MaxUploadBytes = cfg.MaxUploadBytes

	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
	})

	sweeper := api.NewStatusSweeper(handler)
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Start()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("db", cfg.DBPath),
			zap.String("documents", docs.Root()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		sweeper.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
