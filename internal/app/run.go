package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"iap-reconciler/internal/common/logging"
	"iap-reconciler/internal/config"
	"iap-reconciler/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting IAP reconciler",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
	)

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize application
	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	// Start the expiry sweep
	if err := app.Sweeper.Start(cfg.SweepSchedule); err != nil {
		logging.Error("Failed to schedule expiry sweep", err)
		return err
	}

	// Start pull ingestion when configured
	consumerErr := make(chan error, 1)
	if app.Consumer != nil {
		go func() {
			consumerErr <- app.Consumer.Run(ctx)
		}()
	}

	// Start server
	srv := server.New(app.NewRouter(), cfg.Port, cfg.TLSCert, cfg.TLSKey)
	serverErr := srv.Start()
	logging.Info("Server started", logging.Field{Key: "port", Value: cfg.Port})

	// Wait for interrupt signal or a fatal component failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
		logging.Info("Shutting down server...")
	case err := <-serverErr:
		logging.Error("Server failed", err)
		return err
	case err := <-consumerErr:
		if err != nil {
			logging.Error("Pub/Sub ingestion failed", err)
			return err
		}
	}

	// Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
