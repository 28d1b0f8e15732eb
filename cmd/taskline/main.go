package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmorandi/taskline/internal/logger"
	"github.com/lmorandi/taskline/pkg/auth"
	"github.com/lmorandi/taskline/pkg/config"
	"github.com/lmorandi/taskline/pkg/server"
	"github.com/lmorandi/taskline/pkg/tasks"

	wsAdapter "github.com/lmorandi/taskline/pkg/adapter/ws"
)

// healthcheckTimeout bounds the startup probe of the store.
const healthcheckTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	// Load configuration from file, environment, and defaults
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// The flag wins over every other configuration source
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := setupLogging(&cfg.Logging); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	fmt.Println("Taskline - synced task lists over WebSocket")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the backing store
	st, err := config.CreateStore(ctx, &cfg.Store)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Error closing store: %v", err)
		}
	}()
	logger.Info("Store initialized (type: %s)", cfg.Store.Type)

	// Probe the store before taking traffic
	probeCtx, probeCancel := context.WithTimeout(ctx, healthcheckTimeout)
	err = st.Healthcheck(probeCtx)
	probeCancel()
	if err != nil {
		log.Fatalf("Store healthcheck failed: %v", err)
	}
	logger.Debug("Store healthcheck passed")

	// Create the credential verifier
	verifier, err := config.CreateVerifier(&cfg.Auth)
	if err != nil {
		log.Fatalf("Failed to create credential verifier: %v", err)
	}
	logger.Info("Credential verifier: %s", cfg.Auth.Verifier)

	// Assemble the server
	srv := server.New(tasks.NewService(st), auth.NewNegotiator(st, verifier))

	if cfg.Adapters.WebSocket.Enabled {
		if err := srv.AddAdapter(wsAdapter.New(cfg.Adapters.WebSocket)); err != nil {
			log.Fatalf("Failed to register WebSocket adapter: %v", err)
		}
	}

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Adapters.WebSocket.Port)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && err != context.Canceled {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

// setupLogging applies the logging configuration to the process logger.
func setupLogging(cfg *config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)

	switch cfg.Output {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(f)
	}

	return nil
}
