package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/server"
)

func main() {
	configPath := os.Getenv("CADENZA_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./cadenza.yaml"); err == nil {
			configPath = "./cadenza.yaml"
		}
	}

	if err := config.Load(configPath); err != nil {
		logger.Warn("Failed to load configuration from %s: %v, using defaults", configPath, err)
	} else if configPath != "" {
		logger.Info("✅ Configuration loaded from %s", configPath)
	}

	cfg := config.Get()
	logger.SetLevel(cfg.Logging.Level)

	if err := database.Initialize(); err != nil {
		logger.Error("Failed to initialize database: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload the config file while running
	watcher := config.NewFileWatcher(config.GetConfigManager())
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watcher not started: %v", err)
	}
	defer watcher.Stop()

	srv, err := server.New()
	if err != nil {
		logger.Error("Failed to build server: %v", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown finished with error: %v", err)
	}
	logger.Info("Goodbye")
}
