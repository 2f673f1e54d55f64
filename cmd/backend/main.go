package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/signstream/internal/backend"
	"github.com/skypro1111/signstream/internal/config"
	"github.com/skypro1111/signstream/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	translator := backend.NewStaticTranslator(cfg.Backend.Clips, cfg.Backend.ClipsPerChunk)
	srv := backend.New(translator, logger, backend.Config{
		Path:   cfg.Backend.Path,
		Legacy: cfg.Backend.Legacy,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Backend.GetListenAddress())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("Backend server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Error stopping backend", slog.String("error", err.Error()))
	}

	stats := srv.GetStats()
	logger.Info("Backend stopped",
		slog.Uint64("received", stats.Received),
		slog.Uint64("rejected", stats.Rejected),
		slog.Uint64("failed", stats.Failed),
	)
}
