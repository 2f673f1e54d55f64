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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/signstream/internal/bridge"
	"github.com/skypro1111/signstream/internal/capture"
	"github.com/skypro1111/signstream/internal/config"
	"github.com/skypro1111/signstream/internal/logging"
	"github.com/skypro1111/signstream/internal/metrics"
	"github.com/skypro1111/signstream/internal/pipeline"
	"github.com/skypro1111/signstream/internal/playback"
	"github.com/skypro1111/signstream/internal/server"
	"github.com/skypro1111/signstream/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "signstream"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("capture_source", cfg.Capture.Source),
		slog.String("endpoint", cfg.Transport.Endpoint),
		slog.String("playback_mode", cfg.Playback.Mode),
		slog.Bool("bridge_enabled", cfg.Bridge.Enabled),
		slog.String("bridge_remote", cfg.Bridge.RemoteURL),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	client, err := transport.NewClient(transport.Config{Endpoint: cfg.Transport.Endpoint})
	if err != nil {
		logger.Error("Failed to create transport client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	// Chunks go through the bridge: in-process by default, or to a remote
	// processing surface when one is configured
	processor := bridge.NewProcessor(client, logger.With(slog.String("component", "bridge")))
	var sender pipeline.Sender = bridge.NewLocal(processor)
	if cfg.Bridge.RemoteURL != "" {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		remote, err := bridge.Dial(dialCtx, cfg.Bridge.RemoteURL, logger)
		dialCancel()
		if err != nil {
			logger.Error("Failed to connect to remote bridge", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer remote.Close()
		sender = remote
	}

	surface, err := newSurface(cfg.Playback, logger)
	if err != nil {
		logger.Error("Failed to create playback surface", slog.String("error", err.Error()))
		os.Exit(1)
	}

	device := capture.NewPipeDevice(cfg.Capture.Source, cfg.Capture.ReadSize, logger)

	host := pipeline.NewHost()
	orchestrator, err := host.Inject(func() (*pipeline.Orchestrator, error) {
		return pipeline.New(sender, device, surface, logger, appMetrics, pipeline.Config{}), nil
	})
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline initialized",
		slog.Duration("chunk_interval", capture.DefaultChunkInterval),
		slog.String("endpoint", client.Endpoint()),
	)

	// Initialize HTTP control server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		components := server.Components{Transport: client}
		if cfg.Bridge.Enabled {
			components.Bridge = processor
		}
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, orchestrator, components, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if cfg.Capture.AutoStart {
		if err := orchestrator.Start(ctx); err != nil {
			logger.Error("Auto start failed", slog.String("error", err.Error()))
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("status", orchestrator.Status().Status),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := orchestrator.Close(shutdownCtx); err != nil {
		logger.Error("Error stopping pipeline", slog.String("error", err.Error()))
	}
	processor.Wait()

	stats := orchestrator.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("chunks_sent", stats.Sent),
		slog.Uint64("results", stats.Results),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("discarded", stats.Discarded),
		slog.Uint64("clips_enqueued", stats.Clips),
	)

	logger.Info("Service stopped")
}

// newSurface creates the playback surface selected by cfg
func newSurface(cfg config.PlaybackConfig, logger *slog.Logger) (playback.Surface, error) {
	if cfg.Mode == "timed" {
		return playback.NewTimedSurface(cfg.GetSimulatedDuration(), logger), nil
	}
	return playback.NewExecSurface(cfg.Command, logger)
}
