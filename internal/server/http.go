package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/signstream/internal/bridge"
	"github.com/skypro1111/signstream/internal/capture"
	"github.com/skypro1111/signstream/internal/config"
	"github.com/skypro1111/signstream/internal/metrics"
	"github.com/skypro1111/signstream/internal/pipeline"
	"github.com/skypro1111/signstream/internal/transport"
)

// Pipeline is the part of the orchestrator the control server drives
type Pipeline interface {
	Start(ctx context.Context) error
	Stop() bool
	Status() pipeline.Snapshot
	GetStats() pipeline.Stats
}

// Components are the optional collaborators exposed by the server
type Components struct {
	Transport *transport.Client
	Bridge    *bridge.Processor
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil
	Gatherer prometheus.Gatherer
}

// HTTPServer provides HTTP endpoints for control and monitoring
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	pipeline   Pipeline
	components Components
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP control server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, p Pipeline, components Components, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		pipeline:   p,
		components: components,
		metrics:    m,
		startTime:  time.Now(),
	}

	h.server = &http.Server{
		Addr:        cfg.GetListenAddress(),
		Handler:     h.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Capture control
	mux.HandleFunc("/start", h.withMetrics("/start", h.handleStart))
	mux.HandleFunc("/stop", h.withMetrics("/stop", h.handleStop))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	if h.components.Bridge != nil {
		mux.Handle("/bridge", h.withMetrics("/bridge", bridge.NewHandler(h.components.Bridge, h.logger).ServeHTTP))
	}

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	gatherer := h.components.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket bridge take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP control server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP control server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.pipeline.Status()

	components := map[string]interface{}{
		"pipeline": map[string]interface{}{
			"status":    snap.Status,
			"recording": snap.Recording,
			"in_flight": snap.InFlight,
		},
	}
	if h.components.Transport != nil {
		stats := h.components.Transport.GetStats()
		components["transport"] = map[string]interface{}{
			"endpoint":        h.components.Transport.Endpoint(),
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}
	if h.components.Bridge != nil {
		components["bridge"] = h.components.Bridge.GetStats()
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "signstream",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStart implements the /start endpoint
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.pipeline.Start(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, h.pipeline.Status())
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, capture.ErrAlreadyRecording), errors.Is(err, capture.ErrStartCanceled):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, capture.ErrNoAudioTrack):
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]interface{}{
		"error":  err.Error(),
		"kind":   capture.ErrorKind(err),
		"status": h.pipeline.Status(),
	})
}

// handleStop implements the /stop endpoint
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stopped := h.pipeline.Stop()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stopped": stopped,
		"status":  h.pipeline.Status(),
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitizedConfig := map[string]interface{}{
		"capture": map[string]interface{}{
			"source":         h.config.Capture.Source,
			"read_size":      h.config.Capture.ReadSize,
			"auto_start":     h.config.Capture.AutoStart,
			"chunk_interval": capture.DefaultChunkInterval.String(),
		},
		"transport": map[string]interface{}{
			"endpoint":   h.config.Transport.Endpoint,
			"field_name": transport.FieldName,
			"file_name":  transport.FileName,
		},
		"playback": map[string]interface{}{
			"mode":                  h.config.Playback.Mode,
			"command":               h.config.Playback.Command,
			"simulated_duration_ms": h.config.Playback.SimulatedDurationMs,
		},
		"bridge": map[string]interface{}{
			"enabled":    h.config.Bridge.Enabled,
			"remote_url": h.config.Bridge.RemoteURL,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.pipeline.GetStats(),
	}
	if h.components.Transport != nil {
		stats["transport"] = h.components.Transport.GetStats()
	}
	if h.components.Bridge != nil {
		stats["bridge"] = h.components.Bridge.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	endpoints := map[string]interface{}{
		"GET /":        "API documentation",
		"GET /health":  "Service health check",
		"GET /status":  "Current pipeline status",
		"POST /start":  "Start capturing",
		"POST /stop":   "Stop capturing",
		"GET /config":  "Get service configuration",
		"GET /stats":   "Get pipeline statistics",
		"GET /metrics": "Prometheus metrics",
	}
	if h.components.Bridge != nil {
		endpoints["GET /bridge"] = "Websocket processing bridge"
	}

	apiDoc := map[string]interface{}{
		"service":   "signstream",
		"version":   "1.0.0",
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
