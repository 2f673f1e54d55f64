package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the signstream pipeline
type Metrics struct {
	// Capture metrics
	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec
	CaptureErrors   *prometheus.CounterVec
	ChunksEmitted   prometheus.Counter
	ChunkSize       prometheus.Histogram

	// Transport metrics
	TransportRequests  prometheus.Counter
	TransportSuccesses prometheus.Counter
	TransportFailures  *prometheus.CounterVec
	TransportDuration  prometheus.Histogram
	TransportInFlight  prometheus.Gauge
	BackendRejections  prometheus.Counter
	ResultsDiscarded   prometheus.Counter

	// Playback metrics
	PlaybackEnqueued  prometheus.Counter
	PlaybackStarted   prometheus.Counter
	PlaybackCompleted prometheus.Counter
	PlaybackFailures  prometheus.Counter
	QueueDepth        prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_sessions_started_total",
			Help: "Total number of capture sessions that reached recording",
		}),
		SessionsStopped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signstream_sessions_stopped_total",
			Help: "Total number of capture sessions stopped, by reason",
		}, []string{"reason"}),
		CaptureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signstream_capture_errors_total",
			Help: "Total number of failed capture start attempts, by kind",
		}, []string{"kind"}),
		ChunksEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_chunks_emitted_total",
			Help: "Total number of audio chunks emitted by capture sessions",
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "signstream_chunk_size_bytes",
			Help:    "Size of emitted audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 12), // 256B to ~512KB
		}),

		// Transport metrics
		TransportRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_transport_requests_total",
			Help: "Total number of chunk sends issued",
		}),
		TransportSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_transport_successes_total",
			Help: "Total number of chunk sends that returned a parsed result",
		}),
		TransportFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signstream_transport_failures_total",
			Help: "Total number of failed chunk sends, by error kind",
		}, []string{"kind"}),
		TransportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "signstream_transport_duration_seconds",
			Help:    "Round trip time of chunk sends",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		TransportInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signstream_transport_in_flight",
			Help: "Current number of outstanding chunk sends",
		}),
		BackendRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_backend_rejections_total",
			Help: "Total number of well-formed results with success=false",
		}),
		ResultsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_results_discarded_total",
			Help: "Total number of results dropped because their session had stopped",
		}),

		// Playback metrics
		PlaybackEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_playback_enqueued_total",
			Help: "Total number of clips enqueued for playback",
		}),
		PlaybackStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_playback_started_total",
			Help: "Total number of clips that began playing",
		}),
		PlaybackCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_playback_completed_total",
			Help: "Total number of clips that finished playing",
		}),
		PlaybackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "signstream_playback_failures_total",
			Help: "Total number of clips skipped because they could not start",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signstream_playback_queue_depth",
			Help: "Current number of clips waiting behind the active one",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signstream_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signstream_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signstream_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the sessions stopped counter for reason
func (m *Metrics) RecordSessionStopped(reason string) {
	m.SessionsStopped.WithLabelValues(reason).Inc()
}

// RecordCaptureError records a failed start attempt
func (m *Metrics) RecordCaptureError(kind string) {
	m.CaptureErrors.WithLabelValues(kind).Inc()
}

// RecordChunkEmitted records an emitted audio chunk
func (m *Metrics) RecordChunkEmitted(sizeBytes int) {
	m.ChunksEmitted.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTransportRequest records a send being issued
func (m *Metrics) RecordTransportRequest() {
	m.TransportRequests.Inc()
	m.TransportInFlight.Inc()
}

// RecordTransportSuccess records a send that produced a parsed result
func (m *Metrics) RecordTransportSuccess(durationSeconds float64) {
	m.TransportInFlight.Dec()
	m.TransportSuccesses.Inc()
	m.TransportDuration.Observe(durationSeconds)
}

// RecordTransportFailure records a failed send
func (m *Metrics) RecordTransportFailure(kind string, durationSeconds float64) {
	m.TransportInFlight.Dec()
	m.TransportFailures.WithLabelValues(kind).Inc()
	m.TransportDuration.Observe(durationSeconds)
}

// RecordBackendRejection records a success=false result
func (m *Metrics) RecordBackendRejection() {
	m.BackendRejections.Inc()
}

// RecordResultDiscarded records a result dropped after its session stopped
func (m *Metrics) RecordResultDiscarded() {
	m.ResultsDiscarded.Inc()
}

// RecordPlaybackEnqueued records clips entering the queue
func (m *Metrics) RecordPlaybackEnqueued(count int) {
	m.PlaybackEnqueued.Add(float64(count))
}

// RecordPlaybackStarted records a clip starting
func (m *Metrics) RecordPlaybackStarted() {
	m.PlaybackStarted.Inc()
}

// RecordPlaybackCompleted records a clip finishing
func (m *Metrics) RecordPlaybackCompleted() {
	m.PlaybackCompleted.Inc()
}

// RecordPlaybackFailure records a clip skipped because it could not start
func (m *Metrics) RecordPlaybackFailure() {
	m.PlaybackFailures.Inc()
}

// SetQueueDepth sets the current queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
