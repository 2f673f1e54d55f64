package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/signstream/internal/audio"
	"github.com/skypro1111/signstream/internal/capture"
	"github.com/skypro1111/signstream/internal/metrics"
	"github.com/skypro1111/signstream/internal/playback"
	"github.com/skypro1111/signstream/internal/transport"
)

// Status strings shown to the user
const (
	StatusReady     = "Ready"
	StatusListening = "Listening…"
	StatusSigning   = "Signing…"
	StatusWaiting   = "Waiting…"
	StatusStopped   = "Stopped"
	StatusError     = "Error"
)

// Sender delivers one chunk to the translation backend.
// *transport.Client and the bridge senders implement it.
type Sender interface {
	Send(ctx context.Context, chunk *audio.AudioChunk) (*transport.TranslationResult, error)
}

// Config contains orchestrator configuration
type Config struct {
	Capture capture.Config
}

// Snapshot is the user-visible pipeline state
type Snapshot struct {
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Recording bool      `json:"recording"`
	InFlight  int       `json:"in_flight"`
	Pending   int       `json:"pending_clips"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats aggregates the component statistics
type Stats struct {
	Capture   capture.SessionStats `json:"capture"`
	Playback  playback.QueueStats  `json:"playback"`
	Sent      uint64               `json:"chunks_sent"`
	Results   uint64               `json:"results"`
	Rejected  uint64               `json:"rejected"`
	Failed    uint64               `json:"failed"`
	Discarded uint64               `json:"discarded"`
	Clips     uint64               `json:"clips_enqueued"`
}

// sendKey identifies an in-flight send across recordings
type sendKey struct {
	generation uint64
	sequence   uint64
}

// Orchestrator wires capture chunks to the sender and results to playback
type Orchestrator struct {
	sender  Sender
	session *capture.Session
	queue   *playback.Queue
	logger  *slog.Logger
	metrics *metrics.Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// Lifecycle, guarded by mu
	generation uint64
	accepting  bool
	sessionID  string
	inFlight   map[sendKey]context.CancelFunc
	sent       uint64
	results    uint64
	rejected   uint64
	failed     uint64
	discarded  uint64
	clips      uint64
	mu         sync.Mutex
	wg         sync.WaitGroup

	// Status, guarded by statusMu; never held while calling other components
	status    string
	lastError string
	updatedAt time.Time
	live      bool
	statusMu  sync.Mutex
}

// New creates an orchestrator owning a capture session on device and a
// playback queue on surface. m may be nil.
func New(sender Sender, device capture.Device, surface playback.Surface, logger *slog.Logger, m *metrics.Metrics, config Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		sender:     sender,
		logger:     logger,
		metrics:    m,
		baseCtx:    ctx,
		baseCancel: cancel,
		inFlight:   make(map[sendKey]context.CancelFunc),
		status:     StatusReady,
		updatedAt:  time.Now(),
	}

	o.queue = playback.NewQueue(surface, logger.With(slog.String("component", "playback")), m, o.onPlaybackState)
	o.session = capture.NewSession(device, o, logger.With(slog.String("component", "capture")), config.Capture)

	return o
}

// Start begins a recording.
// Capture errors set the Error status, except AlreadyRecording which
// leaves the status untouched.
func (o *Orchestrator) Start(ctx context.Context) error {
	err := o.session.Start(ctx)
	if err == nil {
		return nil
	}

	kind := capture.ErrorKind(err)
	if o.metrics != nil {
		o.metrics.RecordCaptureError(kind)
	}

	switch {
	case errors.Is(err, capture.ErrAlreadyRecording):
		o.logger.Warn("Start ignored, already recording")
	case errors.Is(err, capture.ErrStartCanceled):
		o.logger.Info("Start canceled before media was granted")
		o.setStatus(StatusStopped, "", false)
	default:
		o.logger.Error("Failed to start capture",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		o.setStatus(StatusError, err.Error(), false)
	}

	return err
}

// Stop ends the current recording. It reports whether one was active.
func (o *Orchestrator) Stop() bool {
	return o.session.Stop()
}

// Close stops capture, cancels outstanding sends and waits for them
func (o *Orchestrator) Close(ctx context.Context) error {
	o.session.Stop()
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRecording opens a new generation; results from earlier ones are discarded
func (o *Orchestrator) OnRecording(startedAt time.Time) {
	o.mu.Lock()
	o.generation++
	o.accepting = true
	o.sessionID = uuid.NewString()
	sessionID := o.sessionID
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordSessionStarted()
	}

	o.logger.Info("Session started",
		slog.String("session_id", sessionID),
		slog.Time("started_at", startedAt),
	)

	o.setStatus(StatusListening, "", true)
}

// OnChunk sends chunk without waiting for earlier sends to resolve
func (o *Orchestrator) OnChunk(chunk *audio.AudioChunk) {
	if chunk == nil || chunk.Size() == 0 {
		return
	}

	o.mu.Lock()
	key := sendKey{generation: o.generation, sequence: chunk.Sequence}
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.inFlight[key] = cancel
	o.sent++
	o.wg.Add(1)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordChunkEmitted(chunk.Size())
		o.metrics.RecordTransportRequest()
	}

	go o.send(ctx, key, chunk)
}

// OnStopped closes the generation and clears playback
func (o *Orchestrator) OnStopped(reason capture.StopReason) {
	o.mu.Lock()
	o.accepting = false
	o.generation++
	inFlight := len(o.inFlight)
	sessionID := o.sessionID
	o.queue.Clear()
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordSessionStopped(string(reason))
	}

	o.logger.Info("Session stopped",
		slog.String("session_id", sessionID),
		slog.String("reason", string(reason)),
		slog.Int("in_flight", inFlight),
	)

	o.setStatus(StatusStopped, "", false)
}

func (o *Orchestrator) send(ctx context.Context, key sendKey, chunk *audio.AudioChunk) {
	defer o.wg.Done()

	startTime := time.Now()
	result, err := o.sender.Send(ctx, chunk)
	duration := time.Since(startTime)

	if o.metrics != nil {
		if err != nil {
			o.metrics.RecordTransportFailure(errorKindLabel(err), duration.Seconds())
		} else {
			o.metrics.RecordTransportSuccess(duration.Seconds())
		}
	}

	o.mu.Lock()
	if cancel, ok := o.inFlight[key]; ok {
		cancel()
		delete(o.inFlight, key)
	}

	if !o.accepting || key.generation != o.generation {
		o.discarded++
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.RecordResultDiscarded()
		}
		o.logger.Debug("Discarding result of stopped session",
			slog.Uint64("sequence", key.sequence),
		)
		return
	}

	if err != nil {
		o.failed++
		o.mu.Unlock()
		o.logger.Warn("Chunk send failed",
			slog.Uint64("sequence", key.sequence),
			slog.String("kind", errorKindLabel(err)),
			slog.String("error", err.Error()),
		)
		o.setLastError(err.Error())
		return
	}

	o.results++
	if !result.Success {
		o.rejected++
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.RecordBackendRejection()
		}
		o.logger.Warn("Backend could not translate chunk",
			slog.Uint64("sequence", key.sequence),
			slog.String("error", result.Error),
		)
		return
	}

	artifacts := result.Artifacts()
	items := make([]playback.Item, 0, len(artifacts))
	now := time.Now()
	for _, locator := range artifacts {
		items = append(items, playback.Item{
			Locator:    locator,
			Sequence:   key.sequence,
			EnqueuedAt: now,
		})
	}
	o.clips += uint64(len(items))
	// Enqueue under mu so a concurrent stop cannot slip between check and enqueue
	o.queue.Enqueue(items...)
	o.mu.Unlock()

	o.clearLastError()

	o.logger.Debug("Chunk translated",
		slog.Uint64("sequence", key.sequence),
		slog.Int("clips", len(items)),
		slog.Duration("duration", duration),
	)
}

func (o *Orchestrator) onPlaybackState(playing bool) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	if !o.live {
		return
	}
	if playing {
		o.status = StatusSigning
	} else {
		o.status = StatusWaiting
	}
	o.updatedAt = time.Now()
}

func (o *Orchestrator) setStatus(status, lastError string, live bool) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	o.status = status
	o.lastError = lastError
	o.live = live
	o.updatedAt = time.Now()
}

// setLastError surfaces a per-chunk failure next to the status string.
// The status itself keeps describing the session and playback; the error
// lasts until the next translated chunk clears it.
func (o *Orchestrator) setLastError(msg string) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	o.lastError = msg
	o.updatedAt = time.Now()
}

// clearLastError drops a transient error once chunks translate again
func (o *Orchestrator) clearLastError() {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	if !o.live || o.lastError == "" {
		return
	}
	o.lastError = ""
	o.updatedAt = time.Now()
}

// Status returns the current user-visible state
func (o *Orchestrator) Status() Snapshot {
	o.statusMu.Lock()
	snap := Snapshot{
		Status:    o.status,
		LastError: o.lastError,
		UpdatedAt: o.updatedAt,
	}
	o.statusMu.Unlock()

	o.mu.Lock()
	snap.InFlight = len(o.inFlight)
	if o.accepting {
		snap.SessionID = o.sessionID
		snap.Recording = true
	}
	o.mu.Unlock()

	snap.Pending = o.queue.Len()
	return snap
}

// GetStats returns aggregated pipeline statistics
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	stats := Stats{
		Sent:      o.sent,
		Results:   o.results,
		Rejected:  o.rejected,
		Failed:    o.failed,
		Discarded: o.discarded,
		Clips:     o.clips,
	}
	o.mu.Unlock()

	stats.Capture = o.session.GetStats()
	stats.Playback = o.queue.GetStats()
	return stats
}

// Queue exposes the playback queue so surfaces can report completion
func (o *Orchestrator) Queue() *playback.Queue {
	return o.queue
}

func errorKindLabel(err error) string {
	if kind, ok := transport.KindOf(err); ok {
		return kind.String()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "unknown"
}
