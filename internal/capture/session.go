package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/signstream/internal/audio"
)

// DefaultChunkInterval is the recorder timeslice between chunk emissions
const DefaultChunkInterval = 1000 * time.Millisecond

var (
	ErrAccessDenied     = errors.New("capture access denied")
	ErrNoAudioTrack     = errors.New("granted stream has no audio track")
	ErrAlreadyRecording = errors.New("capture session already active")
	ErrStartCanceled    = errors.New("capture start canceled by stop request")
)

// ErrorKind returns the metric label for a capture lifecycle error
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNoAudioTrack):
		return "no_audio_track"
	case errors.Is(err, ErrAlreadyRecording):
		return "already_recording"
	case errors.Is(err, ErrStartCanceled):
		return "start_canceled"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	default:
		return "unknown"
	}
}

// State represents the recording lifecycle state
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StopReason explains why a recording ended
type StopReason string

const (
	StopRequested  StopReason = "requested"
	StopTrackEnded StopReason = "track_ended"
)

// Sink receives the session's events.
// OnRecording is called with the session lock held and must not call back
// into the Session. OnChunk and OnStopped are called without it; the session
// stays Stopping until OnStopped returns.
type Sink interface {
	OnRecording(startedAt time.Time)
	OnChunk(chunk *audio.AudioChunk)
	OnStopped(reason StopReason)
}

// Config contains capture session configuration
type Config struct {
	ChunkInterval  time.Duration
	MimeType       string
	BufferCapacity int
}

// Session owns the granted media stream and the chunk emission ticker.
// At most one recording is active per Session.
type Session struct {
	device Device
	sink   Sink
	logger *slog.Logger
	config Config

	encoder *audio.Encoder
	buffer  *audio.Buffer

	state          State
	stream         MediaStream // Everything the device granted
	recording      MediaStream // Audio-only stream fed to the recorder
	cancelRequest  context.CancelFunc
	abortRequested bool
	stopCh         chan struct{}
	startedAt      time.Time

	// Statistics
	sessionsStarted uint64
	chunksEmitted   uint64
	startFailures   uint64

	wg sync.WaitGroup
	mu sync.Mutex
}

// SessionStats represents capture statistics
type SessionStats struct {
	State           string        `json:"state"`
	SessionsStarted uint64        `json:"sessions_started"`
	StartFailures   uint64        `json:"start_failures"`
	ChunksEmitted   uint64        `json:"chunks_emitted"`
	NextSequence    uint64        `json:"next_sequence"`
	PendingBytes    int           `json:"pending_bytes"`
	BytesRecorded   uint64        `json:"bytes_recorded"`
	Recording       time.Duration `json:"recording_duration"`
}

// NewSession creates a capture session bound to device and sink
func NewSession(device Device, sink Sink, logger *slog.Logger, config Config) *Session {
	if config.ChunkInterval <= 0 {
		config.ChunkInterval = DefaultChunkInterval
	}
	if config.MimeType == "" {
		config.MimeType = audio.MimeType
	}
	if config.BufferCapacity <= 0 {
		config.BufferCapacity = 64 * 1024
	}

	return &Session{
		device:  device,
		sink:    sink,
		logger:  logger,
		config:  config,
		encoder: audio.NewEncoder(config.MimeType),
		buffer:  audio.NewBuffer(config.BufferCapacity),
		state:   StateIdle,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start requests media access and begins recording.
// It returns once the session is Recording or back in Idle with an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}

	s.state = StateRequesting
	s.encoder.Reset()
	s.buffer.Discard()
	s.abortRequested = false

	reqCtx, cancel := context.WithCancel(ctx)
	s.cancelRequest = cancel
	s.mu.Unlock()

	s.logger.Debug("Requesting capture media")

	// The platform only grants tab audio alongside video
	stream, err := s.device.RequestMedia(reqCtx, Constraints{Video: true, Audio: true})
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelRequest = nil
	aborted := s.abortRequested
	s.abortRequested = false

	if err != nil {
		releaseAll(stream)
		s.state = StateIdle
		s.startFailures++
		if aborted {
			return ErrStartCanceled
		}
		if errors.Is(err, ErrAccessDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	if aborted {
		releaseAll(stream)
		s.state = StateIdle
		s.startFailures++
		return ErrStartCanceled
	}

	if stream == nil || len(stream.AudioTracks()) == 0 {
		releaseAll(stream)
		s.state = StateIdle
		s.startFailures++
		return ErrNoAudioTrack
	}

	audioTrack := stream.AudioTracks()[0]

	s.stream = stream
	s.recording = NewAudioOnlyStream(audioTrack)
	s.stopCh = make(chan struct{})
	s.startedAt = time.Now()
	s.state = StateRecording
	s.sessionsStarted++

	s.sink.OnRecording(s.startedAt)

	s.wg.Add(2)
	go s.recorderPump(s.recording.AudioTracks()[0], s.stopCh)
	go s.emissionLoop(s.stopCh)

	if videoTracks := stream.VideoTracks(); len(videoTracks) > 0 {
		go s.watchTrack(videoTracks[0], s.stopCh)
	}

	s.logger.Info("Capture recording started",
		slog.String("audio_track", audioTrack.ID()),
		slog.Int("video_tracks", len(stream.VideoTracks())),
		slog.Duration("chunk_interval", s.config.ChunkInterval),
		slog.String("mime_type", s.config.MimeType),
	)

	return nil
}

// Stop ends the current recording, or aborts a pending media request.
// It reports whether anything was stopped.
func (s *Session) Stop() bool {
	return s.stop(StopRequested)
}

func (s *Session) stop(reason StopReason) bool {
	s.mu.Lock()
	switch s.state {
	case StateRequesting:
		s.abortRequested = true
		if s.cancelRequest != nil {
			s.cancelRequest()
		}
		s.mu.Unlock()
		return true
	case StateRecording:
	default:
		s.mu.Unlock()
		return false
	}

	s.state = StateStopping
	close(s.stopCh)
	stream := s.stream
	startedAt := s.startedAt
	s.mu.Unlock()

	s.wg.Wait()

	// Finalize: whatever the recorder still holds becomes the last chunk
	s.emit()

	releaseAll(stream)

	s.mu.Lock()
	chunks := s.chunksEmitted
	s.mu.Unlock()

	s.logger.Info("Capture recording stopped",
		slog.String("reason", string(reason)),
		slog.Duration("duration", time.Since(startedAt)),
		slog.Uint64("chunks_emitted", chunks),
	)

	// Still Stopping here, so a Start racing this stop is rejected until the
	// sink has closed the recording
	s.sink.OnStopped(reason)

	s.mu.Lock()
	s.state = StateIdle
	s.stream = nil
	s.recording = nil
	s.mu.Unlock()

	return true
}

// recorderPump accumulates recorder output until the track ends or the session stops
func (s *Session) recorderPump(track AudioTrack, stopCh <-chan struct{}) {
	defer s.wg.Done()

	frames := track.Frames()
	for {
		select {
		case <-stopCh:
			s.drainFrames(frames)
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.buffer.Append(frame)
		}
	}
}

// drainFrames appends the frames already delivered by the track
func (s *Session) drainFrames(frames <-chan []byte) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.buffer.Append(frame)
		default:
			return
		}
	}
}

// emissionLoop slices the buffered recording into one chunk per interval
func (s *Session) emissionLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.emit()
		}
	}
}

// emit hands the buffered data to the sink as one chunk, if there is any
func (s *Session) emit() {
	data := s.buffer.Drain()
	if len(data) == 0 {
		return
	}

	chunk, err := s.encoder.Encode(data)
	if err != nil {
		s.logger.Warn("Failed to encode chunk", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.chunksEmitted++
	s.mu.Unlock()

	s.logger.Debug("Audio chunk emitted",
		slog.Uint64("sequence", chunk.Sequence),
		slog.Int("size", chunk.Size()),
	)

	s.sink.OnChunk(chunk)
}

// watchTrack stops the session when the track is ended from outside
func (s *Session) watchTrack(track Track, stopCh <-chan struct{}) {
	select {
	case <-stopCh:
	case <-track.Ended():
		s.logger.Info("Capture track ended externally",
			slog.String("track", track.ID()),
			slog.String("kind", string(track.Kind())),
		)
		s.stop(StopTrackEnded)
	}
}

// GetStats returns current capture statistics
func (s *Session) GetStats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recording time.Duration
	if s.state == StateRecording {
		recording = time.Since(s.startedAt)
	}

	bufStats := s.buffer.GetStats()

	return SessionStats{
		State:           s.state.String(),
		SessionsStarted: s.sessionsStarted,
		StartFailures:   s.startFailures,
		ChunksEmitted:   s.chunksEmitted,
		NextSequence:    s.encoder.NextSequence(),
		PendingBytes:    bufStats.PendingBytes,
		BytesRecorded:   bufStats.TotalBytes,
		Recording:       recording,
	}
}
