package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

const defaultReadSize = 4096

// PipeDevice grants streams backed by a byte source carrying encoded audio,
// such as the stdout of `ffmpeg -f pulse -i default -c:a libopus -f webm -`.
// The granted stream carries one audio track reading the source and one video
// track that ends when the source is exhausted, which is how an external
// "stop sharing" reaches the session.
type PipeDevice struct {
	source   string
	readSize int
	open     func() (io.ReadCloser, error)
	logger   *slog.Logger
}

// NewPipeDevice creates a device reading from source: "-" for stdin, or a
// file/FIFO path. An empty source grants video only, like a share without
// the audio checkbox ticked.
func NewPipeDevice(source string, readSize int, logger *slog.Logger) *PipeDevice {
	d := &PipeDevice{
		source:   source,
		readSize: readSize,
		logger:   logger,
	}
	if d.readSize <= 0 {
		d.readSize = defaultReadSize
	}

	switch source {
	case "":
		d.open = nil
	case "-":
		stdin := newSharedSource(os.Stdin, d.readSize)
		d.open = func() (io.ReadCloser, error) { return stdin.Open(), nil }
	default:
		d.open = func() (io.ReadCloser, error) { return os.Open(source) }
	}

	return d
}

// NewReaderDevice creates a device around an arbitrary source opener
func NewReaderDevice(open func() (io.ReadCloser, error), readSize int, logger *slog.Logger) *PipeDevice {
	d := NewPipeDevice("custom", readSize, logger)
	d.open = open
	return d
}

// RequestMedia opens the source and returns the granted stream
func (d *PipeDevice) RequestMedia(ctx context.Context, constraints Constraints) (MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	video := NewVideoTrack()
	stream := &StaticStream{}
	if constraints.Video {
		stream.Video = []Track{video}
	}

	if d.open == nil || !constraints.Audio {
		d.logger.Warn("Capture source grants no audio",
			slog.String("source", d.source),
		)
		return stream, nil
	}

	rc, err := d.open()
	if err != nil {
		video.Stop()
		return nil, fmt.Errorf("%w: open %s: %v", ErrAccessDenied, d.source, err)
	}

	track := newPipeAudioTrack(rc, d.readSize, func(err error) {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
			d.logger.Warn("Capture source read failed",
				slog.String("source", d.source),
				slog.String("error", err.Error()),
			)
		}
		// Source gone: the share ended outside our control
		video.End()
	})
	stream.Audio = []AudioTrack{track}

	d.logger.Info("Capture source opened",
		slog.String("source", d.source),
		slog.Int("read_size", d.readSize),
	)

	return stream, nil
}

// pipeAudioTrack reads recorder output from an io.ReadCloser
type pipeAudioTrack struct {
	*BasicTrack
	rc       io.ReadCloser
	frames   chan []byte
	readSize int
	onDone   func(error)

	closeOnce sync.Once
}

func newPipeAudioTrack(rc io.ReadCloser, readSize int, onDone func(error)) *pipeAudioTrack {
	t := &pipeAudioTrack{
		BasicTrack: newBasicTrack(KindAudio),
		rc:         rc,
		frames:     make(chan []byte, 16),
		readSize:   readSize,
		onDone:     onDone,
	}
	go t.readLoop()
	return t
}

func (t *pipeAudioTrack) readLoop() {
	defer close(t.frames)

	buf := make([]byte, t.readSize)
	for {
		n, err := t.rc.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			select {
			case t.frames <- frame:
			case <-t.ended:
				return
			}
		}
		if err != nil {
			select {
			case <-t.ended:
				// Stopped by us; not an external end
			default:
				t.End()
				t.onDone(err)
			}
			return
		}
	}
}

// Stop releases the track and closes the source
func (t *pipeAudioTrack) Stop() {
	t.BasicTrack.Stop()
	t.closeOnce.Do(func() { _ = t.rc.Close() })
}

// Frames returns the recorder output read from the source
func (t *pipeAudioTrack) Frames() <-chan []byte {
	return t.frames
}

// sharedSource reads a source that cannot be reopened, such as stdin, from a
// single goroutine for the life of the process. Each recording gets its own
// reader over it; closing that reader unblocks it without consuming data.
type sharedSource struct {
	r        io.Reader
	readSize int
	frames   chan []byte
	err      error // Set before frames is closed
	once     sync.Once
}

func newSharedSource(r io.Reader, readSize int) *sharedSource {
	if readSize <= 0 {
		readSize = defaultReadSize
	}
	return &sharedSource{
		r:        r,
		readSize: readSize,
		frames:   make(chan []byte),
	}
}

// Open returns a reader positioned at the next unread data
func (s *sharedSource) Open() io.ReadCloser {
	s.once.Do(func() { go s.readLoop() })
	return &sharedReader{source: s, done: make(chan struct{})}
}

func (s *sharedSource) readLoop() {
	buf := make([]byte, s.readSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			s.frames <- frame
		}
		if err != nil {
			s.err = err
			close(s.frames)
			return
		}
	}
}

type sharedReader struct {
	source    *sharedSource
	pending   []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (r *sharedReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		select {
		case <-r.done:
			return 0, os.ErrClosed
		default:
		}

		select {
		case <-r.done:
			return 0, os.ErrClosed
		case frame, ok := <-r.source.frames:
			if !ok {
				return 0, r.source.err
			}
			r.pending = frame
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Close releases the reader; the shared source keeps its unread data
func (r *sharedReader) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
