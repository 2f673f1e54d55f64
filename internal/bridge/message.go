package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/signstream/internal/audio"
	"github.com/skypro1111/signstream/internal/transport"
)

// ActionProcessAudio tags a request to translate one audio chunk
const ActionProcessAudio = "processAudio"

var ErrBridgeClosed = errors.New("bridge closed")

// Message is a request from the capture side to the processing side
type Message struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	AudioData []byte `json:"audioData"`
	Sequence  uint64 `json:"sequence"`
	MimeType  string `json:"mimeType,omitempty"`
}

// Reply answers one Message.
// Success reports whether the request reached the backend and produced a
// result; the result itself may still carry success=false.
type Reply struct {
	ID        string                       `json:"id"`
	Success   bool                         `json:"success"`
	Data      *transport.TranslationResult `json:"data,omitempty"`
	Error     string                       `json:"error,omitempty"`
	ErrorKind string                       `json:"errorKind,omitempty"`
}

// Sender delivers one chunk to the translation backend
type Sender interface {
	Send(ctx context.Context, chunk *audio.AudioChunk) (*transport.TranslationResult, error)
}

// Processor is the processing side of the bridge
type Processor struct {
	sender Sender
	logger *slog.Logger

	handled  uint64
	ignored  uint64
	pending  int
	mu       sync.Mutex
	inflight sync.WaitGroup
}

// ProcessorStats represents processor statistics
type ProcessorStats struct {
	Handled uint64 `json:"handled"`
	Ignored uint64 `json:"ignored"`
	Pending int    `json:"pending"`
}

// NewProcessor creates a processor forwarding chunks to sender
func NewProcessor(sender Sender, logger *slog.Logger) *Processor {
	return &Processor{sender: sender, logger: logger}
}

// Handle accepts msg and reports whether a reply will follow.
// For processAudio it returns true immediately and calls respond exactly once
// when the backend call resolves. Other actions return false and get no reply.
func (p *Processor) Handle(ctx context.Context, msg Message, respond func(Reply)) bool {
	if msg.Action != ActionProcessAudio {
		p.mu.Lock()
		p.ignored++
		p.mu.Unlock()
		p.logger.Debug("Ignoring bridge message", slog.String("action", msg.Action))
		return false
	}

	p.mu.Lock()
	p.handled++
	p.pending++
	p.mu.Unlock()

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		reply := p.process(ctx, msg)

		p.mu.Lock()
		p.pending--
		p.mu.Unlock()

		respond(reply)
	}()

	return true
}

func (p *Processor) process(ctx context.Context, msg Message) Reply {
	mimeType := msg.MimeType
	if mimeType == "" {
		mimeType = audio.MimeType
	}

	chunk := &audio.AudioChunk{
		Sequence:   msg.Sequence,
		MimeType:   mimeType,
		Data:       msg.AudioData,
		CapturedAt: time.Now(),
	}

	result, err := p.sender.Send(ctx, chunk)
	if err != nil {
		reply := Reply{ID: msg.ID, Error: err.Error()}
		if kind, ok := transport.KindOf(err); ok {
			reply.ErrorKind = kind.String()
		}
		p.logger.Warn("Bridge request failed",
			slog.String("id", msg.ID),
			slog.Uint64("sequence", msg.Sequence),
			slog.String("error", err.Error()),
		)
		return reply
	}

	return Reply{ID: msg.ID, Success: true, Data: result}
}

// Wait blocks until every accepted request has been answered
func (p *Processor) Wait() {
	p.inflight.Wait()
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProcessorStats{Handled: p.handled, Ignored: p.ignored, Pending: p.pending}
}

// NewMessage builds a processAudio request for chunk
func NewMessage(chunk *audio.AudioChunk) Message {
	return Message{
		ID:        uuid.NewString(),
		Action:    ActionProcessAudio,
		AudioData: chunk.Data,
		Sequence:  chunk.Sequence,
		MimeType:  chunk.MimeType,
	}
}

// ResultOf converts a reply back into what a direct transport call returns
func ResultOf(reply Reply) (*transport.TranslationResult, error) {
	if reply.Success {
		if reply.Data == nil {
			return nil, &transport.TransportError{
				Kind: transport.MalformedResponse,
				Err:  errors.New("bridge reply carries no result"),
			}
		}
		return reply.Data, nil
	}

	kind, ok := transport.ParseErrorKind(reply.ErrorKind)
	if !ok {
		kind = transport.NetworkFailure
	}
	return nil, &transport.TransportError{Kind: kind, Err: fmt.Errorf("bridge: %s", reply.Error)}
}

// Local is an in-process Sender that goes through a Processor
type Local struct {
	processor *Processor
}

// NewLocal creates a local bridge sender
func NewLocal(processor *Processor) *Local {
	return &Local{processor: processor}
}

// Send hands chunk to the processor and waits for its deferred reply
func (l *Local) Send(ctx context.Context, chunk *audio.AudioChunk) (*transport.TranslationResult, error) {
	if chunk == nil || len(chunk.Data) == 0 {
		return nil, audio.ErrEmptyChunk
	}

	replies := make(chan Reply, 1)
	msg := NewMessage(chunk)
	if !l.processor.Handle(ctx, msg, func(r Reply) { replies <- r }) {
		return nil, fmt.Errorf("action %q not handled", msg.Action)
	}

	select {
	case reply := <-replies:
		return ResultOf(reply)
	case <-ctx.Done():
		return nil, &transport.TransportError{Kind: transport.NetworkFailure, Err: ctx.Err()}
	}
}
