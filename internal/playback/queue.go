package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/signstream/internal/metrics"
)

// ErrPlaybackFailure is wrapped by surfaces when an item cannot be played
var ErrPlaybackFailure = errors.New("playback failure")

// Item is one playable artifact reference
type Item struct {
	Locator    string    `json:"locator"`
	Sequence   uint64    `json:"sequence"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Surface renders items one at a time.
// Play starts item and returns; done is called once when playback ends or
// fails after starting. If Play returns an error, done is never called.
// Stop aborts whatever is playing.
type Surface interface {
	Play(ctx context.Context, item Item, done func(error)) error
	Stop()
}

// StateFunc is told when the queue starts playing and when it drains.
// It is called with the queue lock held and must not call back into the Queue.
type StateFunc func(playing bool)

// Queue plays items strictly in enqueue order, never more than one at a time
type Queue struct {
	surface Surface
	logger  *slog.Logger
	metrics *metrics.Metrics
	onState StateFunc

	pending       []Item
	current       *Item
	token         uint64
	cancelCurrent context.CancelFunc
	playing       bool

	// Statistics
	enqueued  uint64
	started   uint64
	completed uint64
	failed    uint64
	cleared   uint64

	mu     sync.Mutex
	playMu sync.Mutex // serializes calls into the surface
}

// QueueStats represents playback statistics
type QueueStats struct {
	Pending   int    `json:"pending"`
	Playing   bool   `json:"playing"`
	Current   string `json:"current,omitempty"`
	Enqueued  uint64 `json:"enqueued"`
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cleared   uint64 `json:"cleared"`
}

// NewQueue creates a playback queue. m and onState may be nil.
func NewQueue(surface Surface, logger *slog.Logger, m *metrics.Metrics, onState StateFunc) *Queue {
	return &Queue{
		surface: surface,
		logger:  logger,
		metrics: m,
		onState: onState,
	}
}

// Enqueue appends items and starts playback if nothing is active
func (q *Queue) Enqueue(items ...Item) {
	if len(items) == 0 {
		return
	}

	now := time.Now()
	q.mu.Lock()
	for _, item := range items {
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = now
		}
		q.pending = append(q.pending, item)
	}
	q.enqueued += uint64(len(items))
	idle := q.current == nil
	q.recordDepthLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.RecordPlaybackEnqueued(len(items))
	}

	q.logger.Debug("Playback items enqueued",
		slog.Int("count", len(items)),
		slog.Uint64("sequence", items[0].Sequence),
	)

	if idle {
		q.advance()
	}
}

// OnPlaybackComplete finishes the active item and moves to the next one.
// It does nothing when no item is playing.
func (q *Queue) OnPlaybackComplete() {
	q.mu.Lock()
	if q.current == nil {
		q.mu.Unlock()
		return
	}
	token := q.token
	q.mu.Unlock()

	q.complete(token, nil)
}

// Clear drops every pending item and stops the active one
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := len(q.pending)
	active := q.current != nil
	q.pending = nil
	q.current = nil
	q.playing = false
	q.token++
	if q.cancelCurrent != nil {
		q.cancelCurrent()
		q.cancelCurrent = nil
	}
	q.cleared++
	q.recordDepthLocked()
	q.mu.Unlock()

	if active {
		q.surface.Stop()
	}

	q.logger.Debug("Playback queue cleared",
		slog.Int("dropped", dropped),
		slog.Bool("was_playing", active),
	)
}

// Len returns the number of items waiting behind the active one
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Playing reports whether an item is active
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// Current returns the active item
func (q *Queue) Current() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Item{}, false
	}
	return *q.current, true
}

// complete ends the item identified by token, ignoring stale completions
func (q *Queue) complete(token uint64, err error) {
	q.mu.Lock()
	if q.current == nil || token != q.token {
		q.mu.Unlock()
		return
	}
	item := *q.current
	q.current = nil
	if q.cancelCurrent != nil {
		q.cancelCurrent()
		q.cancelCurrent = nil
	}
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("Playback ended with error, advancing",
			slog.String("locator", item.Locator),
			slog.Uint64("sequence", item.Sequence),
			slog.String("error", err.Error()),
		)
		if q.metrics != nil {
			q.metrics.RecordPlaybackFailure()
		}
	} else {
		q.logger.Debug("Playback completed",
			slog.String("locator", item.Locator),
			slog.Uint64("sequence", item.Sequence),
		)
		if q.metrics != nil {
			q.metrics.RecordPlaybackCompleted()
		}
	}

	q.advance()
}

// advance starts the head item, skipping items that fail to start,
// or reports the queue as drained
func (q *Queue) advance() {
	q.playMu.Lock()
	defer q.playMu.Unlock()

	for {
		q.mu.Lock()
		if q.current != nil {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			if q.playing {
				q.playing = false
				q.notifyLocked(false)
			}
			q.mu.Unlock()
			return
		}

		item := q.pending[0]
		q.pending = q.pending[1:]
		q.current = &item
		q.token++
		token := q.token
		ctx, cancel := context.WithCancel(context.Background())
		q.cancelCurrent = cancel
		q.started++
		q.recordDepthLocked()
		if !q.playing {
			q.playing = true
			q.notifyLocked(true)
		}
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.RecordPlaybackStarted()
		}

		q.logger.Debug("Playback started",
			slog.String("locator", item.Locator),
			slog.Uint64("sequence", item.Sequence),
		)

		err := q.surface.Play(ctx, item, func(err error) {
			// Completion may arrive on any goroutine, even inside Play
			go q.complete(token, err)
		})

		q.mu.Lock()
		stale := token != q.token
		if err != nil && !stale {
			q.current = nil
			q.cancelCurrent = nil
			q.failed++
		}
		q.mu.Unlock()

		if err != nil {
			cancel()
		}

		if stale {
			// Cleared while the surface was starting
			if err == nil {
				q.surface.Stop()
			}
			return
		}
		if err == nil {
			return
		}

		q.logger.Warn("Playback failed to start, skipping item",
			slog.String("locator", item.Locator),
			slog.Uint64("sequence", item.Sequence),
			slog.String("error", err.Error()),
		)
		if q.metrics != nil {
			q.metrics.RecordPlaybackFailure()
		}
	}
}

func (q *Queue) notifyLocked(playing bool) {
	if q.onState != nil {
		q.onState(playing)
	}
}

func (q *Queue) recordDepthLocked() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.pending))
	}
}

// GetStats returns current playback statistics
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{
		Pending:   len(q.pending),
		Playing:   q.current != nil,
		Enqueued:  q.enqueued,
		Started:   q.started,
		Completed: q.completed,
		Failed:    q.failed,
		Cleared:   q.cleared,
	}
	if q.current != nil {
		stats.Current = q.current.Locator
	}
	return stats
}
