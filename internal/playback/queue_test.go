package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/signstream/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// manualSurface plays items until the test finishes them
type manualSurface struct {
	mu        sync.Mutex
	played    []string
	active    int
	maxActive int
	stops     int
	done      func(error)
	failOn    map[string]bool
}

func newManualSurface() *manualSurface {
	return &manualSurface{failOn: make(map[string]bool)}
}

func (s *manualSurface) Play(ctx context.Context, item Item, done func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[item.Locator] {
		return ErrPlaybackFailure
	}
	s.played = append(s.played, item.Locator)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.done = func(err error) {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		done(err)
	}
	return nil
}

func (s *manualSurface) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.done != nil {
		s.active--
		s.done = nil
	}
}

// finish ends the active item the way a player would
func (s *manualSurface) finish(err error) {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (s *manualSurface) Played() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.played))
	copy(out, s.played)
	return out
}

// stateRecorder collects StateFunc notifications
type stateRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *stateRecorder) record(playing bool) {
	r.mu.Lock()
	r.states = append(r.states, playing)
	r.mu.Unlock()
}

func (r *stateRecorder) States() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.states))
	copy(out, r.states)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}

func items(locators ...string) []Item {
	out := make([]Item, len(locators))
	for i, l := range locators {
		out[i] = Item{Locator: l, Sequence: uint64(i)}
	}
	return out
}

func TestQueuePlaysInEnqueueOrder(t *testing.T) {
	surface := newManualSurface()
	queue := NewQueue(surface, testLogger(), nil, nil)

	queue.Enqueue(items("a", "b")...)
	queue.Enqueue(items("c")...)

	if got := surface.Played(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("Expected only the head to start, got %v", got)
	}
	if queue.Len() != 2 {
		t.Errorf("Expected 2 pending items, got %d", queue.Len())
	}

	for i := 2; i <= 3; i++ {
		want := i
		surface.finish(nil)
		waitFor(t, func() bool { return len(surface.Played()) == want })
	}
	surface.finish(nil)
	waitFor(t, func() bool { return !queue.Playing() })

	if got := surface.Played(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Expected [a b c], got %v", got)
	}
	if surface.maxActive != 1 {
		t.Errorf("Expected at most 1 active item, got %d", surface.maxActive)
	}

	stats := queue.GetStats()
	if stats.Completed != 3 || stats.Started != 3 || stats.Enqueued != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestQueueEnqueueNeverPreempts(t *testing.T) {
	surface := newManualSurface()
	queue := NewQueue(surface, testLogger(), nil, nil)

	queue.Enqueue(items("a")...)
	for i := 0; i < 5; i++ {
		queue.Enqueue(Item{Locator: "later"})
	}

	current, ok := queue.Current()
	if !ok || current.Locator != "a" {
		t.Errorf("Expected a to stay active, got %+v", current)
	}
	if surface.stops != 0 {
		t.Errorf("Expected no stops, got %d", surface.stops)
	}
}

func TestOnPlaybackCompleteWhenIdleIsNoop(t *testing.T) {
	surface := newManualSurface()
	recorder := &stateRecorder{}
	queue := NewQueue(surface, testLogger(), nil, recorder.record)

	queue.OnPlaybackComplete()
	queue.OnPlaybackComplete()

	if queue.Playing() {
		t.Error("Expected queue to stay idle")
	}
	if len(recorder.States()) != 0 {
		t.Errorf("Expected no state notifications, got %v", recorder.States())
	}
	if len(surface.Played()) != 0 {
		t.Error("Expected nothing to be played")
	}
}

func TestOnPlaybackCompleteAdvances(t *testing.T) {
	surface := newManualSurface()
	recorder := &stateRecorder{}
	queue := NewQueue(surface, testLogger(), nil, recorder.record)

	queue.Enqueue(items("a", "b")...)
	queue.OnPlaybackComplete()

	if got := surface.Played(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Expected b to start after explicit completion, got %v", got)
	}

	queue.OnPlaybackComplete()
	if queue.Playing() {
		t.Error("Expected queue to be idle after draining")
	}
	if got := recorder.States(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Errorf("Expected [true false], got %v", got)
	}
}

func TestQueueSkipsItemsThatFail(t *testing.T) {
	surface := newManualSurface()
	surface.failOn["broken"] = true
	recorder := &stateRecorder{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	queue := NewQueue(surface, testLogger(), m, recorder.record)

	queue.Enqueue(items("broken", "ok")...)

	if got := surface.Played(); !reflect.DeepEqual(got, []string{"ok"}) {
		t.Fatalf("Expected the failed item to be skipped, got %v", got)
	}

	// Failure after starting also advances
	queue.Enqueue(items("next")...)
	surface.finish(errors.New("decoder error"))
	waitFor(t, func() bool { return len(surface.Played()) == 2 })
	surface.finish(nil)
	waitFor(t, func() bool { return !queue.Playing() })

	stats := queue.GetStats()
	if stats.Failed != 2 || stats.Completed != 1 {
		t.Errorf("Expected 2 failed and 1 completed, got %+v", stats)
	}
	if got := testutil.ToFloat64(m.PlaybackFailures); got != 2 {
		t.Errorf("Expected 2 playback failures recorded, got %v", got)
	}
	if got := recorder.States(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Errorf("Expected one playing/drained cycle, got %v", got)
	}
}

func TestQueueAllItemsFailing(t *testing.T) {
	surface := newManualSurface()
	surface.failOn["x"] = true
	surface.failOn["y"] = true
	recorder := &stateRecorder{}
	queue := NewQueue(surface, testLogger(), nil, recorder.record)

	queue.Enqueue(items("x", "y")...)

	if queue.Playing() || queue.Len() != 0 {
		t.Error("Expected queue to drain when every item fails")
	}
	if got := recorder.States(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Errorf("Expected [true false], got %v", got)
	}
}

func TestQueueClear(t *testing.T) {
	surface := newManualSurface()
	recorder := &stateRecorder{}
	queue := NewQueue(surface, testLogger(), nil, recorder.record)

	queue.Enqueue(items("a", "b", "c")...)
	done := surface.done

	queue.Clear()

	if queue.Playing() || queue.Len() != 0 {
		t.Error("Expected empty idle queue after clear")
	}
	if surface.stops != 1 {
		t.Errorf("Expected surface to be stopped once, got %d", surface.stops)
	}

	// A completion from the cleared item must not restart playback
	done(nil)
	time.Sleep(20 * time.Millisecond)
	if got := surface.Played(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Expected no playback after clear, got %v", got)
	}
	if got := recorder.States(); !reflect.DeepEqual(got, []bool{true}) {
		t.Errorf("Expected clear to report nothing, got %v", got)
	}

	// The queue is reusable
	queue.Enqueue(items("d")...)
	if got := surface.Played(); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Errorf("Expected d to play after clear, got %v", got)
	}
}
