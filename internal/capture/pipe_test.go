package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPipeDeviceEmptySourceGrantsVideoOnly(t *testing.T) {
	device := NewPipeDevice("", 0, testLogger())
	session := NewSession(device, newRecordingSink(), testLogger(), Config{})

	if err := session.Start(context.Background()); !errors.Is(err, ErrNoAudioTrack) {
		t.Errorf("Expected ErrNoAudioTrack, got %v", err)
	}
}

func TestPipeDeviceMissingFile(t *testing.T) {
	device := NewPipeDevice(filepath.Join(t.TempDir(), "missing.webm"), 0, testLogger())

	_, err := device.RequestMedia(context.Background(), Constraints{Audio: true, Video: true})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Expected ErrAccessDenied, got %v", err)
	}
}

func TestPipeDeviceEOFEndsSession(t *testing.T) {
	pr, pw := io.Pipe()
	device := NewReaderDevice(func() (io.ReadCloser, error) { return pr, nil }, 8, testLogger())
	sink := newRecordingSink()
	session := NewSession(device, sink, testLogger(), Config{ChunkInterval: time.Hour})

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := pw.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return session.GetStats().PendingBytes == 10 })
	pw.Close()

	select {
	case reason := <-sink.stoppedC:
		if reason != StopTrackEnded {
			t.Errorf("Expected %s, got %s", StopTrackEnded, reason)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected EOF to end the recording")
	}

	chunks := sink.Chunks()
	if len(chunks) != 1 || string(chunks[0].Data) != "0123456789" {
		t.Errorf("Expected the source bytes flushed as one chunk, got %d chunks", len(chunks))
	}
}

func TestPipeDeviceStopClosesSource(t *testing.T) {
	pr, pw := io.Pipe()
	device := NewReaderDevice(func() (io.ReadCloser, error) { return pr, nil }, 0, testLogger())
	sink := newRecordingSink()
	session := NewSession(device, sink, testLogger(), Config{ChunkInterval: time.Hour})

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Stop()

	if reason := <-sink.stoppedC; reason != StopRequested {
		t.Errorf("Expected %s, got %s", StopRequested, reason)
	}
	if _, err := pw.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Expected source to be closed after stop, got %v", err)
	}
}

func TestSharedSourceSurvivesRestart(t *testing.T) {
	pr, pw := io.Pipe()
	source := newSharedSource(pr, 8)

	first := source.Open()
	if _, err := pw.Write([]byte("one")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, 8)
	n, err := first.Read(buf)
	if err != nil || string(buf[:n]) != "one" {
		t.Fatalf("Expected \"one\", got %q (%v)", buf[:n], err)
	}

	// A reader blocked on a stopped recording must let go without taking data
	readErr := make(chan error, 1)
	go func() {
		_, err := first.Read(make([]byte, 8))
		readErr <- err
	}()
	first.Close()
	select {
	case err := <-readErr:
		if !errors.Is(err, os.ErrClosed) {
			t.Errorf("Expected os.ErrClosed after close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}

	second := source.Open()
	if _, err := pw.Write([]byte("two")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	n, err = second.Read(buf)
	if err != nil || string(buf[:n]) != "two" {
		t.Errorf("Expected the next recording to get \"two\", got %q (%v)", buf[:n], err)
	}

	pw.Close()
	if _, err := second.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF once the source ends, got %v", err)
	}
}
