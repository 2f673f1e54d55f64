package audio

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestNewBuffer(t *testing.T) {
	buffer := NewBuffer(1024)

	if buffer == nil {
		t.Fatal("NewBuffer returned nil")
	}

	if buffer.Len() != 0 {
		t.Errorf("Expected initial size 0, got %d", buffer.Len())
	}

	if data := buffer.Drain(); data != nil {
		t.Errorf("Expected nil drain on empty buffer, got %d bytes", len(data))
	}
}

func TestBufferAppendAndDrain(t *testing.T) {
	buffer := NewBuffer(0)

	initialTime := buffer.GetStats().LastUpdate
	time.Sleep(5 * time.Millisecond)

	buffer.Append([]byte{1, 2, 3})
	buffer.Append(nil)
	buffer.Append([]byte{4, 5})

	if buffer.Len() != 5 {
		t.Errorf("Expected 5 buffered bytes, got %d", buffer.Len())
	}

	stats := buffer.GetStats()
	if stats.TotalWrites != 2 {
		t.Errorf("Expected 2 writes (empty write ignored), got %d", stats.TotalWrites)
	}
	if !stats.LastUpdate.After(initialTime) {
		t.Error("Expected last update time to advance")
	}

	data := buffer.Drain()
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Unexpected drained data: %v", data)
	}

	if buffer.Len() != 0 {
		t.Errorf("Expected buffer to be empty after drain, got %d", buffer.Len())
	}

	// Drained slice must not alias later writes
	buffer.Append([]byte{9, 9, 9})
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Drained data was modified by a later append: %v", data)
	}

	if buffer.GetStats().TotalDrains != 1 {
		t.Errorf("Expected 1 drain, got %d", buffer.GetStats().TotalDrains)
	}
}

func TestBufferDiscard(t *testing.T) {
	buffer := NewBuffer(16)
	buffer.Append([]byte("residual"))
	buffer.Discard()

	if buffer.Len() != 0 {
		t.Errorf("Expected empty buffer after discard, got %d", buffer.Len())
	}
	if buffer.GetStats().TotalBytes != 8 {
		t.Errorf("Expected total bytes to be kept after discard, got %d", buffer.GetStats().TotalBytes)
	}
}

func TestBufferConcurrentAppend(t *testing.T) {
	buffer := NewBuffer(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buffer.Append([]byte{byte(j)})
			}
		}()
	}
	wg.Wait()

	if buffer.Len() != 800 {
		t.Errorf("Expected 800 bytes, got %d", buffer.Len())
	}
}
