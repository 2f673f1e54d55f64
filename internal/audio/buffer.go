package audio

import (
	"sync"
	"time"
)

// Buffer accumulates encoded recorder output between chunk emissions
type Buffer struct {
	data []byte

	// Timing and metadata
	lastUpdate   time.Time
	totalWrites  uint64
	totalBytes   uint64
	totalDrains  uint64

	mu sync.Mutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	PendingBytes int       `json:"pending_bytes"`
	TotalWrites  uint64    `json:"total_writes"`
	TotalBytes   uint64    `json:"total_bytes"`
	TotalDrains  uint64    `json:"total_drains"`
	LastUpdate   time.Time `json:"last_update"`
}

// NewBuffer creates a new recorder buffer with room for capacity bytes
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{
		data: make([]byte, 0, capacity),
	}
}

// Append adds recorder output to the buffer. Empty writes are ignored.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	b.lastUpdate = time.Now()
	b.totalWrites++
	b.totalBytes += uint64(len(p))
}

// Drain returns everything accumulated so far and empties the buffer.
// It returns nil when nothing is buffered.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return nil
	}

	out := b.data
	b.data = make([]byte, 0, cap(out))
	b.totalDrains++

	return out
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Discard drops any buffered bytes
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		PendingBytes: len(b.data),
		TotalWrites:  b.totalWrites,
		TotalBytes:   b.totalBytes,
		TotalDrains:  b.totalDrains,
		LastUpdate:   b.lastUpdate,
	}
}
