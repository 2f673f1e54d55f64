package audio

import (
	"errors"
	"sync"
	"time"
)

// MimeType is the fixed codec identifier every chunk is tagged with
const MimeType = "audio/webm;codecs=opus"

// ErrEmptyChunk is returned when a zero-length segment is offered for encoding
var ErrEmptyChunk = errors.New("audio chunk is empty")

// AudioChunk represents one fixed-interval slice of captured audio ready for transport
type AudioChunk struct {
	Sequence   uint64    `json:"sequence"`
	MimeType   string    `json:"mime_type"`
	Data       []byte    `json:"-"` // Encoded audio payload
	CapturedAt time.Time `json:"captured_at"`
}

// Size returns the payload size in bytes
func (c *AudioChunk) Size() int {
	return len(c.Data)
}

// Encoder turns raw recorder segments into sequenced AudioChunks.
// The sequence counter starts at 0 and is only rewound by Reset.
type Encoder struct {
	mimeType string
	next     uint64

	// Statistics
	chunksEncoded uint64
	bytesEncoded  uint64
	resets        uint64

	mu sync.Mutex
}

// EncoderStats represents encoder statistics
type EncoderStats struct {
	MimeType      string `json:"mime_type"`
	NextSequence  uint64 `json:"next_sequence"`
	ChunksEncoded uint64 `json:"chunks_encoded"`
	BytesEncoded  uint64 `json:"bytes_encoded"`
	Resets        uint64 `json:"resets"`
}

// NewEncoder creates a new chunk encoder for the given media type
func NewEncoder(mimeType string) *Encoder {
	if mimeType == "" {
		mimeType = MimeType
	}
	return &Encoder{mimeType: mimeType}
}

// Encode wraps a recorder segment into the next AudioChunk.
// The segment is copied so the caller may reuse its buffer.
func (e *Encoder) Encode(segment []byte) (*AudioChunk, error) {
	if len(segment) == 0 {
		return nil, ErrEmptyChunk
	}

	data := make([]byte, len(segment))
	copy(data, segment)

	e.mu.Lock()
	defer e.mu.Unlock()

	chunk := &AudioChunk{
		Sequence:   e.next,
		MimeType:   e.mimeType,
		Data:       data,
		CapturedAt: time.Now(),
	}

	e.next++
	e.chunksEncoded++
	e.bytesEncoded += uint64(len(data))

	return chunk, nil
}

// Reset rewinds the sequence counter to 0
func (e *Encoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next = 0
	e.resets++
}

// NextSequence returns the index the next chunk will receive
func (e *Encoder) NextSequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// GetStats returns current encoder statistics
func (e *Encoder) GetStats() EncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return EncoderStats{
		MimeType:      e.mimeType,
		NextSequence:  e.next,
		ChunksEncoded: e.chunksEncoded,
		BytesEncoded:  e.bytesEncoded,
		Resets:        e.resets,
	}
}
