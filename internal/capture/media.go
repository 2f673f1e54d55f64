package capture

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TrackKind identifies the media carried by a track
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Constraints describes what a capture request asks the device for
type Constraints struct {
	Video bool
	Audio bool
}

// Track is one device-backed media track
type Track interface {
	ID() string
	Kind() TrackKind
	// Stop releases the device handle. It is idempotent.
	Stop()
	// Ended is closed once the track has ended, either through Stop or
	// because the source went away.
	Ended() <-chan struct{}
}

// AudioTrack is a track that delivers encoded recorder output
type AudioTrack interface {
	Track
	// Frames yields recorder output until the track ends, then is closed.
	Frames() <-chan []byte
}

// MediaStream is a set of granted tracks
type MediaStream interface {
	AudioTracks() []AudioTrack
	VideoTracks() []Track
}

// Device grants media streams
type Device interface {
	RequestMedia(ctx context.Context, constraints Constraints) (MediaStream, error)
}

// DeviceFunc adapts a function to the Device interface
type DeviceFunc func(ctx context.Context, constraints Constraints) (MediaStream, error)

// RequestMedia calls f(ctx, constraints)
func (f DeviceFunc) RequestMedia(ctx context.Context, constraints Constraints) (MediaStream, error) {
	return f(ctx, constraints)
}

// StaticStream is a MediaStream over fixed track lists
type StaticStream struct {
	Audio []AudioTrack
	Video []Track
}

func (s *StaticStream) AudioTracks() []AudioTrack { return s.Audio }
func (s *StaticStream) VideoTracks() []Track      { return s.Video }

// NewAudioOnlyStream derives a stream holding exactly one audio track.
// Opus recording cannot take a combined audio+video stream, so the recorder
// is always fed one of these.
func NewAudioOnlyStream(track AudioTrack) MediaStream {
	return &StaticStream{Audio: []AudioTrack{track}}
}

// releaseAll stops every track of stream
func releaseAll(stream MediaStream) {
	if stream == nil {
		return
	}
	for _, t := range stream.AudioTracks() {
		t.Stop()
	}
	for _, t := range stream.VideoTracks() {
		t.Stop()
	}
}

// BasicTrack is a Track with no payload, used for video tracks
type BasicTrack struct {
	id    string
	kind  TrackKind
	ended chan struct{}

	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

// NewVideoTrack creates a video track that ends on Stop or End
func NewVideoTrack() *BasicTrack {
	return newBasicTrack(KindVideo)
}

func newBasicTrack(kind TrackKind) *BasicTrack {
	return &BasicTrack{
		id:    uuid.NewString(),
		kind:  kind,
		ended: make(chan struct{}),
	}
}

func (t *BasicTrack) ID() string             { return t.id }
func (t *BasicTrack) Kind() TrackKind        { return t.kind }
func (t *BasicTrack) Ended() <-chan struct{} { return t.ended }

// Stop releases the track
func (t *BasicTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.End()
}

// End marks the track as ended without it having been stopped by us,
// e.g. when the user revokes sharing from outside the application
func (t *BasicTrack) End() {
	t.once.Do(func() { close(t.ended) })
}

// Stopped reports whether Stop was called
func (t *BasicTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// ChannelAudioTrack is an AudioTrack fed from a channel of frames
type ChannelAudioTrack struct {
	*BasicTrack
	source <-chan []byte
	frames chan []byte
}

// NewAudioTrack creates an audio track relaying frames from source until
// source is closed or the track is stopped
func NewAudioTrack(source <-chan []byte) *ChannelAudioTrack {
	t := &ChannelAudioTrack{
		BasicTrack: newBasicTrack(KindAudio),
		source:     source,
		frames:     make(chan []byte),
	}
	go t.relay()
	return t
}

func (t *ChannelAudioTrack) relay() {
	defer close(t.frames)
	for {
		select {
		case <-t.ended:
			return
		case frame, ok := <-t.source:
			if !ok {
				t.End()
				return
			}
			select {
			case t.frames <- frame:
			case <-t.ended:
				return
			}
		}
	}
}

// Frames returns the relayed recorder output
func (t *ChannelAudioTrack) Frames() <-chan []byte {
	return t.frames
}
