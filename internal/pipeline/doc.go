// Package pipeline connects capture, transport and playback.
//
// Chunks are sent as soon as they are emitted, without waiting for earlier
// sends. Clips are enqueued in the order responses arrive, which is not
// necessarily the order chunks were recorded in. Results that arrive after
// their recording stopped are dropped.
package pipeline
