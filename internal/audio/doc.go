// Package audio handles recorder output accumulation and chunk encoding.
// It buffers encoded audio between emission ticks and wraps each drained
// segment into a sequenced AudioChunk tagged with the fixed opus media type.
package audio
