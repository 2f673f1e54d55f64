// Package playback provides the ordered sign clip queue and the surfaces
// that render clips.
//
// A Queue holds at most one active item. Items play in enqueue order and
// an item that cannot be played counts as complete so the queue never stalls.
package playback
