// Package capture implements the recording state machine.
// A Session requests media from a Device, isolates the first audio track,
// and emits one sequenced chunk per interval to its Sink until it is stopped
// or the granted video track ends.
package capture
