package pipeline

import (
	"errors"
	"sync"
)

// ErrAlreadyInjected is returned when a Host is asked to build a second pipeline
var ErrAlreadyInjected = errors.New("pipeline already injected")

// Host owns the one pipeline of a process. The pipeline is constructed on the
// first Inject; later calls are rejected and leave it untouched.
type Host struct {
	mu           sync.Mutex
	orchestrator *Orchestrator
}

// NewHost creates an empty host
func NewHost() *Host {
	return &Host{}
}

// Inject builds the pipeline with build unless one already exists
func (h *Host) Inject(build func() (*Orchestrator, error)) (*Orchestrator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.orchestrator != nil {
		return h.orchestrator, ErrAlreadyInjected
	}

	o, err := build()
	if err != nil {
		return nil, err
	}
	h.orchestrator = o
	return o, nil
}

// Orchestrator returns the injected pipeline, if any
func (h *Host) Orchestrator() (*Orchestrator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.orchestrator, h.orchestrator != nil
}
