package stream

import (
	"context"
	"sync"
)

// Surface allows one active session at a time, like a console pane or chat
// window. Starting a session cancels the previous one, and snapshots from a
// superseded session are never forwarded.
type Surface struct {
	// opts is the template for every session started on the surface.
	opts Options
	// mu guards current.
	mu sync.Mutex
	// current is the active session, if any.
	current *Session
	// publishMu serializes forwarding with generation changes.
	publishMu sync.Mutex
	// generation increments on every Start; guarded by publishMu.
	generation uint64
}

// NewSurface creates a surface. opts.OnSnapshot receives snapshots of the
// active session only; it must not call back into the Surface.
func NewSurface(opts Options) *Surface {
	return &Surface{opts: opts}
}

// Start cancels any active session and runs a new one on its own goroutine.
// runID may be empty.
func (s *Surface) Start(ctx context.Context, runID string, open Opener) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Bump the generation first so the old session's final snapshot is
	// already stale when its cancellation lands.
	s.publishMu.Lock()
	s.generation++
	generation := s.generation
	s.publishMu.Unlock()

	if s.current != nil {
		s.current.Cancel()
	}

	opts := s.opts
	opts.RunID = runID
	forward := s.opts.OnSnapshot
	opts.OnSnapshot = func(snapshot Snapshot) {
		if forward == nil {
			return
		}
		s.publishMu.Lock()
		defer s.publishMu.Unlock()
		if s.generation != generation {
			return
		}
		forward(snapshot)
	}

	session := NewSession(opts)
	s.current = session
	go session.Run(ctx, open)
	return session
}

// Current returns the active session, or nil.
func (s *Surface) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel cancels the active session, keeping its partial output.
func (s *Surface) Cancel() {
	if session := s.Current(); session != nil {
		session.Cancel()
	}
}

// Clear cancels the active session and discards its pending text.
func (s *Surface) Clear() {
	if session := s.Current(); session != nil {
		session.Clear()
	}
}
