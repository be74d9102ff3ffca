package stream

import "errors"

var (
	// ErrTransportRejected is returned when the endpoint refuses the request
	// with a non-2xx status before streaming starts.
	ErrTransportRejected = errors.New("transport rejected")
	// ErrTransportInterrupted is returned when the transport fails mid-stream.
	ErrTransportInterrupted = errors.New("transport interrupted")
	// ErrUpstreamFailure is returned when the stream reports a failed status.
	ErrUpstreamFailure = errors.New("upstream reported failure")
	// ErrCancelled is returned when the session was cancelled by its caller.
	ErrCancelled = errors.New("stream cancelled")
)

// OutcomeKind is the terminal resolution of a session.
type OutcomeKind int

const (
	// OutcomePending means the session has not resolved yet.
	OutcomePending OutcomeKind = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeAborted
)

// String returns the outcome name used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "pending"
	}
}

// Outcome is the terminal result of a session.
type Outcome struct {
	// Kind is the resolution.
	Kind OutcomeKind
	// Message describes a failure for display.
	Message string
	// Err wraps one of the package sentinels for failed and aborted runs.
	Err error
}
