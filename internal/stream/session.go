// Package stream folds a Server-Sent Event stream from a job or agent
// endpoint into UI-facing state and resolves each run to a terminal outcome.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openclaude/jobstream/internal/sse"
)

// defaultReadSize is the read buffer size for transport reads.
const defaultReadSize = 4096

// Opener starts the request and returns the decoded text stream. It must
// honor ctx cancellation as the transport abort. A non-2xx response is
// reported as an error matching ErrTransportRejected.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Options configure a session.
type Options struct {
	// Mode selects console or chat interpretation.
	Mode sse.Mode
	// RunID identifies the run; a UUID is generated when empty.
	RunID string
	// Logger receives session logs; slog.Default() when nil.
	Logger *slog.Logger
	// Dispatcher overrides the transition table.
	Dispatcher *Dispatcher
	// OnSnapshot is called on the session goroutine after every state change.
	OnSnapshot func(Snapshot)
	// OnChunk is called with every decoded chunk before it is buffered.
	OnChunk func(text string)
	// ReadSize is the transport read buffer size.
	ReadSize int
}

// Session runs one stream end to end. It owns the cooperative cancellation
// token and the transport abort handle; Cancel always triggers both.
type Session struct {
	// opts holds the session configuration.
	opts Options
	// logger is the resolved session logger.
	logger *slog.Logger
	// parser turns frames into events.
	parser sse.Parser
	// buffer reassembles frames across reads.
	buffer *sse.ChunkBuffer
	// acc is mutated only by the Run goroutine.
	acc *Accumulator
	// cancelled is the cooperative cancellation token.
	cancelled atomic.Bool
	// cleared records that the caller discarded the session's output.
	cleared atomic.Bool
	// abortMu guards abort.
	abortMu sync.Mutex
	// abort cancels the transport context.
	abort context.CancelFunc
	// latest is the most recent published snapshot.
	latest atomic.Pointer[Snapshot]
	// started guards against running twice.
	started atomic.Bool
	// done is closed when Run returns.
	done chan struct{}
	// outcome is written once before done is closed.
	outcome Outcome
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = defaultReadSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	session := &Session{
		opts:   opts,
		logger: logger.With("run_id", opts.RunID, "mode", opts.Mode.String()),
		parser: sse.NewParser(opts.Mode),
		buffer: sse.NewChunkBuffer(),
		acc:    NewAccumulator(opts.Mode, opts.Dispatcher),
		done:   make(chan struct{}),
	}
	initial := Snapshot{State: session.acc.State(), RunID: opts.RunID}
	session.latest.Store(&initial)
	return session
}

// RunID returns the run identifier.
func (s *Session) RunID() string {
	return s.opts.RunID
}

// Cancel flips the cancellation token and aborts the transport. It is safe
// to call from any goroutine, any number of times.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.abortMu.Lock()
	abort := s.abort
	s.abortMu.Unlock()
	if abort != nil {
		abort()
	}
}

// Clear cancels the session and discards pending streaming text, so the
// aborted run does not finalize a message the caller already dismissed.
func (s *Session) Clear() {
	s.cleared.Store(true)
	s.Cancel()
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Done is closed once the session has resolved.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the terminal outcome; pending until Done is closed.
func (s *Session) Outcome() Outcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return Outcome{Kind: OutcomePending}
	}
}

// Snapshot returns the most recently published state.
func (s *Session) Snapshot() Snapshot {
	return *s.latest.Load()
}

// Run drives the stream until end of stream, failure or cancellation and
// returns the outcome. Cancelling ctx is equivalent to calling Cancel.
func (s *Session) Run(ctx context.Context, open Opener) Outcome {
	if !s.started.CompareAndSwap(false, true) {
		return Outcome{Kind: OutcomeFailed, Message: "session already started", Err: errors.New("session already started")}
	}
	startedAt := time.Now()
	outcome := s.run(ctx, open)
	s.outcome = outcome

	s.publish()
	sessionsTotal.WithLabelValues(s.opts.Mode.String(), outcome.Kind.String()).Inc()
	sessionDuration.WithLabelValues(s.opts.Mode.String(), outcome.Kind.String()).Observe(time.Since(startedAt).Seconds())
	switch outcome.Kind {
	case OutcomeFailed:
		s.logger.Warn("stream session failed", "error", outcome.Err, "applied", s.acc.Applied())
	default:
		s.logger.Info("stream session finished", "outcome", outcome.Kind.String(), "applied", s.acc.Applied())
	}
	close(s.done)
	return outcome
}

func (s *Session) run(ctx context.Context, open Opener) Outcome {
	transportCtx, abort := context.WithCancel(ctx)
	defer abort()
	s.abortMu.Lock()
	s.abort = abort
	s.abortMu.Unlock()
	stopWatch := context.AfterFunc(ctx, s.Cancel)
	defer stopWatch()

	s.acc.Start()
	s.publish()
	s.logger.Info("stream session started")

	if s.isCancelled(ctx) {
		return s.resolveAborted()
	}
	body, err := open(transportCtx)
	if err != nil {
		if s.isCancelled(ctx) {
			return s.resolveAborted()
		}
		if errors.Is(err, ErrTransportRejected) {
			return s.resolveFailed(err.Error(), err)
		}
		return s.resolveFailed(err.Error(), fmt.Errorf("%w: %w", ErrTransportInterrupted, err))
	}
	defer body.Close()

	readBuffer := make([]byte, s.opts.ReadSize)
	for {
		if s.isCancelled(ctx) {
			return s.resolveAborted()
		}
		n, readErr := body.Read(readBuffer)
		if n > 0 {
			text := string(readBuffer[:n])
			if s.opts.OnChunk != nil {
				s.opts.OnChunk(text)
			}
			s.buffer.Push(text)
			frames, _ := s.buffer.Drain()
			if !s.applyFrames(frames) {
				return s.resolveAborted()
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if s.isCancelled(ctx) {
			return s.resolveAborted()
		}
		return s.resolveFailed(readErr.Error(), fmt.Errorf("%w: %w", ErrTransportInterrupted, readErr))
	}

	// The stream may end without a trailing blank line.
	if tail := s.buffer.FlushRemainder(); strings.TrimSpace(tail) != "" {
		s.buffer.Push(tail + sse.FrameSeparator)
		frames, _ := s.buffer.Drain()
		if !s.applyFrames(frames) {
			return s.resolveAborted()
		}
	}
	return s.resolveEnd()
}

// isCancelled reports cancellation by token or by the caller's context.
func (s *Session) isCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		s.cancelled.Store(true)
	}
	return s.cancelled.Load()
}

// applyFrames parses and applies frames in order. The token is checked
// before and after each frame; it returns false once cancellation is seen.
func (s *Session) applyFrames(frames []string) bool {
	mode := s.opts.Mode.String()
	for _, frame := range frames {
		if s.cancelled.Load() {
			return false
		}
		framesTotal.WithLabelValues(mode).Inc()
		event, ok := s.parser.Parse(frame)
		if ok {
			s.observe(event)
			s.acc.Apply(event)
			s.publish()
		}
		if s.cancelled.Load() {
			return false
		}
	}
	return true
}

// observe records metrics and debug logs for an event about to be applied.
func (s *Session) observe(event sse.Event) {
	eventsTotal.WithLabelValues(s.opts.Mode.String(), string(event.Kind())).Inc()
	if sse.IsWrapped(event) {
		malformedFramesTotal.WithLabelValues(s.opts.Mode.String()).Inc()
		s.logger.Debug("wrapped non-JSON frame payload as text")
	}
	if unknown, ok := event.(sse.Unknown); ok {
		unknownEventsTotal.WithLabelValues(unknownTypes.Label(unknown.RawType)).Inc()
		s.logger.Debug("ignoring unknown stream event", "type", unknown.RawType)
	}
}

// resolveEnd settles a stream that reached end of stream normally.
func (s *Session) resolveEnd() Outcome {
	s.acc.FinalizeMessage()
	switch s.acc.Status() {
	case StatusFailed:
		message := s.acc.ErrorMessage()
		if message == "" {
			message = "job failed"
		}
		return Outcome{Kind: OutcomeFailed, Message: message, Err: fmt.Errorf("%w: %s", ErrUpstreamFailure, message)}
	case StatusCompleted:
		return Outcome{Kind: OutcomeCompleted}
	default:
		s.acc.complete()
		return Outcome{Kind: OutcomeCompleted}
	}
}

// resolveFailed keeps partial output and records the failure.
func (s *Session) resolveFailed(message string, err error) Outcome {
	s.acc.FinalizeMessage()
	s.acc.Fail(message)
	return Outcome{Kind: OutcomeFailed, Message: message, Err: err}
}

// resolveAborted finalizes pending text unless the caller cleared the session.
func (s *Session) resolveAborted() Outcome {
	if s.cleared.Load() {
		s.acc.DiscardPending()
	} else {
		s.acc.FinalizeMessage()
	}
	return Outcome{Kind: OutcomeAborted, Err: ErrCancelled}
}

// publish stores and forwards a snapshot of the current state.
func (s *Session) publish() {
	snapshot := Snapshot{
		State:   s.acc.State(),
		RunID:   s.opts.RunID,
		Applied: s.acc.Applied(),
	}
	s.latest.Store(&snapshot)
	if s.opts.OnSnapshot != nil {
		s.opts.OnSnapshot(snapshot)
	}
}
