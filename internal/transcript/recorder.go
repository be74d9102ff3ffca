package transcript

import (
	"log/slog"
	"sync"

	"github.com/openclaude/jobstream/internal/stream"
)

// Recorder writes one run's chunks and outcome to a Store. Write failures
// are logged once and stop further recording; they never fail the run.
type Recorder struct {
	store  *Store
	runID  string
	logger *slog.Logger

	mu     sync.Mutex
	failed bool
}

// NewRecorder starts a transcript for runID.
func NewRecorder(store *Store, runID string, mode string, target string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := &Recorder{store: store, runID: runID, logger: logger}
	recorder.write(func() error { return store.Begin(runID, mode, target) })
	return recorder
}

// Chunk records a decoded chunk; it matches stream.Options.OnChunk.
func (r *Recorder) Chunk(text string) {
	r.write(func() error { return r.store.AppendChunk(r.runID, text) })
}

// Finish records the outcome.
func (r *Recorder) Finish(outcome stream.Outcome) {
	r.write(func() error { return r.store.Finish(r.runID, outcome.Kind.String(), outcome.Message) })
}

// Failed reports whether recording stopped after a write error.
func (r *Recorder) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *Recorder) write(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed {
		return
	}
	if err := fn(); err != nil {
		r.failed = true
		r.logger.Warn("transcript recording disabled", "run_id", r.runID, "error", err)
	}
}
