package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/openclaude/jobstream/internal/config"
	"github.com/openclaude/jobstream/internal/render"
	"github.com/openclaude/jobstream/internal/sse"
	"github.com/openclaude/jobstream/internal/stream"
	"github.com/openclaude/jobstream/internal/streamjson"
	"github.com/openclaude/jobstream/internal/transcript"
	"github.com/openclaude/jobstream/internal/transport"
)

// defaultWidth is used when the terminal width is unknown.
const defaultWidth = 100

// runSpec describes one stream run.
type runSpec struct {
	// Mode selects console or chat interpretation.
	Mode sse.Mode
	// Target names the job, chat path or replay source for transcripts.
	Target string
	// Open starts the stream.
	Open stream.Opener
	// Record stores a transcript unless disabled by flag or settings.
	Record bool
}

// newClient builds the HTTP transport from config and flags.
func (a *app) newClient(cfg *config.Config) *transport.Client {
	idle := time.Duration(cfg.IdleTimeoutMS) * time.Millisecond
	if a.opts.IdleTimeout > 0 {
		idle = a.opts.IdleTimeout
	}
	return transport.NewClient(cfg.APIBaseURL, cfg.APIKey, time.Duration(cfg.TimeoutMS)*time.Millisecond, idle)
}

// store returns the transcript store.
func (a *app) store() (*transcript.Store, error) {
	if a.baseDir != "" {
		return &transcript.Store{BaseDir: a.baseDir}, nil
	}
	return transcript.NewStore()
}

// execute runs one stream to completion with the configured output.
func (a *app) execute(ctx context.Context, spec runSpec, settings *config.Settings) error {
	runID := uuid.NewString()
	stopMetrics := a.startMetricsServer()
	defer stopMetrics()

	recorder := a.startRecorder(spec, runID, settings)
	finish := func(outcome stream.Outcome) {
		if recorder != nil {
			recorder.Finish(outcome)
		}
	}
	options := stream.Options{Mode: spec.Mode, Logger: a.logger}
	if recorder != nil {
		options.OnChunk = recorder.Chunk
	}

	switch {
	case a.outputFormat(settings) == config.OutputStreamJSON:
		return a.runStreamJSON(ctx, spec, runID, options, finish)
	case !a.opts.NoTUI && a.interactive():
		return a.runViewer(ctx, spec, runID, options, settings, finish)
	default:
		return a.runPlain(ctx, spec, runID, options, settings, finish)
	}
}

// startRecorder opens a transcript when recording is enabled.
func (a *app) startRecorder(spec runSpec, runID string, settings *config.Settings) *transcript.Recorder {
	if !spec.Record || a.opts.NoRecord || !settings.RecordEnabled() {
		return nil
	}
	store, err := a.store()
	if err != nil {
		a.logger.Warn("transcript store unavailable", "error", err)
		return nil
	}
	recorder := transcript.NewRecorder(store, runID, spec.Mode.String(), spec.Target, a.logger)
	if cwd, err := os.Getwd(); err == nil {
		if err := store.SaveLastRun(transcript.ProjectHash(cwd), runID); err != nil {
			a.logger.Warn("save last run failed", "error", err)
		}
	}
	return recorder
}

// markdown returns the final-message renderer, or nil when disabled.
func (a *app) markdown(spec runSpec, settings *config.Settings, width int) *render.Markdown {
	if spec.Mode != sse.ModeChat || !settings.MarkdownEnabled() {
		return nil
	}
	markdown, err := render.NewMarkdown("auto", width)
	if err != nil {
		a.logger.Debug("markdown renderer unavailable", "error", err)
		return nil
	}
	return markdown
}

// runPlain prints each new item as it arrives.
func (a *app) runPlain(ctx context.Context, spec runSpec, runID string, options stream.Options, settings *config.Settings, finish func(stream.Outcome)) error {
	printer := render.NewPrinter(a.stdout, a.markdown(spec, settings, render.TerminalWidth(os.Stdout, defaultWidth)))
	var writeErr error
	options.OnSnapshot = func(snapshot stream.Snapshot) {
		if writeErr == nil {
			writeErr = printer.Snapshot(snapshot)
		}
	}

	session := stream.NewSurface(options).Start(ctx, runID, spec.Open)
	<-session.Done()
	outcome, snapshot := session.Outcome(), session.Snapshot()
	finish(outcome)

	if writeErr == nil {
		writeErr = printer.Finish(outcome, snapshot)
	}
	if writeErr != nil {
		return writeErr
	}
	return outcomeError(outcome, snapshot)
}

// runStreamJSON emits JSON lines for machine consumers.
func (a *app) runStreamJSON(ctx context.Context, spec runSpec, runID string, options stream.Options, finish func(stream.Outcome)) error {
	emitter := streamjson.NewEmitter(streamjson.NewWriter(a.stdout), runID)
	if err := emitter.Begin(spec.Mode.String(), spec.Target); err != nil {
		return err
	}
	var writeErr error
	options.OnSnapshot = func(snapshot stream.Snapshot) {
		if writeErr == nil {
			writeErr = emitter.Snapshot(snapshot)
		}
	}

	session := stream.NewSurface(options).Start(ctx, runID, spec.Open)
	<-session.Done()
	outcome, snapshot := session.Outcome(), session.Snapshot()
	finish(outcome)

	if writeErr == nil {
		writeErr = emitter.Result(outcome, snapshot)
	}
	if writeErr != nil {
		return writeErr
	}
	return outcomeError(outcome, snapshot)
}
