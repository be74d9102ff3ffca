package streamjson

import (
	"strings"
	"time"

	"github.com/openclaude/jobstream/internal/stream"
)

// Emitter converts successive snapshots of one run into incremental
// stream-json events. Snapshots only grow, so the emitter remembers how much
// of each list it has written and emits the remainder.
type Emitter struct {
	// writer emits JSONL events.
	writer *Writer
	// runID scopes events.
	runID string
	// newID generates event UUIDs.
	newID func() string
	// now is the clock used for durations.
	now func() time.Time
	// startedAt is set by Begin.
	startedAt time.Time

	lines    int
	steps    int
	thinking int
	messages int
	// streamed is the streaming text already emitted as deltas.
	streamed string
}

// NewEmitter constructs an emitter for one run.
func NewEmitter(writer *Writer, runID string) *Emitter {
	return &Emitter{writer: writer, runID: runID, newID: NewUUID, now: time.Now}
}

// Begin emits the init event.
func (e *Emitter) Begin(mode string, target string) error {
	e.startedAt = e.now()
	return e.writer.Write(SystemEvent{
		Type:    "system",
		Subtype: "init",
		Mode:    mode,
		Target:  target,
		RunID:   e.runID,
		UUID:    e.newID(),
	})
}

// Snapshot emits everything new in the snapshot since the previous call.
func (e *Emitter) Snapshot(snapshot stream.Snapshot) error {
	for _, line := range snapshot.Lines[min(e.lines, len(snapshot.Lines)):] {
		if err := e.writer.Write(OutputEvent{Type: "output", Line: line, Origin: line.Origin, RunID: e.runID, UUID: e.newID()}); err != nil {
			return err
		}
	}
	e.lines = max(e.lines, len(snapshot.Lines))

	for _, step := range snapshot.ToolSteps[min(e.steps, len(snapshot.ToolSteps)):] {
		if err := e.writer.Write(ToolStepEvent{Type: "tool_step", Step: step, RunID: e.runID, UUID: e.newID()}); err != nil {
			return err
		}
	}
	e.steps = max(e.steps, len(snapshot.ToolSteps))

	for _, segment := range snapshot.ThinkingSegments[min(e.thinking, len(snapshot.ThinkingSegments)):] {
		if err := e.writer.Write(ThinkingEvent{Type: "thinking", Text: segment, RunID: e.runID, UUID: e.newID()}); err != nil {
			return err
		}
	}
	e.thinking = max(e.thinking, len(snapshot.ThinkingSegments))

	if err := e.streamText(snapshot.StreamingText); err != nil {
		return err
	}

	for _, message := range snapshot.Messages[min(e.messages, len(snapshot.Messages)):] {
		if err := e.writer.Write(AssistantEvent{Type: "assistant", Message: message, RunID: e.runID, UUID: e.newID()}); err != nil {
			return err
		}
	}
	e.messages = max(e.messages, len(snapshot.Messages))
	return nil
}

// streamText emits the new suffix of the streaming text, or a stop event
// followed by the full text when the text was reset.
func (e *Emitter) streamText(text string) error {
	if text == e.streamed {
		return nil
	}
	delta := text
	if strings.HasPrefix(text, e.streamed) {
		delta = text[len(e.streamed):]
	} else if e.streamed != "" {
		if err := e.writer.Write(StreamEvent{Type: "stream_event", Event: ContentBlockStopEvent{Type: "content_block_stop"}, RunID: e.runID}); err != nil {
			return err
		}
	}
	e.streamed = text
	if delta == "" {
		return nil
	}
	return e.writer.Write(StreamEvent{
		Type: "stream_event",
		Event: ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Delta: StreamDelta{Type: "text_delta", Text: delta},
		},
		RunID: e.runID,
	})
}

// Result emits the remaining snapshot content and the terminal result.
func (e *Emitter) Result(outcome stream.Outcome, snapshot stream.Snapshot) error {
	if err := e.Snapshot(snapshot); err != nil {
		return err
	}
	result := ResultEvent{
		Type:            "result",
		Subtype:         resultSubtype(outcome.Kind),
		IsError:         outcome.Kind == stream.OutcomeFailed,
		ExitCode:        snapshot.ExitCode,
		DurationSeconds: snapshot.DurationSeconds,
		NumLines:        len(snapshot.Lines),
		NumToolSteps:    len(snapshot.ToolSteps),
		RunID:           e.runID,
		UUID:            e.newID(),
	}
	if !e.startedAt.IsZero() {
		result.DurationMS = e.now().Sub(e.startedAt).Milliseconds()
	}
	if len(snapshot.Messages) > 0 {
		result.Result = snapshot.FinalText()
	}
	if outcome.Kind == stream.OutcomeFailed && outcome.Message != "" {
		result.Errors = []string{outcome.Message}
	}
	return e.writer.Write(result)
}

func resultSubtype(kind stream.OutcomeKind) string {
	switch kind {
	case stream.OutcomeFailed:
		return "error"
	case stream.OutcomeAborted:
		return "aborted"
	default:
		return "success"
	}
}
