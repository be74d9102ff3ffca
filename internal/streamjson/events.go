// Package streamjson renders stream session snapshots as JSON Lines for
// machine consumers.
package streamjson

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/openclaude/jobstream/internal/sse"
	"github.com/openclaude/jobstream/internal/stream"
)

// SystemEvent opens a run.
type SystemEvent struct {
	// Type is always "system".
	Type string `json:"type"`
	// Subtype is "init".
	Subtype string `json:"subtype"`
	// Mode is console or chat.
	Mode string `json:"mode"`
	// Target is the job id, chat path or replay source.
	Target string `json:"target,omitempty"`
	// RunID scopes the event to a run.
	RunID string `json:"run_id"`
	// UUID uniquely identifies the event.
	UUID string `json:"uuid"`
}

// OutputEvent carries one console line.
type OutputEvent struct {
	// Type is always "output".
	Type string `json:"type"`
	// Line is the console line.
	Line sse.OutputLine `json:"line"`
	// Origin is set for lines wrapped from non-JSON payloads.
	Origin string `json:"origin,omitempty"`
	RunID  string `json:"run_id"`
	UUID   string `json:"uuid"`
}

// ToolStepEvent carries one completed tool step.
type ToolStepEvent struct {
	// Type is always "tool_step".
	Type  string       `json:"type"`
	Step  sse.ToolCall `json:"step"`
	RunID string       `json:"run_id"`
	UUID  string       `json:"uuid"`
}

// ThinkingEvent carries one reasoning segment.
type ThinkingEvent struct {
	// Type is always "thinking".
	Type  string `json:"type"`
	Text  string `json:"text"`
	RunID string `json:"run_id"`
	UUID  string `json:"uuid"`
}

// AssistantEvent carries a finalized assistant message.
type AssistantEvent struct {
	// Type is always "assistant".
	Type    string         `json:"type"`
	Message stream.Message `json:"message"`
	RunID   string         `json:"run_id"`
	UUID    string         `json:"uuid"`
}

// StreamEvent wraps an incremental text event.
type StreamEvent struct {
	// Type is always "stream_event".
	Type  string `json:"type"`
	Event any    `json:"event"`
	RunID string `json:"run_id"`
}

// ContentBlockDeltaEvent appends streamed text.
type ContentBlockDeltaEvent struct {
	// Type is "content_block_delta".
	Type  string      `json:"type"`
	Delta StreamDelta `json:"delta"`
}

// StreamDelta is a text delta.
type StreamDelta struct {
	// Type is "text_delta".
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentBlockStopEvent marks that streamed text was reset.
type ContentBlockStopEvent struct {
	// Type is "content_block_stop".
	Type string `json:"type"`
}

// ResultEvent is the terminal line of a run.
type ResultEvent struct {
	// Type is always "result".
	Type string `json:"type"`
	// Subtype is success, error or aborted.
	Subtype string `json:"subtype"`
	// IsError reports whether the run failed.
	IsError bool `json:"is_error"`
	// DurationMS is the client-observed runtime.
	DurationMS int64 `json:"duration_ms"`
	// Result is the final assistant text in chat mode.
	Result string `json:"result,omitempty"`
	// ExitCode is the job's exit code when reported.
	ExitCode *int `json:"exit_code,omitempty"`
	// DurationSeconds is the server-reported job duration.
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	// NumLines counts console lines.
	NumLines int `json:"num_lines"`
	// NumToolSteps counts tool steps.
	NumToolSteps int `json:"num_tool_steps"`
	// Errors holds the failure message for error subtypes.
	Errors []string `json:"errors,omitempty"`
	RunID  string   `json:"run_id"`
	UUID   string   `json:"uuid"`
}

// Writer emits stream-json events as JSON Lines.
type Writer struct {
	writer io.Writer
}

// NewWriter constructs a stream-json writer.
func NewWriter(writer io.Writer) *Writer {
	return &Writer{writer: writer}
}

// Write emits a single event as a JSON line.
func (w *Writer) Write(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream-json event: %w", err)
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write stream-json event: %w", err)
	}
	return nil
}

// NewUUID returns a new UUID string for stream-json events.
func NewUUID() string {
	return uuid.NewString()
}
