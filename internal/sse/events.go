package sse

import "encoding/json"

// Kind identifies the variant of a parsed stream event.
type Kind string

const (
	// KindOutputLine is a console output line.
	KindOutputLine Kind = "output_line"
	// KindStatusUpdate reports job status and exit metadata.
	KindStatusUpdate Kind = "status_update"
	// KindTextChunk carries a piece of assistant text.
	KindTextChunk Kind = "text_chunk"
	// KindToolCall describes a completed agent tool invocation.
	KindToolCall Kind = "tool_call"
	// KindClearStreaming freezes the current text as a thinking segment.
	KindClearStreaming Kind = "clear_streaming"
	// KindError is an in-band error message shown inline in chat mode.
	KindError Kind = "error"
	// KindUnknown wraps event types the client does not recognize.
	KindUnknown Kind = "unknown"
)

// Wire event type names carried on the "event:" line.
const (
	TypeOutput         = "output"
	TypeError          = "error"
	TypeStatus         = "status"
	TypeChunk          = "chunk"
	TypeToolCall       = "tool_call"
	TypeClearStreaming = "clear_streaming"
	// TypeMessage is the implicit type of a frame without an "event:" line.
	TypeMessage = "message"
)

// Stream tags for console output lines.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Status values reported by the backend.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is a typed event parsed from exactly one frame.
type Event interface {
	// Kind reports the event variant.
	Kind() Kind
}

// OutputLine is a single line of job console output.
type OutputLine struct {
	// Text is the line content.
	Text string `json:"line"`
	// Stream is stdout or stderr; empty when the payload omitted it.
	Stream string `json:"stream,omitempty"`
	// Timestamp is the backend timestamp, when sent.
	Timestamp string `json:"timestamp,omitempty"`
	// Origin is the wire event type the line was parsed from.
	Origin string `json:"-"`
	// Wrapped reports that the payload was not JSON and was carried as raw text.
	Wrapped bool `json:"-"`
}

// StatusUpdate reports job status. Nil fields were absent from the payload.
type StatusUpdate struct {
	Status          string   `json:"status"`
	ExitCode        *int     `json:"exit_code,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Error           *string  `json:"error,omitempty"`
}

// TextChunk carries streamed assistant text.
type TextChunk struct {
	// Content is appended to the streaming text.
	Content string `json:"content"`
	// Wrapped reports that the payload was not JSON and was carried as raw text.
	Wrapped bool `json:"-"`
}

// ToolCall describes one tool invocation performed by the agent.
type ToolCall struct {
	Tool          string          `json:"tool"`
	InputSummary  string          `json:"input_summary,omitempty"`
	InputRaw      json.RawMessage `json:"input_raw,omitempty"`
	Thinking      string          `json:"thinking,omitempty"`
	ResultSummary string          `json:"result_summary,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	Iteration     int             `json:"iteration"`
}

// ClearStreaming signals that accumulated text was reasoning, not the answer.
type ClearStreaming struct{}

// ErrorEvent is an in-band error message; it does not end the stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Unknown is an event whose type the client does not handle, or a status or
// tool_call frame whose payload is not a JSON object.
type Unknown struct {
	RawType    string
	RawPayload json.RawMessage
}

func (OutputLine) Kind() Kind     { return KindOutputLine }
func (StatusUpdate) Kind() Kind   { return KindStatusUpdate }
func (TextChunk) Kind() Kind      { return KindTextChunk }
func (ToolCall) Kind() Kind       { return KindToolCall }
func (ClearStreaming) Kind() Kind { return KindClearStreaming }
func (ErrorEvent) Kind() Kind     { return KindError }
func (Unknown) Kind() Kind        { return KindUnknown }

// IsWrapped reports whether the event carries a raw, non-JSON payload.
func IsWrapped(event Event) bool {
	switch typed := event.(type) {
	case OutputLine:
		return typed.Wrapped
	case TextChunk:
		return typed.Wrapped
	default:
		return false
	}
}
