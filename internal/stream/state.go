package stream

import (
	"slices"

	"github.com/openclaude/jobstream/internal/sse"
)

// Status is the lifecycle status of the accumulated state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Message is a finalized assistant message.
type Message struct {
	// Role is "assistant" for streamed answers.
	Role string `json:"role"`
	// Content is the final message text.
	Content string `json:"content"`
}

// State is the UI-facing projection of one session's events. Console streams
// fill Lines; chat streams fill StreamingText, Messages and ThinkingSegments.
// Nil scalar fields were never reported.
type State struct {
	Mode             sse.Mode         `json:"-"`
	Lines            []sse.OutputLine `json:"lines,omitempty"`
	StreamingText    string           `json:"streaming_text,omitempty"`
	Messages         []Message        `json:"messages,omitempty"`
	ThinkingSegments []string         `json:"thinking_segments,omitempty"`
	ToolSteps        []sse.ToolCall   `json:"tool_steps,omitempty"`
	Status           Status           `json:"status"`
	ExitCode         *int             `json:"exit_code,omitempty"`
	DurationSeconds  *float64         `json:"duration_seconds,omitempty"`
	ErrorMessage     *string          `json:"error_message,omitempty"`
}

// Snapshot is an immutable copy of State published to observers.
type Snapshot struct {
	State
	// RunID identifies the session that produced the snapshot.
	RunID string `json:"run_id"`
	// Applied counts events applied so far.
	Applied int `json:"applied"`
}

// newState returns an idle state for the mode.
func newState(mode sse.Mode) State {
	return State{Mode: mode, Status: StatusIdle}
}

// clone deep-copies the state so it can cross goroutines.
func (s *State) clone() State {
	copied := *s
	copied.Lines = slices.Clone(s.Lines)
	copied.Messages = slices.Clone(s.Messages)
	copied.ThinkingSegments = slices.Clone(s.ThinkingSegments)
	copied.ToolSteps = make([]sse.ToolCall, len(s.ToolSteps))
	for i, step := range s.ToolSteps {
		step.InputRaw = slices.Clone(step.InputRaw)
		copied.ToolSteps[i] = step
	}
	if s.ToolSteps == nil {
		copied.ToolSteps = nil
	}
	copied.ExitCode = clonePtr(s.ExitCode)
	copied.DurationSeconds = clonePtr(s.DurationSeconds)
	copied.ErrorMessage = clonePtr(s.ErrorMessage)
	return copied
}

func clonePtr[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// FinalText returns the last finalized message, or the pending text when
// nothing was finalized yet.
func (s State) FinalText() string {
	if len(s.Messages) > 0 {
		return s.Messages[len(s.Messages)-1].Content
	}
	return s.StreamingText
}
