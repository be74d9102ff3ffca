package stream

import (
	"strings"

	"github.com/openclaude/jobstream/internal/sse"
)

// noResponseMessage is finalized when a chat stream ends without output.
const noResponseMessage = "No response received."

// Accumulator folds parsed events into State.
type Accumulator struct {
	// state is the projection owned by one session.
	state State
	// dispatcher maps events to transitions.
	dispatcher *Dispatcher
	// applied counts events applied since the last reset.
	applied int
}

// NewAccumulator creates an idle accumulator. A nil dispatcher uses the
// standard transition table.
func NewAccumulator(mode sse.Mode, dispatcher *Dispatcher) *Accumulator {
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &Accumulator{
		state:      newState(mode),
		dispatcher: dispatcher,
	}
}

// Start resets every field and marks the state running.
func (acc *Accumulator) Start() {
	acc.state = newState(acc.state.Mode)
	acc.state.Status = StatusRunning
	acc.applied = 0
}

// Apply ingests one event.
func (acc *Accumulator) Apply(event sse.Event) {
	acc.dispatcher.Apply(&acc.state, event)
	acc.applied++
}

// FinalizeMessage folds pending streaming text into the message list. It
// reports whether a message was added.
func (acc *Accumulator) FinalizeMessage() bool {
	text := acc.state.StreamingText
	acc.state.StreamingText = ""
	if strings.TrimSpace(text) == "" {
		return false
	}
	acc.state.Messages = append(acc.state.Messages, Message{Role: "assistant", Content: text})
	return true
}

// DiscardPending drops streaming text without finalizing it.
func (acc *Accumulator) DiscardPending() {
	acc.state.StreamingText = ""
}

// Fail marks the state failed with a message, keeping accumulated output.
func (acc *Accumulator) Fail(message string) {
	acc.state.Status = StatusFailed
	acc.state.ErrorMessage = &message
}

// complete marks a stream that ended without a status event as completed.
// Chat streams that produced nothing get a fallback message.
func (acc *Accumulator) complete() {
	acc.state.Status = StatusCompleted
	if acc.state.Mode != sse.ModeChat {
		return
	}
	if len(acc.state.Messages) == 0 && len(acc.state.ToolSteps) == 0 && len(acc.state.ThinkingSegments) == 0 {
		acc.state.Messages = append(acc.state.Messages, Message{Role: "assistant", Content: noResponseMessage})
	}
}

// Status returns the current status.
func (acc *Accumulator) Status() Status {
	return acc.state.Status
}

// ErrorMessage returns the reported error, if any.
func (acc *Accumulator) ErrorMessage() string {
	if acc.state.ErrorMessage == nil {
		return ""
	}
	return *acc.state.ErrorMessage
}

// Applied returns the number of events applied since Start.
func (acc *Accumulator) Applied() int {
	return acc.applied
}

// State returns a deep copy of the current state.
func (acc *Accumulator) State() State {
	return acc.state.clone()
}
