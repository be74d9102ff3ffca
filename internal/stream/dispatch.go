package stream

import (
	"strings"

	"github.com/openclaude/jobstream/internal/sse"
)

// Transition mutates state in response to one event.
type Transition func(state *State, event sse.Event)

// Dispatcher routes events to transitions by kind. Kinds without a
// transition are ignored.
type Dispatcher struct {
	// transitions maps event kinds to state changes.
	transitions map[sse.Kind]Transition
}

// NewDispatcher returns a dispatcher with the standard transition table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		transitions: map[sse.Kind]Transition{
			sse.KindOutputLine:     applyOutputLine,
			sse.KindStatusUpdate:   applyStatusUpdate,
			sse.KindTextChunk:      applyTextChunk,
			sse.KindClearStreaming: applyClearStreaming,
			sse.KindToolCall:       applyToolCall,
			sse.KindError:          applyErrorEvent,
		},
	}
}

// Handle replaces the transition for a kind and returns the dispatcher.
// A nil transition makes the kind a no-op.
func (d *Dispatcher) Handle(kind sse.Kind, transition Transition) *Dispatcher {
	if transition == nil {
		delete(d.transitions, kind)
		return d
	}
	d.transitions[kind] = transition
	return d
}

// Apply runs the transition for the event and returns the same state.
func (d *Dispatcher) Apply(state *State, event sse.Event) *State {
	if event == nil {
		return state
	}
	if transition, ok := d.transitions[event.Kind()]; ok {
		transition(state, event)
	}
	return state
}

func applyOutputLine(state *State, event sse.Event) {
	line := event.(sse.OutputLine)
	if line.Stream == "" {
		line.Stream = sse.StreamStdout
		if line.Origin == sse.TypeError {
			line.Stream = sse.StreamStderr
		}
	}
	state.Lines = append(state.Lines, line)
}

// applyStatusUpdate records terminal statuses only; the session is already
// running when the first event arrives.
func applyStatusUpdate(state *State, event sse.Event) {
	update := event.(sse.StatusUpdate)
	switch update.Status {
	case sse.StatusCompleted:
		state.Status = StatusCompleted
	case sse.StatusFailed:
		state.Status = StatusFailed
	default:
		return
	}
	if update.ExitCode != nil {
		state.ExitCode = clonePtr(update.ExitCode)
	}
	if update.DurationSeconds != nil {
		state.DurationSeconds = clonePtr(update.DurationSeconds)
	}
	if update.Error != nil {
		state.ErrorMessage = clonePtr(update.Error)
	}
}

func applyTextChunk(state *State, event sse.Event) {
	state.StreamingText += event.(sse.TextChunk).Content
}

func applyClearStreaming(state *State, _ sse.Event) {
	if strings.TrimSpace(state.StreamingText) != "" {
		state.ThinkingSegments = append(state.ThinkingSegments, state.StreamingText)
	}
	state.StreamingText = ""
}

// applyToolCall appends the step; missing numeric and summary fields are
// already zero values after decoding.
func applyToolCall(state *State, event sse.Event) {
	state.ToolSteps = append(state.ToolSteps, event.(sse.ToolCall))
}

func applyErrorEvent(state *State, event sse.Event) {
	state.StreamingText += "\n\nError: " + event.(sse.ErrorEvent).Message
}
