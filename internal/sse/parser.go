package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Mode selects how a stream's events are interpreted: a job console that
// prints output lines, or a chat agent that accumulates assistant text.
type Mode int

const (
	// ModeConsole reads job output streams.
	ModeConsole Mode = iota
	// ModeChat reads agent chat streams.
	ModeChat
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	switch m {
	case ModeConsole:
		return "console"
	case ModeChat:
		return "chat"
	default:
		return "unknown"
	}
}

// ParseMode resolves a mode name as returned by Mode.String.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "console":
		return ModeConsole, nil
	case "chat":
		return ModeChat, nil
	default:
		return ModeConsole, fmt.Errorf("unknown stream mode %q", name)
	}
}

// Parser turns complete frames into typed events. It is stateless and safe
// for concurrent use.
type Parser struct {
	// Mode picks the wrapped-text event and the meaning of "error" frames.
	Mode Mode
}

// NewParser creates a parser for the given mode.
func NewParser(mode Mode) Parser {
	return Parser{Mode: mode}
}

// Parse converts one frame into an event. It returns false when the frame
// carries no data line. The event type is resolved before the payload:
// clear_streaming ignores its payload, text-bearing types carry an
// undecodable payload as raw text in the mode's wrapped-text event, and any
// other type with a non-object payload becomes Unknown.
func (p Parser) Parse(frame string) (Event, bool) {
	eventType := TypeMessage
	data := ""
	hasData := false
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if value, ok := fieldValue(line, "event"); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				eventType = trimmed
			}
			continue
		}
		// Last data line wins.
		if value, ok := fieldValue(line, "data"); ok {
			data = value
			hasData = true
		}
	}
	if !hasData {
		return nil, false
	}
	if eventType == TypeClearStreaming {
		return ClearStreaming{}, true
	}

	payload := bytes.TrimSpace([]byte(data))
	if len(payload) == 0 || payload[0] != '{' || !json.Valid(payload) {
		if carriesText(eventType) {
			return p.wrap(eventType, data), true
		}
		return Unknown{RawType: eventType, RawPayload: rawPayload(payload)}, true
	}
	event, err := p.decode(eventType, payload)
	if err != nil {
		return p.wrap(eventType, data), true
	}
	return event, true
}

// carriesText reports whether a type's payload is shown as text, so an
// undecodable payload is still worth displaying.
func carriesText(eventType string) bool {
	switch eventType {
	case TypeOutput, TypeError, TypeChunk, TypeMessage:
		return true
	default:
		return false
	}
}

// rawPayload keeps a non-object payload as valid JSON; bare words become
// JSON strings and an empty payload is nil.
func rawPayload(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}

// wrap carries a raw payload as visible text for the parser's mode.
func (p Parser) wrap(eventType string, raw string) Event {
	if p.Mode == ModeChat {
		return TextChunk{Content: raw, Wrapped: true}
	}
	return OutputLine{Text: raw, Origin: eventType, Wrapped: true}
}

// decodeStatus accepts any JSON number for the exit code.
func decodeStatus(payload []byte) (Event, error) {
	var raw struct {
		Status          string   `json:"status"`
		ExitCode        *float64 `json:"exit_code"`
		DurationSeconds *float64 `json:"duration_seconds"`
		Error           *string  `json:"error"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	event := StatusUpdate{Status: raw.Status, DurationSeconds: raw.DurationSeconds, Error: raw.Error}
	if raw.ExitCode != nil {
		exitCode := int(math.Round(*raw.ExitCode))
		event.ExitCode = &exitCode
	}
	return event, nil
}

// decodeToolCall accepts fractional duration and iteration values.
func decodeToolCall(payload []byte) (Event, error) {
	var raw struct {
		Tool          string          `json:"tool"`
		InputSummary  string          `json:"input_summary"`
		InputRaw      json.RawMessage `json:"input_raw"`
		Thinking      string          `json:"thinking"`
		ResultSummary string          `json:"result_summary"`
		DurationMs    float64         `json:"duration_ms"`
		Iteration     float64         `json:"iteration"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	return ToolCall{
		Tool:          raw.Tool,
		InputSummary:  raw.InputSummary,
		InputRaw:      raw.InputRaw,
		Thinking:      raw.Thinking,
		ResultSummary: raw.ResultSummary,
		DurationMs:    int64(math.Round(raw.DurationMs)),
		Iteration:     int(math.Round(raw.Iteration)),
	}, nil
}

func decodeOutput(eventType string, payload []byte) (Event, error) {
	var raw struct {
		Line      *string `json:"line"`
		Text      string  `json:"text"`
		Stream    string  `json:"stream"`
		Timestamp string  `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	text := raw.Text
	if raw.Line != nil {
		text = *raw.Line
	}
	return OutputLine{
		Text:      text,
		Stream:    raw.Stream,
		Timestamp: raw.Timestamp,
		Origin:    eventType,
	}, nil
}

// fieldValue returns the value of an SSE field line. One space after the
// colon is part of the delimiter.
func fieldValue(line string, name string) (string, bool) {
	if !strings.HasPrefix(line, name+":") {
		return "", false
	}
	value := line[len(name)+1:]
	return strings.TrimPrefix(value, " "), true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
