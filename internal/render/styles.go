// Package render formats stream snapshots for terminals.
package render

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/openclaude/jobstream/internal/sse"
	"github.com/openclaude/jobstream/internal/stream"
)

// maxSummary caps tool input and result summaries.
const maxSummary = 160

// Styles formats individual snapshot items.
type Styles struct {
	// Stdout styles console stdout lines.
	Stdout lipgloss.Style
	// Stderr styles console stderr lines.
	Stderr lipgloss.Style
	// Tool styles the tool name of a step.
	Tool lipgloss.Style
	// Muted styles secondary text such as durations and results.
	Muted lipgloss.Style
	// Reasoning styles thinking segments.
	Reasoning lipgloss.Style
	// Label styles section labels.
	Label lipgloss.Style
	// Success styles completed outcomes.
	Success lipgloss.Style
	// Failure styles failed outcomes.
	Failure lipgloss.Style
}

// NewStyles builds styles bound to a lipgloss renderer, so color is decided
// by the renderer's output rather than the process stdout.
func NewStyles(renderer *lipgloss.Renderer) Styles {
	if renderer == nil {
		renderer = lipgloss.DefaultRenderer()
	}
	return Styles{
		Stdout:    renderer.NewStyle(),
		Stderr:    renderer.NewStyle().Foreground(lipgloss.Color("9")),
		Tool:      renderer.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		Muted:     renderer.NewStyle().Foreground(lipgloss.Color("8")),
		Reasoning: renderer.NewStyle().Foreground(lipgloss.Color("8")).Italic(true),
		Label:     renderer.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		Success:   renderer.NewStyle().Foreground(lipgloss.Color("10")),
		Failure:   renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

// Line formats a console line.
func (s Styles) Line(line sse.OutputLine) string {
	if line.Stream == sse.StreamStderr {
		return s.Stderr.Render(line.Text)
	}
	return s.Stdout.Render(line.Text)
}

// ToolStep formats a tool step as "tool(input) -> result (duration)".
func (s Styles) ToolStep(step sse.ToolCall) string {
	var builder strings.Builder
	builder.WriteString(s.Tool.Render(step.Tool))
	if step.InputSummary != "" {
		builder.WriteString("(" + truncate(step.InputSummary, maxSummary) + ")")
	}
	if step.ResultSummary != "" {
		builder.WriteString(s.Muted.Render(" -> " + truncate(step.ResultSummary, maxSummary)))
	}
	if step.DurationMs > 0 {
		builder.WriteString(s.Muted.Render(fmt.Sprintf(" (%s)", time.Duration(step.DurationMs)*time.Millisecond)))
	}
	return builder.String()
}

// Thinking formats a reasoning segment.
func (s Styles) Thinking(text string) string {
	return s.Reasoning.Render(strings.TrimSpace(text))
}

// Outcome formats the terminal status line of a run.
func (s Styles) Outcome(outcome stream.Outcome, snapshot stream.Snapshot) string {
	var details []string
	if snapshot.ExitCode != nil {
		details = append(details, fmt.Sprintf("exit %d", *snapshot.ExitCode))
	}
	if snapshot.DurationSeconds != nil {
		details = append(details, fmt.Sprintf("%.1fs", *snapshot.DurationSeconds))
	}
	suffix := ""
	if len(details) > 0 {
		suffix = " (" + strings.Join(details, ", ") + ")"
	}

	switch outcome.Kind {
	case stream.OutcomeCompleted:
		return s.Success.Render("completed" + suffix)
	case stream.OutcomeFailed:
		message := outcome.Message
		if message == "" {
			message = "failed"
		}
		return s.Failure.Render("failed: "+message) + suffix
	case stream.OutcomeAborted:
		return s.Muted.Render("cancelled")
	default:
		return s.Muted.Render("running")
	}
}

// truncate shortens text to limit runes, collapsing newlines.
func truncate(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

// IsTerminal reports whether file is attached to a terminal.
func IsTerminal(file *os.File) bool {
	return file != nil && term.IsTerminal(int(file.Fd()))
}

// TerminalWidth returns the terminal width of file, or fallback.
func TerminalWidth(file *os.File, fallback int) int {
	if !IsTerminal(file) {
		return fallback
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}
