package render

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/openclaude/jobstream/internal/stream"
)

// Printer writes snapshot content as plain scrolling output. Each item is
// printed once, when it first appears; streaming text is left to the
// interactive viewer and only finalized messages are printed.
type Printer struct {
	out      io.Writer
	styles   Styles
	markdown *Markdown

	lines    int
	steps    int
	thinking int
	messages int
}

// NewPrinter creates a printer. markdown may be nil for raw message text.
func NewPrinter(out io.Writer, markdown *Markdown) *Printer {
	return &Printer{
		out:      out,
		styles:   NewStyles(lipgloss.NewRenderer(out)),
		markdown: markdown,
	}
}

// Snapshot prints everything new since the previous snapshot.
func (p *Printer) Snapshot(snapshot stream.Snapshot) error {
	for _, line := range snapshot.Lines[min(p.lines, len(snapshot.Lines)):] {
		if err := p.println(p.styles.Line(line)); err != nil {
			return err
		}
	}
	p.lines = max(p.lines, len(snapshot.Lines))

	for _, segment := range snapshot.ThinkingSegments[min(p.thinking, len(snapshot.ThinkingSegments)):] {
		if err := p.println(p.styles.Thinking(segment)); err != nil {
			return err
		}
	}
	p.thinking = max(p.thinking, len(snapshot.ThinkingSegments))

	for _, step := range snapshot.ToolSteps[min(p.steps, len(snapshot.ToolSteps)):] {
		if err := p.println(p.styles.ToolStep(step)); err != nil {
			return err
		}
	}
	p.steps = max(p.steps, len(snapshot.ToolSteps))

	for _, message := range snapshot.Messages[min(p.messages, len(snapshot.Messages)):] {
		if err := p.println(p.markdown.Render(message.Content)); err != nil {
			return err
		}
	}
	p.messages = max(p.messages, len(snapshot.Messages))
	return nil
}

// Finish prints remaining content and the outcome line.
func (p *Printer) Finish(outcome stream.Outcome, snapshot stream.Snapshot) error {
	if err := p.Snapshot(snapshot); err != nil {
		return err
	}
	return p.println(p.styles.Outcome(outcome, snapshot))
}

func (p *Printer) println(text string) error {
	if _, err := fmt.Fprintln(p.out, text); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
