package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown renders finalized assistant messages.
type Markdown struct {
	renderer *glamour.TermRenderer
}

// NewMarkdown creates a renderer. style is a glamour standard style name;
// empty or "auto" picks one from the terminal background.
func NewMarkdown(style string, width int) (*Markdown, error) {
	options := []glamour.TermRendererOption{}
	if style == "" || style == "auto" {
		options = append(options, glamour.WithAutoStyle())
	} else {
		options = append(options, glamour.WithStandardStyle(style))
	}
	if width > 0 {
		options = append(options, glamour.WithWordWrap(width))
	}
	renderer, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil, err
	}
	return &Markdown{renderer: renderer}, nil
}

// Render converts markdown into terminal output, returning content
// unchanged when rendering fails or no renderer is configured.
func (m *Markdown) Render(content string) string {
	if m == nil || m.renderer == nil {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}
