package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/openclaude/jobstream/internal/config"
	"github.com/openclaude/jobstream/internal/render"
	"github.com/openclaude/jobstream/internal/sse"
	"github.com/openclaude/jobstream/internal/stream"
)

// snapshotMsg carries a session snapshot into the viewer loop.
type snapshotMsg struct {
	// Snapshot is the latest published state.
	Snapshot stream.Snapshot
}

// sessionDoneMsg signals the session resolved.
type sessionDoneMsg struct {
	// Outcome is the terminal outcome.
	Outcome stream.Outcome
	// Snapshot is the final state.
	Snapshot stream.Snapshot
}

// sessionControl is the part of a Surface the viewer drives.
type sessionControl interface {
	Cancel()
	Clear()
}

// viewerModel renders a live session in the terminal.
type viewerModel struct {
	// control cancels or clears the active session.
	control sessionControl
	// mode selects console or chat layout.
	mode sse.Mode
	// target is shown in the header.
	target string
	// styles format snapshot items.
	styles render.Styles
	// markdown renders finalized messages; nil for raw text.
	markdown *render.Markdown
	// rendered caches markdown output per message index.
	rendered map[int]string
	// spinner animates while the run is active.
	spinner spinner.Model
	// view scrolls the run content.
	view viewport.Model
	// updates delivers snapshot and done messages.
	updates <-chan tea.Msg
	// snapshot is the latest state.
	snapshot stream.Snapshot
	// outcome is set once the session resolved.
	outcome *stream.Outcome
	// cancelling is set after the first ctrl+c.
	cancelling bool
	// autoScroll keeps the viewport pinned to the bottom.
	autoScroll bool
	// width tracks the terminal width.
	width int
}

func newViewerModel(control sessionControl, spec runSpec, styles render.Styles, markdown *render.Markdown, updates <-chan tea.Msg) *viewerModel {
	return &viewerModel{
		control:    control,
		mode:       spec.Mode,
		target:     spec.Target,
		styles:     styles,
		markdown:   markdown,
		rendered:   map[int]string{},
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		view:       viewport.New(defaultWidth, 20),
		updates:    updates,
		autoScroll: true,
	}
}

// Init starts the spinner and the update listener.
func (m *viewerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen waits for the next session message.
func (m *viewerModel) listen() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	updates := m.updates
	return func() tea.Msg {
		msg, ok := <-updates
		if !ok {
			return nil
		}
		return msg
	}
}

// Update handles keys, window changes and session updates.
func (m *viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.view.Width = typed.Width
		m.view.Height = max(3, typed.Height-2)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case snapshotMsg:
		m.snapshot = typed.Snapshot
		m.refresh()
		return m, m.listen()
	case sessionDoneMsg:
		m.snapshot = typed.Snapshot
		outcome := typed.Outcome
		m.outcome = &outcome
		m.refresh()
		return m, tea.Quit
	case spinner.TickMsg:
		if m.outcome != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}
	return m, nil
}

// handleKey maps keys to session control and scrolling.
func (m *viewerModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		if m.outcome != nil || m.cancelling {
			return m, tea.Quit
		}
		m.cancelling = true
		m.control.Cancel()
		return m, nil
	case "ctrl+l":
		if m.outcome == nil {
			m.cancelling = true
			m.control.Clear()
		}
		return m, nil
	case "q", "esc":
		if m.outcome != nil {
			return m, tea.Quit
		}
		return m, nil
	case "up":
		m.autoScroll = false
		m.view.LineUp(1)
	case "down":
		m.view.LineDown(1)
	case "pgup":
		m.autoScroll = false
		m.view.LineUp(m.view.Height)
	case "pgdown":
		m.view.LineDown(m.view.Height)
	case "home":
		m.autoScroll = false
		m.view.GotoTop()
	case "end":
		m.autoScroll = true
		m.view.GotoBottom()
	}
	if m.view.AtBottom() {
		m.autoScroll = true
	}
	return m, nil
}

// refresh rebuilds the viewport content from the snapshot.
func (m *viewerModel) refresh() {
	m.view.SetContent(m.content())
	if m.autoScroll {
		m.view.GotoBottom()
	}
}

// content renders the snapshot body.
func (m *viewerModel) content() string {
	var blocks []string
	for _, line := range m.snapshot.Lines {
		blocks = append(blocks, m.styles.Line(line))
	}
	for _, segment := range m.snapshot.ThinkingSegments {
		blocks = append(blocks, m.styles.Thinking(segment))
	}
	for _, step := range m.snapshot.ToolSteps {
		blocks = append(blocks, m.styles.ToolStep(step))
	}
	for index, message := range m.snapshot.Messages {
		rendered, ok := m.rendered[index]
		if !ok {
			rendered = m.markdown.Render(message.Content)
			m.rendered[index] = rendered
		}
		blocks = append(blocks, m.styles.Label.Render("assistant:")+"\n"+rendered)
	}
	if m.snapshot.StreamingText != "" {
		blocks = append(blocks, m.snapshot.StreamingText+"▍")
	}
	if len(blocks) == 0 && m.outcome == nil {
		return m.styles.Muted.Render("Waiting for output...")
	}
	return strings.Join(blocks, "\n")
}

// View renders the header, body and status line.
func (m *viewerModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("jobstream | %s | %s", m.mode, m.target))
	return lipgloss.JoinVertical(lipgloss.Left, header, m.view.View(), m.status())
}

// status renders the bottom line.
func (m *viewerModel) status() string {
	if m.outcome != nil {
		return m.styles.Outcome(*m.outcome, m.snapshot)
	}
	text := "running | ctrl+c: cancel | ctrl+l: clear | pgup/pgdown: scroll"
	if m.cancelling {
		text = "cancelling... | ctrl+c: quit"
	}
	return m.spinner.View() + " " + m.styles.Muted.Render(text)
}

// runViewer shows the live viewer and prints the final content once the
// session resolves.
func (a *app) runViewer(ctx context.Context, spec runSpec, runID string, options stream.Options, settings *config.Settings, finish func(stream.Outcome)) error {
	width := render.TerminalWidth(os.Stdout, defaultWidth)
	markdown := a.markdown(spec, settings, width-2)
	updates := make(chan tea.Msg, 64)
	viewerDone := make(chan struct{})
	options.OnSnapshot = func(snapshot stream.Snapshot) {
		select {
		case updates <- snapshotMsg{Snapshot: snapshot}:
		case <-viewerDone:
		}
	}

	surface := stream.NewSurface(options)
	model := newViewerModel(surface, spec, render.NewStyles(lipgloss.NewRenderer(a.stdout)), markdown, updates)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithInput(a.stdin), tea.WithOutput(a.stdout))
	session := surface.Start(ctx, runID, spec.Open)

	var group errgroup.Group
	group.Go(func() error {
		defer close(viewerDone)
		_, err := program.Run()
		// Leaving the viewer early cancels the run.
		surface.Cancel()
		return err
	})
	group.Go(func() error {
		<-session.Done()
		select {
		case updates <- sessionDoneMsg{Outcome: session.Outcome(), Snapshot: session.Snapshot()}:
		case <-viewerDone:
		}
		return nil
	})
	viewerErr := group.Wait()

	outcome, snapshot := session.Outcome(), session.Snapshot()
	finish(outcome)
	printer := render.NewPrinter(a.stdout, markdown)
	if err := printer.Finish(outcome, snapshot); err != nil {
		return err
	}
	if viewerErr != nil {
		return fmt.Errorf("run viewer: %w", viewerErr)
	}
	return outcomeError(outcome, snapshot)
}
