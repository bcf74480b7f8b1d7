// Package tui is the interactive terminal front end of a knowledge-base
// session. In the ingest phase each input line is a file path, URL or raw
// text to add; after /done each line is a question.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/session"
	"github.com/54b3r/kbase-go/internal/textutil"
)

// Engine is the TUI-facing subset of the session orchestrator.
type Engine interface {
	IngestSource(ctx context.Context, rawText, sourceRef string) (ingestion.Report, error)
	IngestHandles(ctx context.Context, handles []string) ([]session.SourceOutcome, error)
	DoneIngesting(ctx context.Context) error
	Ask(ctx context.Context, query string, k int) (session.Answer, error)
	ResetSession(ctx context.Context) error
	Stats() session.Stats
}

// Options tunes a Model.
type Options struct {
	// TopK is passed to Ask (0 = session default).
	TopK int
	// Sources are ingested when the program starts.
	Sources []string
}

// Messages produced by background commands.
type (
	ingestedMsg struct {
		outcomes []session.SourceOutcome
		err      error
	}
	askedMsg struct {
		answer session.Answer
		err    error
	}
	phaseMsg struct {
		action string
		err    error
	}
)

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx      context.Context
	engine   Engine
	opts     Options
	input    textinput.Model
	viewport viewport.Model
	answer   *session.Answer
	lines    []string
	status   string
	cursor   int
	busy     bool
	ready    bool
}

// New creates a new TUI model instance.
func New(ctx context.Context, engine Engine, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 0
	m := Model{
		ctx:      ctx,
		engine:   engine,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Add sources, then /done to start asking.",
	}
	m.setPlaceholder()
	return m
}

// Init starts the cursor blink and ingests any startup sources.
func (m Model) Init() tea.Cmd {
	if len(m.opts.Sources) == 0 {
		return textinput.Blink
	}
	return tea.Batch(textinput.Blink, m.ingestHandles(m.opts.Sources))
}

// Update handles key, window and command-result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+phase, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil

	case ingestedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("%d fragments in corpus.", m.engine.Stats().Fragments)
		}
		for _, o := range msg.outcomes {
			if o.Error != "" {
				m.lines = append(m.lines, fmt.Sprintf("✗ %s: %s", o.Source, o.Error))
				continue
			}
			m.lines = append(m.lines, fmt.Sprintf("✓ %s: %d added, %d skipped", o.Source, o.Report.Added, o.Report.Skipped))
			for _, w := range o.Report.Warnings {
				m.lines = append(m.lines, "  ! "+w)
			}
		}
		m.refresh()
		return m, nil

	case askedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("Error (%s): %s", rag.Kind(msg.err), msg.err.Error())
			m.refresh()
			return m, nil
		}
		m.answer = &msg.answer
		m.cursor = 0
		m.status = fmt.Sprintf("Answer for %q (%d fragments). ↑/↓ to browse.", msg.answer.Query, len(msg.answer.Results))
		m.refresh()
		return m, nil

	case phaseMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else if msg.action == "reset" {
			m.answer = nil
			m.lines = nil
			m.status = "New session. Add sources, then /done."
		} else {
			m.status = fmt.Sprintf("Query phase: %d fragments indexed. Ask away.", m.engine.Stats().Fragments)
		}
		m.setPlaceholder()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			return m.submit(line)
		case "down":
			if m.answer != nil && len(m.answer.Results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answer.Results)
				m.refresh()
				return m, nil
			}
		case "up":
			if m.answer != nil && len(m.answer.Results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answer.Results)) % len(m.answer.Results)
				m.refresh()
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit dispatches one entered line.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	switch line {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/done":
		m.busy, m.status = true, "Indexing..."
		return m, m.phaseCmd("done", m.engine.DoneIngesting)
	case "/reset":
		m.busy, m.status = true, "Resetting..."
		return m, m.phaseCmd("reset", m.engine.ResetSession)
	}

	if m.engine.Stats().Phase == session.PhaseQuery {
		m.busy, m.status = true, "Thinking..."
		return m, m.ask(line)
	}
	m.busy, m.status = true, "Ingesting..."
	if looksLikeHandle(line) {
		return m, m.ingestHandles([]string{line})
	}
	return m, m.ingestText(line)
}

func (m Model) ingestHandles(handles []string) tea.Cmd {
	return func() tea.Msg {
		outcomes, err := m.engine.IngestHandles(m.ctx, handles)
		return ingestedMsg{outcomes: outcomes, err: err}
	}
}

func (m Model) ingestText(text string) tea.Cmd {
	return func() tea.Msg {
		rep, err := m.engine.IngestSource(m.ctx, text, "tui")
		if err != nil {
			return ingestedMsg{err: err}
		}
		return ingestedMsg{outcomes: []session.SourceOutcome{{Source: "text", Report: rep}}}
	}
}

func (m Model) ask(query string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.engine.Ask(m.ctx, query, m.opts.TopK)
		return askedMsg{answer: ans, err: err}
	}
}

func (m Model) phaseCmd(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return phaseMsg{action: action, err: fn(m.ctx)}
	}
}

// looksLikeHandle reports whether line names an existing file or a URL
// rather than text to ingest directly.
func looksLikeHandle(line string) bool {
	if extract.IsRemote(line) {
		return true
	}
	if strings.ContainsAny(line, "\n") {
		return false
	}
	_, err := os.Stat(line)
	return err == nil
}

func (m *Model) setPlaceholder() {
	if m.engine.Stats().Phase == session.PhaseQuery {
		m.input.Placeholder = "Ask a question (/reset for a new session)"
	} else {
		m.input.Placeholder = "Path, URL or text to add (/done when finished)"
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.render())
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	st := m.engine.Stats()
	header := headerStyle.Render("kbase")
	phase := dimStyle.Render(fmt.Sprintf("session %s · %s phase · %d fragments", shortID(st.SessionID), st.Phase, st.Fragments))
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + phase + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) render() string {
	if m.answer == nil {
		if len(m.lines) == 0 {
			return "Nothing ingested yet."
		}
		return strings.Join(m.lines, "\n")
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render("Summary"))
	b.WriteString("\n")
	b.WriteString(m.answer.Summary)
	b.WriteString("\n\n")
	if len(m.answer.Results) == 0 {
		b.WriteString(dimStyle.Render(m.answer.Context))
		return b.String()
	}
	r := m.answer.Results[m.cursor]
	fmt.Fprintf(&b, "%s  distance=%.4f  %s\n", labelStyle.Render(fmt.Sprintf("Fragment %d/%d", m.cursor+1, len(m.answer.Results))),
		r.Distance, dimStyle.Render(r.Fragment.SourceRef))
	b.WriteString(highlightMatches(r.Fragment.Text, m.answer.Query))
	return b.String()
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	labelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightMatches renders the words of text that also occur in query.
func highlightMatches(text, query string) string {
	want := map[string]struct{}{}
	for _, t := range textutil.ContentTokens(query) {
		want[t] = struct{}{}
	}
	if len(want) == 0 {
		return text
	}
	words := strings.Fields(text)
	for i, w := range words {
		toks := textutil.Tokens(w)
		if len(toks) == 1 {
			if _, ok := want[toks[0]]; ok {
				words[i] = highlightStyle.Render(w)
			}
		}
	}
	return strings.Join(words, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
