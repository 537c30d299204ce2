// Package ui is the terminal front end: a bubbletea program that renders
// the pages a session produces and turns keys into session requests.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/TimelordUK/tailview/internal/config"
	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/internal/session"
	"github.com/TimelordUK/tailview/internal/slice"
	"github.com/TimelordUK/tailview/internal/watch"
)

// Mode represents the current UI mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeFilter
	ModeExclude
	ModeGoto
	ModeExport
	ModeSetMark
	ModeJumpMark
	ModeSource
)

func (m Mode) prompt() string {
	switch m {
	case ModeSearch:
		return "/"
	case ModeFilter:
		return "&"
	case ModeExclude:
		return "!"
	case ModeGoto:
		return ":"
	case ModeExport:
		return "export to: "
	case ModeSetMark:
		return "mark: "
	case ModeJumpMark:
		return "goto mark: "
	case ModeSource:
		return "toggle source: "
	}
	return ""
}

type (
	pageMsg   session.Page
	countsMsg session.Counts
	statusMsg watch.Status
	stateMsg  session.State
	closedMsg struct{}
	exportMsg struct {
		info *slice.Info
		temp bool
		err  error
	}
)

// listen waits for the next value on ch
func listen[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return wrap(v)
	}
}

// SourceSwitch turns the files behind a merged view on and off
type SourceSwitch interface {
	Names() []string
	Enabled(name string) (enabled, ok bool)
	SetEnabled(name string, enabled bool) bool
}

// ModelOptions configure a Model
type ModelOptions struct {
	Session    *session.Session
	Config     *config.Config
	Name       string // shown in the status bar; defaults to the file name
	Regex      bool   // interactive searches are regular expressions
	IgnoreCase bool
	NoTail     bool         // start at the top instead of following the end
	Sources    SourceSwitch // set when several files are merged
	Logger     *slog.Logger
}

// Model is the main application model
type Model struct {
	session *session.Session
	pane    *Pane
	input   textinput.Model
	help    help.Model
	keys    keyMap
	sources SourceSwitch
	logger  *slog.Logger

	statusStyle lipgloss.Style
	noticeStyle lipgloss.Style
	errorStyle  lipgloss.Style

	mode   Mode
	width  int
	height int

	regex      bool
	ignoreCase bool

	notice string
	err    error
}

// NewModel creates the application model for a session
func NewModel(opts ModelOptions) (*Model, error) {
	if opts.Session == nil {
		return nil, errors.New("no session")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ti := textinput.New()
	ti.CharLimit = 256
	ti.Prompt = ""

	pane := NewPane(opts.Session, cfg, opts.Name, logger)
	if opts.NoTail {
		pane.GotoTop()
	}

	return &Model{
		session: opts.Session,
		pane:    pane,
		input:   ti,
		help:    help.New(),
		keys:    newKeyMap(cfg.Keybindings),
		sources: opts.Sources,
		logger:  logger,
		statusStyle: lipgloss.NewStyle().
			Background(lipgloss.Color(cfg.Theme.StatusBar)).
			Foreground(lipgloss.Color(cfg.Theme.StatusBarText)),
		noticeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color(cfg.Theme.LineNumbers)),
		errorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color(cfg.Theme.Levels.Error)),
		regex:       opts.Regex,
		ignoreCase:  opts.IgnoreCase,
		mode:        ModeNormal,
	}, nil
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitPage(),
		m.waitCounts(),
		m.waitStatus(),
		m.waitState(),
	)
}

func (m *Model) waitPage() tea.Cmd {
	return listen(m.session.Lines(), func(p session.Page) tea.Msg { return pageMsg(p) })
}

func (m *Model) waitCounts() tea.Cmd {
	return listen(m.session.Counts(), func(c session.Counts) tea.Msg { return countsMsg(c) })
}

func (m *Model) waitStatus() tea.Cmd {
	return listen(m.session.Status(), func(s watch.Status) tea.Msg { return statusMsg(s) })
}

func (m *Model) waitState() tea.Cmd {
	return listen(m.session.States(), func(s session.State) tea.Msg { return stateMsg(s) })
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		// Reserve 2 lines for status bar and help
		m.pane.SetSize(msg.Width, msg.Height-2)
		return m, nil

	case pageMsg:
		m.pane.SetPage(session.Page(msg))
		return m, m.waitPage()

	case countsMsg:
		m.pane.SetCounts(session.Counts(msg))
		return m, m.waitCounts()

	case statusMsg:
		m.pane.SetStatus(watch.Status(msg))
		return m, m.waitStatus()

	case stateMsg:
		m.pane.SetState(session.State(msg))
		return m, m.waitState()

	case exportMsg:
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			if msg.temp {
				m.pane.KeepTemporary(msg.info)
			}
			m.setNotice(fmt.Sprintf("exported %d lines to %s", msg.info.Lines, msg.info.OutputPath))
		}
		return m, nil

	case closedMsg:
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode != ModeNormal {
		return m.handleInputKey(msg)
	}
	m.notice, m.err = "", nil

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.ScrollDown):
		m.pane.ScrollDown(1)
	case key.Matches(msg, m.keys.ScrollUp):
		m.pane.ScrollUp(1)
	case key.Matches(msg, m.keys.PageDown):
		m.pane.PageDown()
	case key.Matches(msg, m.keys.PageUp):
		m.pane.PageUp()
	case key.Matches(msg, m.keys.Top):
		m.pane.GotoTop()
	case key.Matches(msg, m.keys.Bottom):
		m.pane.GotoBottom()

	case key.Matches(msg, m.keys.Search):
		return m, m.startInput(ModeSearch, "Search...")
	case key.Matches(msg, m.keys.Filter):
		return m, m.startInput(ModeFilter, "Show only lines matching...")
	case key.Matches(msg, m.keys.Exclude):
		return m, m.startInput(ModeExclude, "Hide lines matching...")
	case key.Matches(msg, m.keys.Goto):
		return m, m.startInput(ModeGoto, "Line, $, +N, 'a or 13:00...")
	case key.Matches(msg, m.keys.Export):
		return m, m.startInput(ModeExport, "Path (empty for a temp file)...")
	case key.Matches(msg, m.keys.Source):
		if m.sources == nil {
			m.setNotice("only one file")
			return m, nil
		}
		return m, m.startInput(ModeSource, strings.Join(m.sources.Names(), ", "))
	case key.Matches(msg, m.keys.SetMark):
		m.mode = ModeSetMark
	case key.Matches(msg, m.keys.JumpMark):
		m.mode = ModeJumpMark

	case key.Matches(msg, m.keys.NextMatch):
		if !m.pane.NextMatch(false) {
			m.setNotice("no match")
		}
	case key.Matches(msg, m.keys.PrevMatch):
		if !m.pane.NextMatch(true) {
			m.setNotice("no match")
		}
	case key.Matches(msg, m.keys.ClearSearch):
		m.pane.ClearSearches()
	case key.Matches(msg, m.keys.NextView):
		if v := m.pane.CycleView(); v != "" {
			m.setNotice("showing lines matching " + v)
		}
	case key.Matches(msg, m.keys.LevelFilter):
		if f := m.pane.CycleLevels(); f.Active() {
			m.setNotice("levels: " + f.Key())
		} else {
			m.setNotice("all levels")
		}
	}

	return m, nil
}

func (m *Model) startInput(mode Mode, placeholder string) tea.Cmd {
	m.mode = mode
	m.input.SetValue("")
	m.input.Placeholder = placeholder
	m.input.Focus()
	return textinput.Blink
}

func (m *Model) endInput() {
	m.mode = ModeNormal
	m.input.Blur()
}

func (m *Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == ModeSetMark || m.mode == ModeJumpMark {
		return m.handleMarkKey(msg)
	}

	switch msg.String() {
	case "enter":
		mode, value := m.mode, m.input.Value()
		m.endInput()
		return m, m.submit(mode, value)

	case "esc", "ctrl+c":
		m.endInput()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleMarkKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	mode := m.mode
	m.mode = ModeNormal
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return m, nil
	}
	r := msg.Runes[0]
	if r < 'a' || r > 'z' {
		m.setError(fmt.Errorf("marks are a-z"))
		return m, nil
	}
	if mode == ModeSetMark {
		if m.pane.SetMark(r) {
			m.setNotice(fmt.Sprintf("mark %c set", r))
		}
		return m, nil
	}
	if !m.pane.JumpToMark(r) {
		m.setError(fmt.Errorf("mark %c not set", r))
	}
	return m, nil
}

// submit acts on a completed prompt
func (m *Model) submit(mode Mode, value string) tea.Cmd {
	switch mode {
	case ModeSearch, ModeFilter, ModeExclude:
		if strings.TrimSpace(value) == "" {
			return nil
		}
		meta := search.Metadata{
			Text:       value,
			UseRegex:   m.regex,
			IgnoreCase: m.ignoreCase,
			Highlight:  search.HighlightText,
			Position:   search.AutoPosition,
		}
		switch mode {
		case ModeFilter:
			meta.Filter = true
		case ModeExclude:
			meta.Filter = true
			meta.IsExclusion = true
			meta.Highlight = search.HighlightNone
		}
		if err := m.pane.AddSearch(meta); err != nil {
			m.setError(err)
		}

	case ModeGoto:
		if err := m.pane.Goto(value); err != nil {
			m.setError(err)
		}

	case ModeSource:
		if err := m.toggleSource(strings.TrimSpace(value)); err != nil {
			m.setError(err)
		}

	case ModeExport:
		path := strings.TrimSpace(value)
		pane := m.pane
		return func() tea.Msg {
			info, err := pane.Export(context.Background(), path)
			return exportMsg{info: info, temp: path == "", err: err}
		}
	}
	return nil
}

// toggleSource flips one merged file on or off. Lines the file writes while
// it is off are not shown later.
func (m *Model) toggleSource(name string) error {
	if name == "" {
		return nil
	}
	enabled, ok := m.sources.Enabled(name)
	if !ok {
		return fmt.Errorf("unknown source %q", name)
	}
	m.sources.SetEnabled(name, !enabled)
	if enabled {
		m.setNotice(name + " paused")
	} else {
		m.setNotice(name + " resumed")
	}
	return nil
}

func (m *Model) setNotice(s string) {
	m.notice, m.err = s, nil
}

func (m *Model) setError(err error) {
	m.logger.Debug("ui error", slog.Any("error", err))
	m.notice, m.err = "", err
}

// View implements tea.Model
func (m *Model) View() string {
	var builder strings.Builder

	builder.WriteString(m.pane.Render())
	builder.WriteString("\n")

	var status string
	if m.mode != ModeNormal {
		status = m.mode.prompt() + m.input.View()
	} else {
		status = m.pane.StatusLine()
	}
	builder.WriteString(m.statusStyle.Width(m.width).MaxWidth(max(m.width, 1)).Render(status))
	builder.WriteString("\n")

	switch {
	case m.err != nil:
		builder.WriteString(m.errorStyle.Render("error: " + m.err.Error()))
	case m.notice != "":
		builder.WriteString(m.noticeStyle.Render(m.notice))
	default:
		builder.WriteString(m.help.View(m.keys))
	}
	return builder.String()
}

// Close cleans up resources. The session is closed by its owner.
func (m *Model) Close() error {
	m.pane.Close()
	return nil
}
