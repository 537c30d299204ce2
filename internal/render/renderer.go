package render

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/TimelordUK/tailview/internal/combine"
	"github.com/TimelordUK/tailview/internal/config"
	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/internal/source"
	"github.com/TimelordUK/tailview/pkg/logformat"
)

// Renderer styles a line to fit in width terminal cells
type Renderer interface {
	Render(line source.Line, width int) string
}

// Styles holds the colours derived from the theme
type Styles struct {
	levels   map[logformat.Level]lipgloss.Style
	hues     []lipgloss.Color
	fallback lipgloss.Color
	onHue    lipgloss.Color
}

// NewStyles builds styles from a theme
func NewStyles(theme config.ThemeConfig) Styles {
	s := Styles{
		levels: map[logformat.Level]lipgloss.Style{
			logformat.LevelUnknown: lipgloss.NewStyle(),
			logformat.LevelTrace:   lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Levels.Trace)),
			logformat.LevelDebug:   lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Levels.Debug)),
			logformat.LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Levels.Info)),
			logformat.LevelWarn:    lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Levels.Warn)),
			logformat.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Levels.Error)),
			logformat.LevelFatal:   lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Levels.Fatal)).Bold(true),
		},
		fallback: lipgloss.Color(theme.SearchMatch),
		onHue:    lipgloss.Color("16"),
	}
	for _, h := range theme.Hues {
		s.hues = append(s.hues, lipgloss.Color(h))
	}
	return s
}

// Level returns the foreground style for a log level
func (s Styles) Level(level logformat.Level) lipgloss.Style {
	if st, ok := s.levels[level]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// Hue returns the colour of a search: its own hue when set, otherwise one
// picked from the theme by position.
func (s Styles) Hue(meta search.Metadata) lipgloss.Color {
	if meta.Hue != "" {
		return lipgloss.Color(meta.Hue)
	}
	if len(s.hues) == 0 {
		return s.fallback
	}
	pos := meta.Position
	if pos < 0 {
		pos = 0
	}
	return s.hues[pos%len(s.hues)]
}

// Match returns the style of text highlighted by a search
func (s Styles) Match(meta search.Metadata) lipgloss.Style {
	return lipgloss.NewStyle().Background(s.Hue(meta)).Foreground(s.onHue)
}

// LogLevelRenderer colours lines by log level and paints search matches
// over them.
type LogLevelRenderer struct {
	styles   Styles
	tabWidth int
}

// NewLogLevelRenderer creates a renderer with config
func NewLogLevelRenderer(cfg *config.Config) *LogLevelRenderer {
	return &LogLevelRenderer{
		styles:   NewStyles(cfg.Theme),
		tabWidth: cfg.Display.TabWidth,
	}
}

// Styles returns the renderer's styles
func (r *LogLevelRenderer) Styles() Styles {
	return r.styles
}

// Render applies level styling and match highlighting to a line. The
// highest precedence line-mode match colours the whole line; text-mode
// matches colour only their spans.
func (r *LogLevelRenderer) Render(line source.Line, width int) string {
	base := r.styles.Level(line.Level)
	for _, m := range line.Matches.All() {
		if m.Metadata.Highlight == search.HighlightLine {
			base = r.styles.Match(m.Metadata)
			break
		}
	}
	return draw(fit(r.runs(line.Text, line.Matches, base), width, r.tabWidth))
}

// runs splits text at the edges of text-mode spans. Where spans of
// several searches overlap the one with the highest precedence wins.
func (r *LogLevelRenderer) runs(text string, matches combine.LineMatches, base lipgloss.Style) []run {
	if text == "" {
		return nil
	}
	var owner []int
	for i, m := range matches.All() {
		if len(m.Spans) == 0 {
			continue
		}
		if owner == nil {
			owner = make([]int, len(text))
			for k := range owner {
				owner[k] = -1
			}
		}
		for _, sp := range m.Spans {
			for k := max(sp.Start, 0); k < sp.End && k < len(text); k++ {
				if owner[k] < 0 {
					owner[k] = i
				}
			}
		}
	}
	if owner == nil {
		return []run{{text: text, style: base}}
	}

	all := matches.All()
	var out []run
	start := 0
	for k := 1; k <= len(text); k++ {
		if k < len(text) && owner[k] == owner[start] {
			continue
		}
		style := base
		if o := owner[start]; o >= 0 {
			style = r.styles.Match(all[o].Metadata)
		}
		out = append(out, run{text: text[start:k], style: style})
		start = k
	}
	return out
}

// PlainRenderer renders without styling
type PlainRenderer struct {
	tabWidth int
}

// NewPlainRenderer creates a plain renderer
func NewPlainRenderer(tabWidth int) *PlainRenderer {
	return &PlainRenderer{tabWidth: tabWidth}
}

// Render returns the line text fitted to width
func (r *PlainRenderer) Render(line source.Line, width int) string {
	var out string
	for _, rn := range fit([]run{{text: line.Text}}, width, r.tabWidth) {
		out += rn.text
	}
	return out
}
