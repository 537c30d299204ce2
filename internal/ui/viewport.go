package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/TimelordUK/tailview/internal/render"
	"github.com/TimelordUK/tailview/internal/session"
)

// Viewport draws a page of lines with a line number gutter.
// It knows nothing about searches or files; the session decides what the
// page holds.
type Viewport struct {
	renderer render.Renderer

	width  int
	height int

	lineNumberStyle lipgloss.Style
	highlightStyle  lipgloss.Style

	showLineNumbers bool

	// highlighted file line, -1 for none
	highlightedLine int
	marks           map[int]rune
}

// NewViewport creates a new viewport
func NewViewport(width, height int) *Viewport {
	return &Viewport{
		width:           width,
		height:          height,
		showLineNumbers: true,
		lineNumberStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		highlightStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		renderer:        render.NewPlainRenderer(0),
		highlightedLine: -1,
	}
}

// SetLineNumberColor sets the gutter colour
func (v *Viewport) SetLineNumberColor(c string) {
	v.lineNumberStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
}

// SetHighlightedLine marks a file line in the gutter (-1 for none)
func (v *Viewport) SetHighlightedLine(line int) {
	v.highlightedLine = line
}

// ClearHighlight removes any line highlight
func (v *Viewport) ClearHighlight() {
	v.highlightedLine = -1
}

// SetMarks shows mark letters in the gutter. marks maps letters to file lines.
func (v *Viewport) SetMarks(marks map[rune]int) {
	v.marks = make(map[int]rune, len(marks))
	for r, line := range marks {
		v.marks[line] = r
	}
}

// SetRenderer sets the line renderer
func (v *Viewport) SetRenderer(r render.Renderer) {
	v.renderer = r
}

// SetSize updates viewport dimensions
func (v *Viewport) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// Height returns the number of rows the viewport shows
func (v *Viewport) Height() int {
	return v.height
}

// SetShowLineNumbers toggles line numbers
func (v *Viewport) SetShowLineNumbers(show bool) {
	v.showLineNumbers = show
}

// Render draws page. totalLines sizes the gutter so it stays put while the
// view changes.
func (v *Viewport) Render(page session.Page, totalLines int) string {
	var builder strings.Builder
	numWidth := len(strconv.Itoa(max(totalLines, 1)))

	rows := min(len(page.Lines), v.height)
	for i := 0; i < rows; i++ {
		line := page.Lines[i]
		if i > 0 {
			builder.WriteString("\n")
		}

		available := v.width
		if v.showLineNumbers {
			num := line.LineNumber()
			marker := " "
			if r, ok := v.marks[line.Info.Index]; ok {
				marker = string(r)
			}
			gutter := fmt.Sprintf("%*d%s", numWidth, num, marker)
			if line.Info.Index == v.highlightedLine {
				builder.WriteString(v.highlightStyle.Render(gutter))
			} else {
				builder.WriteString(v.lineNumberStyle.Render(gutter))
			}
			available -= numWidth + 1
		}

		if m, ok := line.Matches.FirstMatch(); ok && m.Metadata.Icon != "" && available > 2 {
			icon := runewidth.Truncate(m.Metadata.Icon, 2, "")
			icon = runewidth.FillRight(icon, 2)
			builder.WriteString(icon)
			available -= 2
		}
		builder.WriteString(v.renderer.Render(line, available))
	}

	for i := rows; i < v.height; i++ {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(v.lineNumberStyle.Render("~"))
	}
	return builder.String()
}
