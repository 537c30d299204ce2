package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	ellipsis        = "…"
	defaultTabWidth = 4
)

// run is a piece of a line drawn in one style
type run struct {
	text  string
	style lipgloss.Style
}

// expandTabs replaces each tab with spaces up to the next tab stop. col is
// the cell the text starts at; the returned width is in cells.
func expandTabs(s string, col, tabWidth int) (string, int) {
	if tabWidth <= 0 {
		tabWidth = defaultTabWidth
	}
	if !strings.ContainsRune(s, '\t') {
		return s, runewidth.StringWidth(s)
	}
	var b strings.Builder
	w := 0
	for _, r := range s {
		if r == '\t' {
			n := tabWidth - (col+w)%tabWidth
			b.WriteString(strings.Repeat(" ", n))
			w += n
			continue
		}
		b.WriteRune(r)
		w += runewidth.RuneWidth(r)
	}
	return b.String(), w
}

// fit expands tabs and cuts runs to at most width cells. When text is cut
// the last cell shows an ellipsis in the style of the run it ends.
func fit(runs []run, width, tabWidth int) []run {
	if width <= 0 {
		return nil
	}
	expanded := make([]run, 0, len(runs))
	total := 0
	for _, r := range runs {
		text, w := expandTabs(r.text, total, tabWidth)
		expanded = append(expanded, run{text: text, style: r.style})
		total += w
	}
	if total <= width {
		return expanded
	}

	budget := width - runewidth.StringWidth(ellipsis)
	out := make([]run, 0, len(expanded))
	for _, r := range expanded {
		if budget <= 0 {
			break
		}
		w := runewidth.StringWidth(r.text)
		if w > budget {
			r.text = runewidth.Truncate(r.text, budget, "")
			w = budget
		}
		out = append(out, r)
		budget -= w
	}
	if len(out) == 0 {
		return []run{{text: ellipsis, style: expanded[0].style}}
	}
	last := &out[len(out)-1]
	last.text += ellipsis
	return out
}

// draw renders runs and joins them
func draw(runs []run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.style.Render(r.text))
	}
	return b.String()
}
