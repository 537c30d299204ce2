package ui

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/TimelordUK/tailview/internal/config"
	"github.com/TimelordUK/tailview/internal/render"
	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/internal/session"
	"github.com/TimelordUK/tailview/internal/slice"
	"github.com/TimelordUK/tailview/internal/source"
	"github.com/TimelordUK/tailview/internal/view"
	"github.com/TimelordUK/tailview/internal/watch"
	"github.com/TimelordUK/tailview/pkg/logformat"
)

// lookahead is how far past a line without a timestamp GotoTime looks
const lookahead = 32

// levelSteps is the cycle of level filters, from everything to errors only
var levelSteps = []logformat.LevelFilter{
	nil,
	logformat.LevelAndAbove(logformat.LevelDebug),
	logformat.LevelAndAbove(logformat.LevelInfo),
	logformat.LevelAndAbove(logformat.LevelWarn),
	logformat.LevelAndAbove(logformat.LevelError),
}

// Pane is the view of one session: what is on screen and where the user
// has scrolled to. The session does the work; the pane turns keys into
// requests and remembers the latest answers.
type Pane struct {
	session  *session.Session
	viewport *Viewport
	slicer   *slice.Slicer
	loader   *source.Materializer
	name     string
	logger   *slog.Logger

	req    view.ScrollRequest
	page   session.Page
	counts session.Counts
	status watch.Status
	state  session.State

	// Marks (a-z) store file line numbers
	marks map[rune]int

	// result position of the last jump, -1 for none
	cursor     int
	lastSearch string
	levelStep  int

	// temporary exports removed on Close
	exports []*slice.Info
}

// NewPane creates a pane for a session
func NewPane(sess *session.Session, cfg *config.Config, name string, logger *slog.Logger) *Pane {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = filepath.Base(sess.Path())
	}

	viewport := NewViewport(80, 24)
	viewport.SetShowLineNumbers(cfg.Display.ShowLineNumbers)
	viewport.SetLineNumberColor(cfg.Theme.LineNumbers)
	viewport.SetRenderer(render.New(sess.Path(), cfg.Display.Syntax, render.NewLogLevelRenderer(cfg)))

	// Exports and time lookups get their own loader so they never evict
	// the page on screen
	loader := source.NewMaterializer(source.Options{
		Decoder:    sess.Decoder(),
		Timestamps: logformat.NewTimestampParser(),
		Logger:     logger,
	})

	return &Pane{
		session:  sess,
		viewport: viewport,
		slicer:   slice.NewSlicer(loader, logger),
		loader:   loader,
		name:     name,
		logger:   logger.With(slog.String("component", "ui")),
		req:      view.TailRequest(viewport.Height()),
		marks:    make(map[rune]int),
		cursor:   -1,
	}
}

// SetSize sets the viewport size and asks for a page that fills it
func (p *Pane) SetSize(width, height int) {
	if height < 1 {
		height = 1
	}
	p.viewport.SetSize(width, height)
	p.apply(view.Resize(p.req, height, p.page.Total))
}

func (p *Pane) apply(req view.ScrollRequest) {
	p.req = req
	p.session.RequestScroll(req)
}

// SetPage stores the latest page from the session
func (p *Pane) SetPage(page session.Page) {
	p.page = page
}

// SetCounts stores the latest counts from the session
func (p *Pane) SetCounts(c session.Counts) {
	p.counts = c
}

// SetStatus stores the latest file status
func (p *Pane) SetStatus(s watch.Status) {
	p.status = s
}

// SetState stores the latest session state
func (p *Pane) SetState(s session.State) {
	p.state = s
}

// Render returns the rendered viewport content
func (p *Pane) Render() string {
	p.viewport.SetMarks(p.marks)
	return p.viewport.Render(p.page, p.counts.Total)
}

// Following reports whether the pane is tailing the end of the view
func (p *Pane) Following() bool {
	return p.req.Mode == view.Tail
}

// ScrollDown scrolls down by n lines
func (p *Pane) ScrollDown(n int) {
	p.apply(view.ScrollDiff(p.req, n, p.page.Total))
}

// ScrollUp scrolls up by n lines
func (p *Pane) ScrollUp(n int) {
	p.apply(view.ScrollDiff(p.req, -n, p.page.Total))
}

// PageDown scrolls down by one page
func (p *Pane) PageDown() {
	p.apply(view.PageDown(p.req, p.page.Total))
}

// PageUp scrolls up by one page
func (p *Pane) PageUp() {
	p.apply(view.PageUp(p.req, p.page.Total))
}

// GotoTop scrolls to the beginning
func (p *Pane) GotoTop() {
	p.apply(view.Top(p.viewport.Height()))
}

// GotoBottom scrolls to the end and follows it
func (p *Pane) GotoBottom() {
	p.viewport.ClearHighlight()
	p.cursor = -1
	p.apply(view.Bottom(p.viewport.Height()))
}

// jumpTo centres result position pos and highlights its line
func (p *Pane) jumpTo(snap session.Snapshot, pos int) {
	p.cursor = pos
	p.viewport.SetHighlightedLine(snap.Rows.At(pos))
	p.apply(view.JumpTo(pos, p.viewport.Height(), snap.Total))
}

// GotoLine shows file line n (1-based), or the nearest line after it that
// the view holds.
func (p *Pane) GotoLine(n int) bool {
	snap := p.session.Current()
	if snap.Total == 0 {
		return false
	}
	pos, _ := snap.Rows.Position(n - 1)
	if pos >= snap.Total {
		pos = snap.Total - 1
	}
	p.jumpTo(snap, max(pos, 0))
	return true
}

// Goto interprets a goto prompt: a line number, "$", a relative offset
// like "+100", a mark like "'a" or a time like "13:00".
func (p *Pane) Goto(ref string) error {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil
	case ref == "$":
		p.GotoBottom()
		return nil
	case strings.HasPrefix(ref, "'") && len(ref) == 2:
		if !p.JumpToMark(rune(ref[1])) {
			return fmt.Errorf("mark %c not set", ref[1])
		}
		return nil
	case strings.Contains(ref, ":"):
		if !p.GotoTime(context.Background(), ref) {
			return fmt.Errorf("no line at %s", ref)
		}
		return nil
	case strings.HasPrefix(ref, "+") || strings.HasPrefix(ref, "-"):
		delta, err := strconv.Atoi(ref)
		if err != nil {
			return fmt.Errorf("invalid offset %q", ref)
		}
		p.apply(view.ScrollDiff(p.req, delta, p.page.Total))
		return nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 {
		return fmt.Errorf("invalid line %q", ref)
	}
	if !p.GotoLine(n) {
		return fmt.Errorf("no lines")
	}
	return nil
}

// AddSearch adds a search. A plain search becomes the one NextMatch follows.
func (p *Pane) AddSearch(meta search.Metadata) error {
	if _, err := p.session.AddSearch(meta); err != nil {
		return err
	}
	if !meta.IsExclusion && !meta.Filter {
		p.lastSearch = meta.Text
	}
	return nil
}

// ClearSearches removes every search and returns to the full view
func (p *Pane) ClearSearches() {
	for _, meta := range p.session.Searches() {
		p.session.RemoveSearch(meta.Text)
	}
	p.session.SelectView("")
	p.lastSearch = ""
	p.cursor = -1
	p.viewport.ClearHighlight()
}

// NextMatch jumps to the next line matching the last search
func (p *Pane) NextMatch(backward bool) bool {
	if p.lastSearch == "" {
		return false
	}
	snap := p.session.Current()
	from := p.cursor
	if from < 0 || !p.page.Window.Contains(from) {
		from = p.page.Window.First
		if !backward {
			from--
		}
	}
	pos, ok := snap.NextMatch(p.lastSearch, from, backward)
	if !ok {
		return false
	}
	p.jumpTo(snap, pos)
	return true
}

// CycleView switches between the visible set and each search's own lines
func (p *Pane) CycleView() string {
	views := []string{""}
	for _, meta := range p.session.Searches() {
		if !meta.IsExclusion {
			views = append(views, meta.Text)
		}
	}
	next := 0
	for i, v := range views {
		if search.Key(v) == search.Key(p.page.View) {
			next = (i + 1) % len(views)
			break
		}
	}
	if err := p.session.SelectView(views[next]); err != nil {
		p.logger.Debug("select view", slog.Any("error", err))
		return ""
	}
	p.cursor = -1
	return views[next]
}

// CycleLevels steps through the level filters
func (p *Pane) CycleLevels() logformat.LevelFilter {
	p.levelStep = (p.levelStep + 1) % len(levelSteps)
	f := levelSteps[p.levelStep]
	p.session.SetLevelFilter(f)
	return f
}

// SetMark sets a mark at the highlighted line, or the top line
func (p *Pane) SetMark(char rune) bool {
	line := p.currentLine()
	if line < 0 {
		return false
	}
	p.marks[char] = line
	return true
}

// JumpToMark jumps to a mark
func (p *Pane) JumpToMark(char rune) bool {
	line, ok := p.marks[char]
	if !ok {
		return false
	}
	return p.GotoLine(line + 1)
}

// currentLine returns the file line of the cursor, or of the top row
func (p *Pane) currentLine() int {
	for _, l := range p.page.Lines {
		if p.cursor < 0 || l.Number == p.cursor {
			return l.Info.Index
		}
	}
	if len(p.page.Lines) > 0 {
		return p.page.Lines[0].Info.Index
	}
	return -1
}

// Export writes the lines of the current view to path, or to a temporary
// file when path is empty. It may run off the UI goroutine.
func (p *Pane) Export(ctx context.Context, path string) (*slice.Info, error) {
	return p.slicer.SliceAll(ctx, p.session.Path(), p.session.Current(), path)
}

// KeepTemporary removes info's file when the pane closes
func (p *Pane) KeepTemporary(info *slice.Info) {
	p.exports = append(p.exports, info)
}

// GotoTime jumps to the first line at or after a time. Lines are assumed
// to be in time order.
func (p *Pane) GotoTime(ctx context.Context, input string) bool {
	snap := p.session.Current()
	first, ok := p.timestampNear(ctx, snap, 0)
	if !ok {
		return false
	}
	target := parseTimeInput(input, first)
	if target == nil {
		return false
	}

	lo, hi := 0, snap.Total
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		ts, ok := p.timestampNear(ctx, snap, mid)
		if ok && ts.Before(*target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= snap.Total {
		return false
	}
	p.jumpTo(snap, lo)
	return true
}

// timestampNear returns the first timestamp at or after result position pos
func (p *Pane) timestampNear(ctx context.Context, snap session.Snapshot, pos int) (time.Time, bool) {
	lines, err := p.loader.Load(ctx, snap.Page(view.Window{First: pos, Size: lookahead}))
	if err != nil {
		return time.Time{}, false
	}
	for _, l := range lines {
		if l.Timestamp != nil {
			return *l.Timestamp, true
		}
	}
	return time.Time{}, false
}

// parseTimeInput parses user time input. A bare time of day takes its date
// from ref.
func parseTimeInput(input string, ref time.Time) *time.Time {
	layouts := []string{
		"15:04:05",
		"15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04:05",
	}

	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, strings.TrimSpace(input), ref.Location())
		if err != nil {
			continue
		}
		if layout == "15:04:05" || layout == "15:04" {
			t = time.Date(ref.Year(), ref.Month(), ref.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, ref.Location())
		}
		return &t
	}
	return nil
}

// StatusLine describes the pane for the status bar
func (p *Pane) StatusLine() string {
	parts := []string{p.name}

	w := p.page.Window
	if p.page.Total > 0 && !w.Empty() {
		parts = append(parts, fmt.Sprintf("%s-%s/%s",
			humanize.Comma(int64(w.First+1)),
			humanize.Comma(int64(w.Last()+1)),
			humanize.Comma(int64(p.page.Total))))
	} else {
		parts = append(parts, "0/0")
	}
	if p.counts.Total != p.page.Total {
		parts = append(parts, fmt.Sprintf("of %s lines", humanize.Comma(int64(p.counts.Total))))
	}
	parts = append(parts, fmt.Sprintf("%.0f%%", view.PercentScrolled(w, p.page.Total)))

	switch {
	case p.status.Err != nil:
		parts = append(parts, "error: "+p.status.Err.Error())
	case !p.status.Exists && !p.status.Updated.IsZero():
		parts = append(parts, "waiting for file")
	default:
		parts = append(parts, humanize.IBytes(uint64(max(p.status.Size, 0))))
	}

	if p.page.View != "" {
		parts = append(parts, "view: "+p.page.View)
	}
	if f := p.session.LevelFilter(); f.Active() {
		parts = append(parts, "levels: "+f.Key())
	}
	if p.state.Busy() {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", p.state, p.progress()*100))
	}
	if p.counts.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d search errors", p.counts.Errors))
	}
	if p.Following() {
		parts = append(parts, "[tail]")
	}
	if !p.status.Updated.IsZero() {
		parts = append(parts, "updated "+humanize.Time(p.status.Updated))
	}
	return " " + strings.Join(parts, "  ")
}

// progress returns the completion of the slowest running search
func (p *Pane) progress() float64 {
	least := 1.0
	for _, pr := range p.counts.Progress {
		if pr.Searching {
			least = min(least, pr.Fraction())
		}
	}
	return least
}

// Close removes temporary exports
func (p *Pane) Close() {
	for _, info := range p.exports {
		if err := p.slicer.Cleanup(info); err != nil {
			p.logger.Debug("cleanup export", slog.Any("error", err))
		}
	}
	p.exports = nil
}
