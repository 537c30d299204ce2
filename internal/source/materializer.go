package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/TimelordUK/tailview/internal/combine"
	"github.com/TimelordUK/tailview/internal/index"
	"github.com/TimelordUK/tailview/internal/view"
	"github.com/TimelordUK/tailview/pkg/logformat"
)

// DefaultReadAhead is the fraction of a page loaded on each side of it
const DefaultReadAhead = 0.5

// Page asks for the lines of one window of a result set
type Page struct {
	Index    index.LineIndex
	Source   io.ReaderAt
	Rows     RowMapper // nil pages over every line
	RowsKey  string    // identifies Rows for caching
	Window   view.Window
	Combiner *combine.Combiner // nil leaves lines unannotated
}

func (p Page) rows() RowMapper {
	if p.Rows == nil {
		return identityRows(p.Index.Count())
	}
	return p.Rows
}

// Options configure a Materializer
type Options struct {
	ReadAhead  float64
	Decoder    *Decoder
	Levels     *logformat.LevelDetector
	Timestamps *logformat.TimestampParser
	Logger     *slog.Logger
}

// Materializer loads the text of the lines in a window. Load may be called
// from several goroutines.
type Materializer struct {
	opts   Options
	logger *slog.Logger
	cache  atomic.Pointer[block]
	reads  atomic.Int64
}

// block is a decoded run of result positions [first, last)
type block struct {
	generation uint64
	rowsKey    string
	first      int
	lines      []cachedLine
}

type cachedLine struct {
	line Line
	end  int64
}

// NewMaterializer creates a materializer
func NewMaterializer(opts Options) *Materializer {
	if opts.ReadAhead < 0 {
		opts.ReadAhead = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Materializer{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "source")),
	}
}

// Reads returns how many ReadAt calls the materializer has made
func (m *Materializer) Reads() int64 {
	return m.reads.Load()
}

// Invalidate drops the read-ahead cache
func (m *Materializer) Invalidate() {
	m.cache.Store(nil)
}

// Load returns the lines of p.Window
func (m *Materializer) Load(ctx context.Context, p Page) ([]Line, error) {
	rows := p.rows()
	w := p.Window
	if w.First+w.Size > rows.Count() {
		w.Size = rows.Count() - w.First
	}
	if w.Empty() || w.First < 0 {
		return nil, nil
	}

	b := m.cache.Load()
	if b == nil || !b.serves(p, rows, w) {
		var err error
		b, err = m.fill(ctx, p, rows, w)
		if err != nil {
			return nil, err
		}
		m.cache.Store(b)
	}

	out := make([]Line, w.Size)
	for i := range out {
		line := b.lines[w.First+i-b.first].line
		line.Info, _ = p.Index.Line(line.Info.Index)
		line.Number = w.First + i
		line.Matches = combine.EmptyMatches
		if p.Combiner != nil {
			line.Matches = p.Combiner.Annotate(line.Text)
		}
		out[i] = line
	}
	return out, nil
}

// serves reports whether the block still holds w exactly as the current
// index and rows describe it
func (b *block) serves(p Page, rows RowMapper, w view.Window) bool {
	if b.generation != p.Index.Generation() || b.rowsKey != p.RowsKey {
		return false
	}
	if w.First < b.first || w.First+w.Size > b.first+len(b.lines) {
		return false
	}
	for pos := w.First; pos < w.First+w.Size; pos++ {
		cl := b.lines[pos-b.first]
		if rows.At(pos) != cl.line.Info.Index {
			return false
		}
		if _, end := p.Index.Span(cl.line.Info.Index); end != cl.end {
			return false
		}
	}
	return true
}

// fill reads w plus the read-ahead margin, coalescing adjacent lines into
// single reads
func (m *Materializer) fill(ctx context.Context, p Page, rows RowMapper, w view.Window) (*block, error) {
	margin := int(m.opts.ReadAhead * float64(w.Size))
	first := max(0, w.First-margin)
	last := min(rows.Count(), w.First+w.Size+margin)

	b := &block{
		generation: p.Index.Generation(),
		rowsKey:    p.RowsKey,
		first:      first,
		lines:      make([]cachedLine, 0, last-first),
	}

	type span struct {
		line       int
		start, end int64
	}
	spans := make([]span, 0, last-first)
	for pos := first; pos < last; pos++ {
		n := rows.At(pos)
		if n < 0 || n >= p.Index.Count() {
			return nil, fmt.Errorf("row %d maps to line %d outside index of %d lines", pos, n, p.Index.Count())
		}
		start, end := p.Index.Span(n)
		spans = append(spans, span{line: n, start: start, end: end})
	}
	if len(spans) > 0 && p.Source == nil {
		return nil, fmt.Errorf("no source for %d lines", len(spans))
	}

	for i := 0; i < len(spans); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		j := i + 1
		for j < len(spans) && spans[j].start == spans[j-1].end {
			j++
		}
		runStart, runEnd := spans[i].start, spans[j-1].end
		buf := make([]byte, runEnd-runStart)
		n, err := p.Source.ReadAt(buf, runStart)
		m.reads.Add(1)
		if err != nil && !(err == io.EOF && n == len(buf)) {
			return nil, fmt.Errorf("read bytes %d-%d: %w", runStart, runEnd, err)
		}

		for _, s := range spans[i:j] {
			raw := trimTerminator(buf[s.start-runStart : s.end-runStart])
			info, _ := p.Index.Line(s.line)
			b.lines = append(b.lines, cachedLine{line: m.decode(info, raw), end: s.end})
		}
		i = j
	}

	m.logger.Debug("materialized block",
		slog.Int("first", first),
		slog.Int("lines", len(b.lines)),
		slog.Uint64("generation", b.generation))
	return b, nil
}

func (m *Materializer) decode(info index.LineInfo, raw []byte) Line {
	text, ok := m.opts.Decoder.Decode(raw)
	line := Line{Info: info, Text: text, DecodeErr: !ok}
	if m.opts.Timestamps != nil {
		line.Timestamp = m.opts.Timestamps.Parse(text)
	}
	line.Level = m.opts.Levels.Detect(text)
	return line
}

func trimTerminator(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
		if n := len(b); n > 0 && b[n-1] == '\r' {
			b = b[:n-1]
		}
	}
	return b
}
