package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TimelordUK/tailview/internal/index"
)

// DefaultSegmentSize is the byte size of one unit of parallel search work
const DefaultSegmentSize int64 = 10 << 20

// AllName is the name of the identity engine
const AllName = "<All>"

const errorLogInterval = time.Minute

// Progress reports how far an Apply call has got
type Progress struct {
	Completed int
	Total     int
	Searching bool
}

// Fraction returns completion in [0, 1]
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}

// Result is an immutable snapshot of the lines an engine has matched.
// Snapshots share an append-only backing array with the engine.
type Result struct {
	lines      []int
	count      int
	identity   bool
	generation uint64
	Progress   Progress
	Errors     int
}

// Count returns the number of matching lines
func (r Result) Count() int {
	return r.count
}

// Generation returns the index generation the result belongs to
func (r Result) Generation() uint64 {
	return r.generation
}

// Identity reports whether every line matches
func (r Result) Identity() bool {
	return r.identity
}

// At returns the line number at result position i, or -1
func (r Result) At(i int) int {
	if i < 0 || i >= r.count {
		return -1
	}
	if r.identity {
		return i
	}
	return r.lines[i]
}

// Lines returns up to n line numbers from result position first
func (r Result) Lines(first, n int) []int {
	if first < 0 {
		first = 0
	}
	if first >= r.count || n <= 0 {
		return nil
	}
	if first+n > r.count {
		n = r.count - first
	}
	out := make([]int, n)
	for i := range out {
		out[i] = r.At(first + i)
	}
	return out
}

// Position returns the result position of line, or the position it would
// be inserted at when the line does not match.
func (r Result) Position(line int) (pos int, found bool) {
	if r.identity {
		if line < 0 {
			return 0, false
		}
		if line >= r.count {
			return r.count, false
		}
		return line, true
	}
	pos = sort.SearchInts(r.lines[:r.count], line)
	return pos, pos < r.count && r.lines[pos] == line
}

// Options configure an Engine
type Options struct {
	SegmentSize int64
	Workers     int
	Logger      *slog.Logger

	// Decode converts raw line bytes to text. Nil means UTF-8.
	Decode func([]byte) string

	// OnProgress receives a snapshot each time a further prefix of the work
	// completes. It is called from worker goroutines and must not block.
	OnProgress func(Result)
}

// Engine evaluates one predicate over the lines of a LineIndex, remembering
// what it has already evaluated so each line is tested once per generation.
type Engine struct {
	name    string
	matcher Matcher
	opts    Options
	logger  *slog.Logger

	mu          sync.Mutex
	lines       []int
	generation  uint64
	evaluated   int
	errors      int
	openLine    int
	openEnd     int64
	openMatched bool
	current     atomic.Pointer[Result]

	errMu      sync.Mutex
	lastErrLog time.Time
}

// NewEngine creates an engine for matcher
func NewEngine(name string, matcher Matcher, opts Options) *Engine {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultSegmentSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		name:     name,
		matcher:  matcher,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "search"), slog.String("search", name)),
		openLine: -1,
	}
}

// NewAllEngine creates the identity engine: every line matches
func NewAllEngine(opts Options) *Engine {
	return NewEngine(AllName, nil, opts)
}

// Name returns the engine name
func (e *Engine) Name() string {
	return e.name
}

// Current returns the latest result. It does not wait for a running Apply.
func (e *Engine) Current() Result {
	if r := e.current.Load(); r != nil {
		return *r
	}
	return Result{identity: e.matcher == nil}
}

func (e *Engine) publish(r Result) Result {
	e.current.Store(&r)
	return r
}

// Reset discards all results
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked(0)
	e.current.Store(nil)
}

func (e *Engine) resetLocked(generation uint64) {
	e.lines = nil
	e.generation = generation
	e.evaluated = 0
	e.errors = 0
	e.openLine = -1
	e.openMatched = false
}

// Apply brings the result up to date with ix, reading line bytes from r.
// Only lines not yet evaluated for ix's generation are tested. On
// cancellation the completed prefix is kept and the next Apply resumes from
// it.
func (e *Engine) Apply(ctx context.Context, ix index.LineIndex, r io.ReaderAt) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ix.Generation() != e.generation {
		e.resetLocked(ix.Generation())
	}

	if e.matcher == nil {
		return e.publish(Result{
			count:      ix.Count(),
			identity:   true,
			generation: e.generation,
			Progress:   Progress{Completed: 1, Total: 1},
		}), nil
	}

	e.reopenPartialLocked(ix)

	if e.evaluated >= ix.Count() {
		return e.publish(e.snapshotLocked(Progress{Completed: 1, Total: 1})), nil
	}
	if r == nil {
		return e.Current(), fmt.Errorf("search %s: no source for %d lines", e.name, ix.Count()-e.evaluated)
	}

	ranges := ix.Ranges(e.evaluated, e.opts.SegmentSize)
	total := len(ranges)
	found := make([][]int, total)
	done := make([]bool, total)
	committed := 0

	var pmu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i, rg := range ranges {
		g.Go(func() error {
			matches, errs, err := e.evalRange(gctx, ix, r, rg)
			if err != nil {
				return err
			}

			pmu.Lock()
			defer pmu.Unlock()
			found[i] = matches
			done[i] = true
			e.errors += errs

			advanced := false
			for committed < total && done[committed] {
				e.lines = append(e.lines, found[committed]...)
				found[committed] = nil
				e.evaluated = ranges[committed].Last
				committed++
				advanced = true
			}
			if advanced {
				res := e.publish(e.snapshotLocked(Progress{Completed: committed, Total: total, Searching: committed < total}))
				if e.opts.OnProgress != nil {
					e.opts.OnProgress(res)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.Debug("search interrupted",
			slog.Int("completed", committed),
			slog.Int("total", total),
			slog.Any("err", err))
		return e.Current(), err
	}

	if ix.Partial() && e.evaluated == ix.Count() {
		last := ix.Count() - 1
		_, end := ix.Span(last)
		e.openLine = last
		e.openEnd = end
		e.openMatched = len(e.lines) > 0 && e.lines[len(e.lines)-1] == last
	}

	return e.publish(e.snapshotLocked(Progress{Completed: total, Total: total})), nil
}

// reopenPartialLocked rewinds to an unterminated last line that has grown
// since it was evaluated.
func (e *Engine) reopenPartialLocked(ix index.LineIndex) {
	if e.openLine < 0 || e.openLine >= ix.Count() {
		return
	}
	if _, end := ix.Span(e.openLine); end == e.openEnd {
		return
	}
	if e.openMatched {
		// Earlier snapshots still see the old element, so cap the slice to
		// force the next append onto a fresh array.
		n := len(e.lines) - 1
		e.lines = e.lines[:n:n]
	}
	e.evaluated = e.openLine
	e.openLine = -1
	e.openMatched = false
}

func (e *Engine) snapshotLocked(p Progress) Result {
	n := len(e.lines)
	return Result{
		lines:      e.lines[:n:n],
		count:      n,
		generation: e.generation,
		Progress:   p,
		Errors:     e.errors,
	}
}

func (e *Engine) evalRange(ctx context.Context, ix index.LineIndex, r io.ReaderAt, rg index.LineRange) ([]int, int, error) {
	buf := make([]byte, rg.End-rg.Start)
	n, err := r.ReadAt(buf, rg.Start)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return nil, 0, fmt.Errorf("read lines %d-%d: %w", rg.First, rg.Last, err)
	}

	var matches []int
	errs := 0
	for line := rg.First; line < rg.Last; line++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		start, end := ix.Span(line)
		raw := trimTerminator(buf[start-rg.Start : end-rg.Start])

		var text string
		if e.opts.Decode != nil {
			text = e.opts.Decode(raw)
		} else {
			text = string(raw)
		}

		ok, err := e.matcher.Test(text)
		if err != nil {
			errs++
			e.logPredicateError(line, err)
		}
		if ok {
			matches = append(matches, line)
		}
	}
	return matches, errs, nil
}

// logPredicateError logs at most once per interval per engine
func (e *Engine) logPredicateError(line int, err error) {
	now := time.Now()
	e.errMu.Lock()
	due := now.Sub(e.lastErrLog) >= errorLogInterval
	if due {
		e.lastErrLog = now
	}
	e.errMu.Unlock()
	if due {
		e.logger.Warn("predicate failed",
			slog.Int("line", line),
			slog.Any("err", err))
	}
}

func trimTerminator(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
