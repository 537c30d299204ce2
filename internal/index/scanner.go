package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// DefaultSegmentSize is the byte segment size used for parallel scanning
const DefaultSegmentSize int64 = 4 << 20

var (
	// ErrShrunk is returned by Scan when the file is smaller than what has
	// already been indexed. The caller must Reset and rescan.
	ErrShrunk = errors.New("file shrank below indexed size")

	// ErrFault is returned when the underlying mapping disappeared mid-scan
	ErrFault = errors.New("memory fault while scanning")
)

// Options configure a Scanner
type Options struct {
	SegmentSize int64
	Workers     int
	Logger      *slog.Logger
}

// Scanner builds a LineIndex incrementally. It is owned by a single
// goroutine (the file watcher); the snapshots it returns are shareable.
type Scanner struct {
	starts      []int64
	size        int64
	terminated  bool
	generation  uint64
	segmentSize int64
	workers     int
	logger      *slog.Logger
}

// NewScanner creates a scanner for generation 1
func NewScanner(opts Options) *Scanner {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultSegmentSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scanner{
		terminated:  true,
		generation:  1,
		segmentSize: opts.SegmentSize,
		workers:     opts.Workers,
		logger:      opts.Logger.With(slog.String("component", "index")),
	}
}

// Snapshot returns the current index
func (s *Scanner) Snapshot() LineIndex {
	return s.snapshot(len(s.starts))
}

func (s *Scanner) snapshot(tailFrom int) LineIndex {
	return LineIndex{
		starts:      s.starts[:len(s.starts):len(s.starts)],
		size:        s.size,
		generation:  s.generation,
		terminated:  s.terminated,
		tailFrom:    tailFrom,
		segmentSize: s.segmentSize,
	}
}

// Reset discards the index and starts a new generation. Earlier snapshots
// keep their own backing array.
func (s *Scanner) Reset() LineIndex {
	s.starts = nil
	s.size = 0
	s.terminated = true
	s.generation++
	return s.Snapshot()
}

// Generation returns the current generation
func (s *Scanner) Generation() uint64 {
	return s.generation
}

// segment is an aligned byte range [start, end)
type segment struct {
	start, end int64
}

// segmentsFor splits [from, to) at multiples of size, so incremental scans
// and full scans agree on where segments begin.
func segmentsFor(from, to, size int64) []segment {
	var segs []segment
	for pos := from; pos < to; {
		end := (pos/size + 1) * size
		if end > to {
			end = to
		}
		segs = append(segs, segment{start: pos, end: end})
		pos = end
	}
	return segs
}

// Scan indexes bytes between the previously scanned size and size. Only new
// bytes are read. On error the index is left unchanged.
func (s *Scanner) Scan(ctx context.Context, r io.ReaderAt, size int64) (LineIndex, error) {
	if size < s.size {
		return s.Snapshot(), ErrShrunk
	}
	if size == s.size {
		return s.Snapshot(), nil
	}

	from := s.size
	segs := segmentsFor(from, size, s.segmentSize)
	found := make([][]int64, len(segs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, seg := range segs {
		g.Go(func() error {
			starts, err := scanSegment(gctx, r, seg, size)
			if err != nil {
				return err
			}
			found[i] = starts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s.Snapshot(), fmt.Errorf("scan [%d,%d): %w", from, size, err)
	}

	// A line begins at from when the file was empty or ended on a newline
	tailFrom := len(s.starts)
	if s.terminated {
		s.starts = append(s.starts, from)
	}
	for _, starts := range found {
		s.starts = append(s.starts, starts...)
	}

	last := segs[len(segs)-1]
	s.terminated = endsWithNewline(r, last.end)
	s.size = size

	s.logger.Debug("scanned",
		slog.Int64("from", from),
		slog.Int64("to", size),
		slog.Int("segments", len(segs)),
		slog.Int("lines", len(s.starts)),
	)
	return s.snapshot(tailFrom), nil
}

// scanSegment returns the start of every line that begins inside seg. A line
// begins one byte after a newline; a newline at the very end of the file does
// not begin a line.
func scanSegment(ctx context.Context, r io.ReaderAt, seg segment, size int64) (starts []int64, err error) {
	// A truncated mapping raises SIGBUS; turn it into an error we can retry
	debug.SetPanicOnFault(true)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrFault, rec)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, seg.end-seg.start)
	n, err := r.ReadAt(buf, seg.start)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, err
	}

	chunk := buf[:n]
	offset := 0
	for {
		idx := bytes.IndexByte(chunk[offset:], '\n')
		if idx == -1 {
			break
		}
		lineStart := seg.start + int64(offset+idx+1)
		if lineStart < size {
			starts = append(starts, lineStart)
		}
		offset += idx + 1
	}
	return starts, nil
}

func endsWithNewline(r io.ReaderAt, end int64) bool {
	if end <= 0 {
		return true
	}
	var b [1]byte
	if n, _ := r.ReadAt(b[:], end-1); n != 1 {
		return false
	}
	return b[0] == '\n'
}
