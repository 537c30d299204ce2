// Package slice writes a range of a result set out to a file.
package slice

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/TimelordUK/tailview/internal/session"
	"github.com/TimelordUK/tailview/internal/source"
	"github.com/TimelordUK/tailview/internal/view"
)

const batchSize = 1024

// Info contains metadata about a slice
type Info struct {
	SourcePath string     // file the lines came from
	OutputPath string     // file the lines were written to
	View       string     // search the result set belongs to; empty for the visible set
	First      int        // first result position, inclusive
	Last       int        // last result position, exclusive
	Lines      int        // lines written
	Generation uint64     // index generation the positions refer to
	StartTime  *time.Time // timestamp of the first line, when it has one
	EndTime    *time.Time // timestamp of the last line, when it has one
}

// Slicer extracts portions of a result set to files
type Slicer struct {
	cacheDir     string
	materializer *source.Materializer
	logger       *slog.Logger
}

// NewSlicer creates a slicer that loads lines with m. Give it its own
// materializer so exports do not evict the pages being displayed.
func NewSlicer(m *source.Materializer, logger *slog.Logger) *Slicer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slicer{
		cacheDir:     os.TempDir(),
		materializer: m,
		logger:       logger.With(slog.String("component", "slice")),
	}
}

// SliceAll writes the whole result set of snap to path
func (s *Slicer) SliceAll(ctx context.Context, sourcePath string, snap session.Snapshot, path string) (*Info, error) {
	return s.SliceRange(ctx, sourcePath, snap, 0, snap.Total, path)
}

// SliceRange writes result positions [first, last) of snap to path. An
// empty path writes to a file in the temp directory.
func (s *Slicer) SliceRange(ctx context.Context, sourcePath string, snap session.Snapshot, first, last int, path string) (*Info, error) {
	if first < 0 {
		first = 0
	}
	if last > snap.Total {
		last = snap.Total
	}
	if first > last {
		return nil, fmt.Errorf("invalid range: %d-%d", first, last)
	}
	if path == "" {
		path = filepath.Join(s.cacheDir, fmt.Sprintf("tailview-slice-%d-%d-%s", first, last, filepath.Base(sourcePath)))
	}

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create slice file: %w", err)
	}
	info := &Info{
		SourcePath: sourcePath,
		OutputPath: path,
		View:       snap.View,
		First:      first,
		Last:       last,
		Generation: snap.Index.Generation(),
	}
	if err := s.write(ctx, out, snap, info); err != nil {
		out.Close()
		os.Remove(path)
		return nil, err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close slice file: %w", err)
	}

	s.logger.Info("slice written",
		slog.String("path", path),
		slog.Int("lines", info.Lines),
		slog.String("view", info.View),
	)
	return info, nil
}

func (s *Slicer) write(ctx context.Context, out *os.File, snap session.Snapshot, info *Info) error {
	w := bufio.NewWriter(out)
	for pos := info.First; pos < info.Last; pos += batchSize {
		n := min(batchSize, info.Last-pos)
		page := snap.Page(view.Window{First: pos, Size: n})
		page.Combiner = nil
		lines, err := s.materializer.Load(ctx, page)
		if err != nil {
			return fmt.Errorf("failed to read lines %d-%d: %w", pos, pos+n, err)
		}
		for _, line := range lines {
			if _, err := w.WriteString(line.Text); err != nil {
				return fmt.Errorf("failed to write line %d: %w", line.LineNumber(), err)
			}
			if err := w.WriteByte('\n'); err != nil {
				return fmt.Errorf("failed to write newline: %w", err)
			}
			if line.Timestamp != nil {
				if info.StartTime == nil {
					info.StartTime = line.Timestamp
				}
				info.EndTime = line.Timestamp
			}
			info.Lines++
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush slice file: %w", err)
	}
	return nil
}

// Cleanup removes a slice's output file
func (s *Slicer) Cleanup(info *Info) error {
	if info == nil || info.OutputPath == "" {
		return nil
	}
	return os.Remove(info.OutputPath)
}
