// Package consolidate merges several followed files into one output file
// that a session can tail like any other.
package consolidate

import (
	"bufio"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TimelordUK/tailview/internal/source"
	"github.com/TimelordUK/tailview/internal/view"
	"github.com/TimelordUK/tailview/internal/watch"
)

// DefaultPrimeLines is how many trailing lines of each file are copied
// before tailing starts
const DefaultPrimeLines = 100

// Options configure a Writer
type Options struct {
	PrimeLines int  // 0 means DefaultPrimeLines; negative means tail only
	NoPrefix   bool // omit the "[name:line] " prefix
	OutputDir  string
	Watch      watch.Options
	Logger     *slog.Logger
}

// SourceWatcher tracks a single file for the consolidated writer
type SourceWatcher struct {
	watcher      *watch.Watcher
	materializer *source.Materializer
	name         string // display name (basename)
	position     int    // next line to write
	generation   uint64
	primed       bool
	enabled      bool
}

// Writer merges multiple log files into a single consolidated output file
type Writer struct {
	sources    []*SourceWatcher
	outputPath string
	output     *os.File
	buf        *bufio.Writer
	opts       Options
	logger     *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	primed sync.WaitGroup
}

// NewWriter creates a consolidated writer. Call Start to begin copying.
func NewWriter(paths []string, opts Options) (*Writer, error) {
	if len(paths) == 0 {
		return nil, errors.New("no source files provided")
	}
	if opts.PrimeLines == 0 {
		opts.PrimeLines = DefaultPrimeLines
	}
	if opts.OutputDir == "" {
		opts.OutputDir = os.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Watch.Logger == nil {
		opts.Watch.Logger = opts.Logger
	}

	hash := md5.Sum([]byte(fmt.Sprint(time.Now().UnixNano(), paths)))
	outputPath := filepath.Join(opts.OutputDir, fmt.Sprintf("tailview-consolidated-%x.log", hash[:8]))
	output, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	sources := make([]*SourceWatcher, 0, len(paths))
	for _, path := range paths {
		sources = append(sources, &SourceWatcher{
			watcher:      watch.New(path, opts.Watch),
			materializer: source.NewMaterializer(source.Options{Logger: opts.Logger}),
			name:         filepath.Base(path),
			enabled:      true,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		sources:    sources,
		outputPath: outputPath,
		output:     output,
		buf:        bufio.NewWriter(output),
		opts:       opts,
		logger:     opts.Logger.With(slog.String("component", "consolidate")),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start follows every source in the background until Close
func (w *Writer) Start() {
	for _, sw := range w.sources {
		w.wg.Add(2)
		go func() {
			defer w.wg.Done()
			if err := sw.watcher.Run(w.ctx); err != nil {
				w.logger.Warn("source stopped", slog.String("source", sw.name), slog.Any("error", err))
			}
		}()
		w.primed.Add(1)
		go func() {
			defer w.wg.Done()
			var once sync.Once
			defer once.Do(w.primed.Done)
			for u := range sw.watcher.Updates() {
				if err := w.copyNew(sw, u); err != nil && w.ctx.Err() == nil {
					w.logger.Warn("copy failed", slog.String("source", sw.name), slog.Any("error", err))
				}
				once.Do(w.primed.Done)
			}
		}()
	}
}

// copyNew writes the complete lines of u that have not been written yet.
// The first update of each generation is primed with its last lines.
func (w *Writer) copyNew(sw *SourceWatcher, u watch.Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ix := u.Index
	if u.Reset || ix.Generation() != sw.generation {
		sw.generation = ix.Generation()
		sw.position = 0
		if sw.primed {
			w.logger.Info("source rotated", slog.String("source", sw.name))
		}
	}

	complete := ix.Count()
	if ix.Partial() {
		complete--
	}
	if !sw.primed {
		sw.primed = true
		if w.opts.PrimeLines < 0 {
			sw.position = complete
		} else {
			sw.position = max(0, complete-w.opts.PrimeLines)
		}
	}
	if !sw.enabled {
		sw.position = max(sw.position, complete)
		return nil
	}
	if complete <= sw.position || u.Source == nil {
		return nil
	}

	lines, err := sw.materializer.Load(w.ctx, source.Page{
		Index:   ix,
		Source:  u.Source,
		RowsKey: sw.name,
		Window:  view.Window{First: sw.position, Size: complete - sw.position},
	})
	if err != nil {
		return err
	}
	if err := w.write(sw, lines); err != nil {
		return err
	}
	sw.position = complete
	return nil
}

func (w *Writer) write(sw *SourceWatcher, lines []source.Line) error {
	for _, line := range lines {
		if !w.opts.NoPrefix {
			fmt.Fprintf(w.buf, "[%s:%d] ", sw.name, line.LineNumber())
		}
		w.buf.WriteString(line.Text)
		if err := w.buf.WriteByte('\n'); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return w.buf.Flush()
}

// WaitPrimed blocks until every source has been read once
func (w *Writer) WaitPrimed(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.primed.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OutputPath returns the path to the consolidated output file
func (w *Writer) OutputPath() string {
	return w.outputPath
}

// Names returns the display names of the sources
func (w *Writer) Names() []string {
	names := make([]string, len(w.sources))
	for i, sw := range w.sources {
		names[i] = sw.name
	}
	return names
}

// SetEnabled enables or disables a source by name. Lines written to a
// disabled source are skipped, not queued. It reports whether the name is
// known.
func (w *Writer) SetEnabled(name string, enabled bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sw := range w.sources {
		if sw.name == name {
			sw.enabled = enabled
			return true
		}
	}
	return false
}

// Enabled reports whether a source is being copied
func (w *Writer) Enabled(name string) (enabled, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sw := range w.sources {
		if sw.name == name {
			return sw.enabled, true
		}
	}
	return false, false
}

// Close stops the writer and removes the output file
func (w *Writer) Close() error {
	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Flush()
	err := w.output.Close()
	if rmErr := os.Remove(w.outputPath); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
