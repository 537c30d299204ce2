// Package watch follows a file on disk and publishes a new line index
// whenever it grows, shrinks or is replaced.
package watch

import (
	"context"
	"errors"
	"fmt"
	stdio "io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/TimelordUK/tailview/internal/index"
	tailio "github.com/TimelordUK/tailview/internal/io"
	"github.com/TimelordUK/tailview/internal/mailbox"
)

// Status describes the watched file as of the last check
type Status struct {
	Path     string
	Exists   bool
	Size     int64
	Indexing bool
	Retries  int   // consecutive transient failures
	Err      error // terminal error; no further updates follow
	Updated  time.Time
}

// Update is published after every change to the file
type Update struct {
	Index  index.LineIndex
	Source stdio.ReaderAt // reads bytes of Index's generation; nil when the file is missing
	Status Status
	Reset  bool // the index was rebuilt from offset 0
}

// Options configure a Watcher
type Options struct {
	PollInterval  time.Duration
	Debounce      time.Duration
	MaxBackoff    time.Duration
	DisableNotify bool
	Index         index.Options
	Logger        *slog.Logger
}

// Watcher polls a path and, where the platform allows, listens for
// filesystem notifications on its directory.
type Watcher struct {
	path    string
	opts    Options
	logger  *slog.Logger
	scanner *index.Scanner

	mapped  *tailio.MappedFile
	file    *tailio.File
	retired *tailio.File

	exists   bool
	checked  bool
	failures int

	updates  *mailbox.Mailbox[Update]
	statuses *mailbox.Mailbox[Status]
}

// New creates a watcher for path. Call Run to start it.
func New(path string, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = maxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Index.Logger == nil {
		opts.Index.Logger = opts.Logger
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	return &Watcher{
		path:    path,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "watch"), slog.String("path", path)),
		scanner: index.NewScanner(opts.Index),
		updates: mailbox.New(func(old, new Update) Update {
			new.Reset = new.Reset || old.Reset
			return new
		}),
		statuses: mailbox.New[Status](nil),
	}
}

// Path returns the absolute path being watched
func (w *Watcher) Path() string {
	return w.path
}

// Updates delivers index snapshots, newest only. It is closed when Run returns.
func (w *Watcher) Updates() <-chan Update {
	return w.updates.C()
}

// Statuses delivers file status changes, newest only
func (w *Watcher) Statuses() <-chan Status {
	return w.statuses.C()
}

// Run checks the file until ctx is cancelled or a permanent error occurs
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	notify := w.startNotify(ctx)
	limiter := rate.NewLimiter(rate.Every(w.opts.Debounce), 1)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-notify:
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		delay := w.opts.PollInterval
		err := w.check(ctx)
		switch tailio.Classify(err) {
		case tailio.KindNone:
			w.failures = 0
		case tailio.KindPermanent:
			w.logger.Error("watch stopped", slog.Any("error", err))
			w.publishStatus(Status{Exists: w.exists, Err: err})
			return err
		default:
			if ctx.Err() != nil {
				return nil
			}
			w.failures++
			delay = calculateBackoff(w.failures, w.opts.PollInterval, w.opts.MaxBackoff)
			w.logger.Warn("check failed, backing off",
				slog.Any("error", err),
				slog.Int("retries", w.failures),
				slog.Duration("delay", delay),
			)
			w.publishStatus(Status{Exists: w.exists, Size: w.scanner.Snapshot().Size(), Retries: w.failures})
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)
	}
}

// check compares the file on disk with the index and publishes an update
// when anything changed.
func (w *Watcher) check(ctx context.Context) error {
	first := !w.checked
	w.checked = true

	info, err := os.Stat(w.path)
	if err != nil {
		if tailio.Classify(err) == tailio.KindNotFound {
			w.markMissing(first)
			return nil
		}
		return fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: %w", w.path, tailio.ErrPermanent)
	}

	reset := false
	if w.file == nil || !w.file.SameFile(info) {
		if err := w.reopen(); err != nil {
			return err
		}
		reset = !first
	} else if info.Size() < w.scanner.Snapshot().Size() {
		reset = true
	} else if info.Size() == w.scanner.Snapshot().Size() && w.exists {
		return nil
	}

	if reset {
		w.logger.Info("file rotated or truncated, rescanning", slog.Int64("size", info.Size()))
		w.scanner.Reset()
	}

	if _, err := w.mapped.Remap(); err != nil {
		return err
	}

	size := w.mapped.Size()
	w.publishStatus(Status{Exists: true, Size: size, Indexing: true})
	ix, err := w.scanner.Scan(ctx, w.mapped, size)
	if errors.Is(err, index.ErrShrunk) {
		reset = true
		w.scanner.Reset()
		ix, err = w.scanner.Scan(ctx, w.mapped, size)
	}
	if err != nil {
		return err
	}

	w.exists = true
	status := Status{Exists: true, Size: size}
	w.publishStatus(status)
	w.publish(Update{Index: ix, Source: w.file, Status: status, Reset: reset})
	return nil
}

// reopen opens a handle on the file now at the path. The mapping is made
// from that handle by the following Remap, so the index and Update.Source
// always read the same file.
func (w *Watcher) reopen() error {
	file, err := tailio.Open(w.path)
	if err != nil {
		return err
	}

	w.closeHandles()
	w.file = file
	w.mapped = tailio.NewMapped(file)
	return nil
}

// markMissing publishes an empty index the first time the file is found
// missing. Polling continues so the file can reappear.
func (w *Watcher) markMissing(first bool) {
	if !w.exists && !first {
		return
	}
	hadContent := w.exists
	w.exists = false
	w.closeHandles()

	ix := w.scanner.Snapshot()
	if hadContent {
		ix = w.scanner.Reset()
		w.logger.Info("file removed")
	}
	status := Status{Exists: false}
	w.publishStatus(status)
	w.publish(Update{Index: ix, Status: status, Reset: hadContent})
}

// closeHandles retires the current read handle. Consumers may still be
// reading the previous generation, so the handle is closed one rotation later.
func (w *Watcher) closeHandles() {
	if w.mapped != nil {
		w.mapped.Close()
		w.mapped = nil
	}
	if w.retired != nil {
		w.retired.Close()
	}
	w.retired = w.file
	w.file = nil
}

func (w *Watcher) shutdown() {
	w.closeHandles()
	if w.retired != nil {
		w.retired.Close()
		w.retired = nil
	}
	w.updates.Close()
	w.statuses.Close()
}

func (w *Watcher) publish(u Update) {
	u.Status.Path = w.path
	u.Status.Updated = time.Now()
	w.updates.Put(u)
}

func (w *Watcher) publishStatus(s Status) {
	s.Path = w.path
	s.Updated = time.Now()
	w.statuses.Put(s)
}

// startNotify watches the file's directory so creates, writes and renames
// wake the loop early. It returns nil when notifications are unavailable;
// polling still covers every change.
func (w *Watcher) startNotify(ctx context.Context) <-chan struct{} {
	if w.opts.DisableNotify {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("notifications unavailable, polling only", slog.Any("error", err))
		return nil
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("cannot watch directory, polling only", slog.Any("error", err))
		watcher.Close()
		return nil
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Debug("notification error", slog.Any("error", err))
			}
		}
	}()
	return wake
}
