package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/TimelordUK/tailview/internal/cli"
	"github.com/TimelordUK/tailview/internal/config"
	"github.com/TimelordUK/tailview/internal/consolidate"
	"github.com/TimelordUK/tailview/internal/index"
	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/internal/session"
	"github.com/TimelordUK/tailview/internal/slice"
	"github.com/TimelordUK/tailview/internal/source"
	"github.com/TimelordUK/tailview/internal/ui"
	"github.com/TimelordUK/tailview/internal/watch"
)

// settleTimeout bounds how long --export waits for indexing and searching
const settleTimeout = 10 * time.Minute

func main() {
	os.Exit(run(cli.MustParse()))
}

func run(args *cli.Args) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := start(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "tailview: %v\n", err)
		return 1
	}
	return 0
}

func start(ctx context.Context, args *cli.Args) error {
	var (
		cfg *config.Config
		err error
	)
	if args.Config != "" {
		cfg, err = config.LoadFrom(args.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	watchOpts := watchOptions(cfg, logger)
	path := args.Files[0]
	name := filepath.Base(path)
	var sources ui.SourceSwitch
	if len(args.Files) > 1 {
		writer, err := consolidate.NewWriter(args.Files, consolidate.Options{Watch: watchOpts, Logger: logger})
		if err != nil {
			return err
		}
		defer writer.Close()
		writer.Start()
		if args.Export != "" {
			if err := writer.WaitPrimed(ctx); err != nil {
				return err
			}
		}
		path = writer.OutputPath()
		name = strings.Join(writer.Names(), "+")
		sources = writer
	} else if args.Export != "" {
		if _, err := os.Stat(path); err != nil {
			return err
		}
	}

	searches, err := initialSearches(cfg, args)
	if err != nil {
		return err
	}

	sess, err := session.OpenFile(ctx, path, sessionOptions(cfg, args, watchOpts, searches, logger))
	if err != nil {
		return err
	}
	defer sess.Close()

	if args.Export != "" {
		return export(ctx, sess, args.Export, logger)
	}

	model, err := ui.NewModel(ui.ModelOptions{
		Session:    sess,
		Config:     cfg,
		Name:       name,
		Regex:      args.Regex,
		IgnoreCase: args.IgnoreCase,
		NoTail:     args.NoTail,
		Sources:    sources,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// setupLogger writes diagnostics to the configured file; the terminal
// belongs to the UI.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, fmt.Errorf("logging.level: %w", err)
	}
	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}

func watchOptions(cfg *config.Config, logger *slog.Logger) watch.Options {
	return watch.Options{
		PollInterval:  cfg.Watch.PollInterval.Std(),
		Debounce:      cfg.Watch.Debounce.Std(),
		MaxBackoff:    cfg.Watch.MaxBackoff.Std(),
		DisableNotify: cfg.Watch.DisableNotify,
		Index: index.Options{
			SegmentSize: cfg.Index.SegmentSize,
			Workers:     cfg.Index.Workers,
			Logger:      logger,
		},
		Logger: logger,
	}
}

func sessionOptions(cfg *config.Config, args *cli.Args, w watch.Options, searches []search.Metadata, logger *slog.Logger) session.Options {
	levels := cfg.LogLevels.Patterns()
	encoding := cfg.Source.Encoding
	if args.Encoding != "" {
		encoding = args.Encoding
	}
	return session.Options{
		Watch: w,
		Search: search.Options{
			SegmentSize: cfg.Search.SegmentSize,
			Workers:     cfg.Search.Workers,
			Logger:      logger,
		},
		RegexTimeout: cfg.Search.RegexTimeout.Std(),
		PageSize:     cfg.View.PageSize,
		ReadAhead:    cfg.View.ReadAhead,
		Encoding:     encoding,
		Levels:       &levels,
		Logger:       logger,
		Searches:     searches,
	}
}

// initialSearches merges the configured searches with the command line.
// A command line search replaces a configured one with the same text.
func initialSearches(cfg *config.Config, args *cli.Args) ([]search.Metadata, error) {
	fromArgs := args.Searches()
	named := make(map[string]bool, len(fromArgs))
	for _, m := range fromArgs {
		named[m.Key()] = true
	}

	var out []search.Metadata
	for _, entry := range cfg.Searches {
		m, err := entry.Metadata()
		if err != nil {
			return nil, err
		}
		if !named[m.Key()] {
			out = append(out, m)
		}
	}
	return append(out, fromArgs...), nil
}

// export waits for the file to be indexed and searched, then writes the
// visible lines
func export(ctx context.Context, sess *session.Session, path string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	for settled := false; !settled; {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", sess.Path(), ctx.Err())
		case st := <-sess.Status():
			if st.Err != nil {
				return st.Err
			}
		case p, ok := <-sess.Lines():
			if !ok {
				return session.ErrClosed
			}
			settled = p.Generation > 0 && p.State == session.Ready
		}
	}

	slicer := slice.NewSlicer(source.NewMaterializer(source.Options{Decoder: sess.Decoder(), Logger: logger}), logger)
	info, err := slicer.SliceAll(ctx, sess.Path(), sess.Current(), path)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d lines to %s\n", info.Lines, info.OutputPath)
	return nil
}
