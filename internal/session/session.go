// Package session ties a watched file to its searches and serves pages of
// the selected result set to a consumer.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TimelordUK/tailview/internal/combine"
	"github.com/TimelordUK/tailview/internal/index"
	"github.com/TimelordUK/tailview/internal/mailbox"
	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/internal/source"
	"github.com/TimelordUK/tailview/internal/view"
	"github.com/TimelordUK/tailview/internal/watch"
	"github.com/TimelordUK/tailview/pkg/logformat"
)

// ErrClosed is returned by calls on a closed session
var ErrClosed = errors.New("session closed")

const defaultPageSize = 50

// Options configure a Session
type Options struct {
	Watch        watch.Options
	Search       search.Options
	RegexTimeout time.Duration
	PageSize     int
	ReadAhead    float64
	Encoding     string
	Levels       *logformat.LevelPatterns
	Logger       *slog.Logger

	// Searches are added before the file is first read, so the first
	// results already reflect them
	Searches []search.Metadata
}

// Counts summarises the session's result sets
type Counts struct {
	Total      int
	Matching   int
	PerSearch  map[string]int
	Progress   map[string]search.Progress
	Errors     int
	Generation uint64
}

// Page is one materialized window of the selected result set
type Page struct {
	Request    view.ScrollRequest
	Window     view.Window
	Total      int
	Lines      []source.Line
	State      State
	View       string
	Generation uint64
}

// Snapshot is the data behind the most recent page
type Snapshot struct {
	Index    index.LineIndex
	Source   io.ReaderAt
	Rows     search.Result
	RowsKey  string
	Total    int
	Combiner *combine.Combiner
	State    State
	View     string

	// Results holds each search's matches, keyed by search.Key
	Results map[string]search.Result
}

// Page returns the materializer request for a window of the snapshot
func (s Snapshot) Page(w view.Window) source.Page {
	return source.Page{
		Index:    s.Index,
		Source:   s.Source,
		Rows:     s.Rows,
		RowsKey:  s.RowsKey,
		Window:   w,
		Combiner: s.Combiner,
	}
}

// NextMatch returns the position in the paged set of the next line after
// (or, when backward, before) position from that matches the search text.
// A negative from starts before the first line. The search wraps around
// and reports false when no paged line matches.
func (s Snapshot) NextMatch(text string, from int, backward bool) (int, bool) {
	res, ok := s.Results[search.Key(text)]
	if !ok || res.Count() == 0 || s.Total == 0 {
		return 0, false
	}
	line := -1
	if from >= 0 {
		line = s.Rows.At(min(from, s.Total-1))
	}
	n := res.Count()
	start, found := res.Position(line)
	for k := 0; k < n; k++ {
		var i int
		if backward {
			i = ((start-1-k)%n + n) % n
		} else {
			i = start + k
			if found {
				i++
			}
			i %= n
		}
		if pos, ok := s.Rows.Position(res.At(i)); ok {
			return pos, true
		}
	}
	return 0, false
}

// SearchHandle refers to a search added to the session
type SearchHandle struct {
	Metadata search.Metadata
}

// Key returns the search's identity
func (h SearchHandle) Key() string {
	return h.Metadata.Key()
}

type engineEntry struct {
	engine *search.Engine
	meta   search.Metadata
	id     int
}

func (e *engineEntry) rowsKey() string {
	return fmt.Sprintf("%s#%d", e.engine.Name(), e.id)
}

type passResult struct {
	token uint64
	err   error
}

// Session follows one file. All of its streams are latest-wins: a slow
// consumer only ever sees the newest value.
type Session struct {
	path         string
	opts         Options
	logger       *slog.Logger
	watcher      *watch.Watcher
	searches     *search.Collection
	decoder      *source.Decoder
	levels       *logformat.LevelDetector
	materializer *source.Materializer

	latest   *mailbox.Mailbox[index.LineIndex]
	statuses *mailbox.Mailbox[watch.Status]
	pages    *mailbox.Mailbox[Page]
	counts   *mailbox.Mailbox[Counts]
	states   *mailbox.Mailbox[State]
	scrolls  *mailbox.Mailbox[view.ScrollRequest]

	changed  chan struct{}
	progress chan struct{}
	passDone chan passResult

	mu          sync.Mutex
	selected    string
	levelFilter logformat.LevelFilter

	snapshot atomic.Pointer[Snapshot]
	closed   atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// owned by the run loop
	ix         index.LineIndex
	src        io.ReaderAt
	state      State
	req        view.ScrollRequest
	engines    map[string]*engineEntry
	visible    *engineEntry
	visibleKey string
	combiner   *combine.Combiner
	nextID     int
	token      uint64
	passCancel context.CancelFunc
}

// OpenFile starts following path. The file does not need to exist yet.
func OpenFile(ctx context.Context, path string, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Watch.Logger == nil {
		opts.Watch.Logger = opts.Logger
	}
	if opts.Search.Logger == nil {
		opts.Search.Logger = opts.Logger
	}

	encoding := opts.Encoding
	if encoding == "" || encoding == "auto" {
		encoding = sniffFile(path)
	}
	decoder, err := source.NewDecoder(encoding)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	patterns := logformat.DefaultLevelPatterns()
	if opts.Levels != nil {
		patterns = *opts.Levels
	}
	levels := logformat.NewLevelDetector(patterns)

	var compileOpts []search.CompileOption
	if opts.RegexTimeout > 0 {
		compileOpts = append(compileOpts, search.WithRegexTimeout(opts.RegexTimeout))
	}

	s := &Session{
		path:     path,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "session"), slog.String("path", path)),
		watcher:  watch.New(path, opts.Watch),
		searches: search.NewCollection(compileOpts...),
		decoder:  decoder,
		levels:   levels,
		materializer: source.NewMaterializer(source.Options{
			ReadAhead:  opts.ReadAhead,
			Decoder:    decoder,
			Levels:     levels,
			Timestamps: logformat.NewTimestampParser(),
			Logger:     opts.Logger,
		}),
		latest: mailbox.New[index.LineIndex](nil),
		statuses: mailbox.New(func(old, new watch.Status) watch.Status {
			if new.Err == nil {
				new.Err = old.Err
			}
			return new
		}),
		pages:    mailbox.New[Page](nil),
		counts:   mailbox.New[Counts](nil),
		states:   mailbox.New[State](nil),
		scrolls:  mailbox.New[view.ScrollRequest](nil),
		changed:  make(chan struct{}, 1),
		progress: make(chan struct{}, 1),
		passDone: make(chan passResult),
		engines:  make(map[string]*engineEntry),
		ix:       index.Empty(0),
		req:      view.TailRequest(opts.PageSize),
		combiner: combine.New(nil),
	}
	for _, meta := range opts.Searches {
		if _, err := s.searches.Add(meta); err != nil {
			return nil, fmt.Errorf("open %s: search %q: %w", path, meta.Text, err)
		}
	}
	s.searches.Subscribe(func(search.Change) { signal(s.changed) })

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.watcher.Run(ctx); err != nil {
			s.logger.Debug("watcher stopped", slog.Any("error", err))
		}
	}()
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return s, nil
}

func sniffFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	prefix := make([]byte, 4)
	n, _ := io.ReadFull(f, prefix)
	return source.Sniff(prefix[:n])
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Path returns the path given to OpenFile
func (s *Session) Path() string {
	return s.path
}

// Latest delivers each new line index
func (s *Session) Latest() <-chan index.LineIndex {
	return s.latest.C()
}

// Status delivers file status changes. A non-nil Err is terminal.
func (s *Session) Status() <-chan watch.Status {
	return s.statuses.C()
}

// Lines delivers the page for the latest scroll request
func (s *Session) Lines() <-chan Page {
	return s.pages.C()
}

// Counts delivers result set sizes and search progress
func (s *Session) Counts() <-chan Counts {
	return s.counts.C()
}

// States delivers lifecycle changes
func (s *Session) States() <-chan State {
	return s.states.C()
}

// Current returns the data behind the latest page
func (s *Session) Current() Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return Snapshot{Index: index.Empty(0), Results: map[string]search.Result{}}
}

// Materializer returns the session's line loader, for callers that page
// through a Snapshot themselves.
func (s *Session) Materializer() *source.Materializer {
	return s.materializer
}

// Decoder returns the text decoder chosen for the file
func (s *Session) Decoder() *source.Decoder {
	return s.decoder
}

// AddSearch compiles and adds a search. Invalid patterns are rejected here
// with a *search.PatternError.
func (s *Session) AddSearch(meta search.Metadata) (SearchHandle, error) {
	if s.closed.Load() {
		return SearchHandle{}, ErrClosed
	}
	entry, err := s.searches.Add(meta)
	if err != nil {
		return SearchHandle{}, err
	}
	return SearchHandle{Metadata: entry.Metadata}, nil
}

// UpdateSearch replaces the definition of an existing search
func (s *Session) UpdateSearch(meta search.Metadata) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.searches.Update(meta)
	return err
}

// RemoveSearch removes a search by text, ignoring case
func (s *Session) RemoveSearch(text string) bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	if s.selected == search.Key(text) {
		s.selected = ""
	}
	s.mu.Unlock()
	return s.searches.Remove(text)
}

// Searches returns the active searches in precedence order
func (s *Session) Searches() []search.Metadata {
	snap := s.searches.Snapshot()
	out := make([]search.Metadata, len(snap))
	for i, c := range snap {
		out[i] = c.Metadata
	}
	return out
}

// SelectView chooses the result set that is paged. An empty text selects
// the visible set; otherwise only the lines matching that search are shown.
func (s *Session) SelectView(text string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if text != "" {
		if _, ok := s.searches.Get(text); !ok {
			return fmt.Errorf("%w: %s", search.ErrNotFound, text)
		}
	}
	s.mu.Lock()
	s.selected = search.Key(text)
	s.mu.Unlock()
	signal(s.changed)
	return nil
}

// SetLevelFilter restricts the visible set to the given log levels
func (s *Session) SetLevelFilter(f logformat.LevelFilter) {
	s.mu.Lock()
	s.levelFilter = f
	s.mu.Unlock()
	signal(s.changed)
}

// LevelFilter returns the active level filter
func (s *Session) LevelFilter() logformat.LevelFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levelFilter
}

// RequestScroll asks for a new page. Requests that have not been served
// yet are replaced.
func (s *Session) RequestScroll(req view.ScrollRequest) {
	s.scrolls.Put(req)
}

// Close stops the session and closes every stream
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	s.latest.Close()
	s.statuses.Close()
	s.pages.Close()
	s.counts.Close()
	s.states.Close()
	s.scrolls.Close()
	return nil
}
