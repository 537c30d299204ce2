package session

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/TimelordUK/tailview/internal/combine"
	"github.com/TimelordUK/tailview/internal/index"
	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/internal/view"
	"github.com/TimelordUK/tailview/internal/watch"
	"github.com/TimelordUK/tailview/pkg/logformat"
)

const visibleName = "<visible>"

// run owns the session's derived state. Every field below the mutex in
// Session is touched only from here.
func (s *Session) run(ctx context.Context) {
	defer func() {
		if s.passCancel != nil {
			s.passCancel()
		}
	}()

	s.reconcile()
	updates := s.watcher.Updates()
	statuses := s.watcher.Statuses()

	for {
		select {
		case <-ctx.Done():
			return

		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.onUpdate(ctx, u)

		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			s.onStatus(ctx, st)

		case req := <-s.scrolls.C():
			s.req = req
			s.render(ctx)

		case <-s.changed:
			if s.reconcile() {
				s.applyAll()
				s.startPass(ctx)
			}
			s.render(ctx)

		case <-s.progress:
			s.render(ctx)

		case res := <-s.passDone:
			if res.token != s.token {
				continue
			}
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				s.logger.Warn("search pass failed", slog.Any("error", res.err))
			}
			if s.state != Failed {
				s.setState(Ready)
			}
			s.render(ctx)
		}
	}
}

func (s *Session) onUpdate(ctx context.Context, u watch.Update) {
	s.ix = u.Index
	s.src = u.Source
	if u.Reset {
		s.logger.Info("rescanning", slog.Uint64("generation", u.Index.Generation()))
		s.setState(Rescanning)
		s.materializer.Invalidate()
	}
	s.latest.Put(u.Index)
	s.applyAll()
	s.startPass(ctx)
	s.render(ctx)
}

func (s *Session) onStatus(ctx context.Context, st watch.Status) {
	s.statuses.Put(st)
	switch {
	case st.Err != nil:
		s.logger.Error("file unavailable", slog.Any("error", st.Err))
		if s.passCancel != nil {
			s.passCancel()
		}
		s.setState(Failed)
		s.render(ctx)
	case st.Indexing:
		if s.state != Rescanning {
			s.setState(Indexing)
		}
	case st.Retries > 0 && s.state == Indexing:
		s.setState(Ready)
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("state", slog.String("from", s.state.String()), slog.String("to", st.String()))
	s.state = st
	s.states.Put(st)
}

// applyAll brings the identity engine up to date. It never reads the file.
func (s *Session) applyAll() {
	if s.visible != nil && s.visibleKey == "" {
		s.visible.engine.Apply(context.Background(), s.ix, s.src)
	}
}

func (s *Session) newEngine(name string, m search.Matcher, meta search.Metadata) *engineEntry {
	opts := s.opts.Search
	opts.Decode = s.decoder.String
	opts.OnProgress = func(search.Result) { signal(s.progress) }

	s.nextID++
	e := &engineEntry{meta: meta, id: s.nextID}
	if m == nil {
		e.engine = search.NewAllEngine(opts)
	} else {
		e.engine = search.NewEngine(name, m, opts)
	}
	return e
}

// sameMatcher reports whether two definitions select the same lines
func sameMatcher(a, b search.Metadata) bool {
	return a.Text == b.Text && a.UseRegex == b.UseRegex && a.IgnoreCase == b.IgnoreCase
}

// reconcile brings the engines in line with the search collection and
// reports whether any engine was created or dropped.
func (s *Session) reconcile() bool {
	snap := s.searches.Snapshot()
	s.combiner = combine.New(snap)

	changed := false
	live := make(map[string]bool, len(snap))
	for _, c := range snap {
		key := c.Metadata.Key()
		live[key] = true
		if cur, ok := s.engines[key]; ok && sameMatcher(cur.meta, c.Metadata) {
			cur.meta = c.Metadata
			continue
		}
		s.engines[key] = s.newEngine(c.Metadata.Text, c.Predicate, c.Metadata)
		changed = true
	}
	for key := range s.engines {
		if !live[key] {
			delete(s.engines, key)
			changed = true
		}
	}

	s.mu.Lock()
	levels := s.levelFilter
	if _, ok := s.engines[s.selected]; !ok {
		s.selected = ""
	}
	s.mu.Unlock()

	key := s.combiner.Key()
	if levels.Active() {
		key += "|levels:" + levels.Key()
	}
	if s.visible == nil || key != s.visibleKey {
		s.visibleKey = key
		if key == "" {
			s.visible = s.newEngine(search.AllName, nil, search.Metadata{})
		} else {
			s.visible = s.newEngine(visibleName, s.visibleMatcher(levels), search.Metadata{})
		}
		changed = true
	}
	return changed
}

// visibleMatcher combines the filter searches with the level filter
func (s *Session) visibleMatcher(levels logformat.LevelFilter) search.Matcher {
	filter := s.combiner.FilterPredicate()
	hasFilter := s.combiner.HasFilter()
	detector := s.levels
	return search.MatcherFunc(func(line string) (bool, error) {
		var err error
		if hasFilter {
			var ok bool
			if ok, err = filter.Test(line); !ok {
				return false, err
			}
		}
		return levels.Allows(detector.Detect(line)), err
	})
}

// startPass cancels any running search pass and starts a new one over the
// current index. Each engine runs in its own goroutine so a slow search
// never holds back the others. Results of a superseded pass are ignored by
// token.
func (s *Session) startPass(ctx context.Context) {
	if s.passCancel != nil {
		s.passCancel()
		s.passCancel = nil
	}
	if s.state == Failed {
		return
	}

	engines := s.passEngines()
	if len(engines) == 0 {
		s.setState(Ready)
		return
	}

	s.token++
	token := s.token
	pctx, cancel := context.WithCancel(ctx)
	s.passCancel = cancel
	s.setState(Scanning)

	ix, src := s.ix, s.src
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		g, gctx := errgroup.WithContext(pctx)
		for _, e := range engines {
			g.Go(func() error {
				_, err := e.Apply(gctx, ix, src)
				return err
			})
		}
		err := g.Wait()
		select {
		case s.passDone <- passResult{token: token, err: err}:
		case <-ctx.Done():
		}
	}()
}

// passEngines lists the engines that read the file
func (s *Session) passEngines() []*search.Engine {
	var out []*search.Engine
	if s.visible != nil && s.visibleKey != "" {
		out = append(out, s.visible.engine)
	}

	s.mu.Lock()
	selected := s.selected
	s.mu.Unlock()
	if e, ok := s.engines[selected]; ok {
		out = append(out, e.engine)
	}
	for _, c := range s.searches.Snapshot() {
		key := c.Metadata.Key()
		if e, ok := s.engines[key]; ok && key != selected {
			out = append(out, e.engine)
		}
	}
	return out
}

// selectedEntry returns the engine being paged and the view name
func (s *Session) selectedEntry() (*engineEntry, string) {
	s.mu.Lock()
	selected := s.selected
	s.mu.Unlock()
	if e, ok := s.engines[selected]; ok && selected != "" {
		return e, e.meta.Text
	}
	return s.visible, ""
}

// resultFor returns e's result if it belongs to ix's generation
func resultFor(e *engineEntry, ix index.LineIndex) search.Result {
	if e == nil {
		return search.Result{}
	}
	res := e.engine.Current()
	if res.Generation() != ix.Generation() {
		return search.Result{}
	}
	return res
}

func (s *Session) render(ctx context.Context) {
	entry, name := s.selectedEntry()
	res := resultFor(entry, s.ix)
	total := res.Count()
	win := view.Resolve(s.req, total)

	rowsKey := ""
	if entry != nil {
		rowsKey = entry.rowsKey()
	}
	results := make(map[string]search.Result, len(s.engines))
	for key, e := range s.engines {
		results[key] = resultFor(e, s.ix)
	}
	snap := &Snapshot{
		Index:    s.ix,
		Source:   s.src,
		Rows:     res,
		RowsKey:  rowsKey,
		Total:    total,
		Combiner: s.combiner,
		State:    s.state,
		View:     name,
		Results:  results,
	}
	s.snapshot.Store(snap)

	lines, err := s.materializer.Load(ctx, snap.Page(win))
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("cannot load page", slog.Any("error", err), slog.Int("first", win.First))
	}

	s.pages.Put(Page{
		Request:    s.req,
		Window:     win,
		Total:      total,
		Lines:      lines,
		State:      s.state,
		View:       name,
		Generation: s.ix.Generation(),
	})
	s.counts.Put(s.currentCounts())
}

func (s *Session) currentCounts() Counts {
	c := Counts{
		Total:      s.ix.Count(),
		PerSearch:  make(map[string]int, len(s.engines)),
		Progress:   make(map[string]search.Progress, len(s.engines)),
		Generation: s.ix.Generation(),
	}
	vis := resultFor(s.visible, s.ix)
	c.Matching = vis.Count()
	c.Errors = vis.Errors
	for _, e := range s.engines {
		res := resultFor(e, s.ix)
		c.PerSearch[e.meta.Text] = res.Count()
		c.Progress[e.meta.Text] = res.Progress
		c.Errors += res.Errors
	}
	return c
}
