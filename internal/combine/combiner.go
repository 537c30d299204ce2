// Package combine merges the active searches into a filter stage, which
// decides what is visible, and a highlight stage, which annotates it.
package combine

import (
	"github.com/TimelordUK/tailview/internal/search"
)

// Match is one search that matched a line
type Match struct {
	Metadata search.Metadata
	Spans    []search.Span // set for HighlightText only
}

// LineMatches lists the highlight searches matching one line in precedence
// order.
type LineMatches struct {
	matches []Match
}

// EmptyMatches is shared by every line nothing matched
var EmptyMatches = LineMatches{}

// All returns the matches in precedence order. The slice must not be
// modified.
func (m LineMatches) All() []Match {
	return m.matches
}

// FirstMatch returns the highest precedence match
func (m LineMatches) FirstMatch() (Match, bool) {
	if len(m.matches) == 0 {
		return Match{}, false
	}
	return m.matches[0], true
}

// Len returns the number of matches
func (m LineMatches) Len() int {
	return len(m.matches)
}

// IsEmpty reports whether no search matched
func (m LineMatches) IsEmpty() bool {
	return len(m.matches) == 0
}

// Combiner evaluates a fixed set of searches. Build a new one whenever the
// set changes; a Combiner is immutable and safe for concurrent use.
type Combiner struct {
	highlights []search.Compiled
	includes   []search.Compiled
	excludes   []search.Compiled
}

// New creates a combiner. searches may be in any order.
func New(searches []search.Compiled) *Combiner {
	ordered := make([]search.Compiled, len(searches))
	copy(ordered, searches)
	search.SortCompiled(ordered)

	c := &Combiner{}
	for _, s := range ordered {
		meta := s.Metadata
		if meta.Filter {
			if meta.IsExclusion {
				c.excludes = append(c.excludes, s)
			} else {
				c.includes = append(c.includes, s)
			}
		}
		if meta.Highlights() {
			c.highlights = append(c.highlights, s)
		}
	}
	return c
}

// Annotate returns the highlight searches matching text
func (c *Combiner) Annotate(text string) LineMatches {
	var matches []Match
	for _, s := range c.highlights {
		if !s.Predicate.Match(text) {
			continue
		}
		m := Match{Metadata: s.Metadata}
		if s.Metadata.Highlight == search.HighlightText {
			m.Spans = s.Predicate.Spans(text)
		}
		matches = append(matches, m)
	}
	if matches == nil {
		return EmptyMatches
	}
	return LineMatches{matches: matches}
}

// HasFilter reports whether any search takes part in filtering
func (c *Combiner) HasFilter() bool {
	return len(c.includes) > 0 || len(c.excludes) > 0
}

// Filter reports whether text belongs in the visible set: it must match
// every filter include and no filter exclusion. A search that fails on text
// counts as not matching it, so a failed exclusion keeps the line.
func (c *Combiner) Filter(text string) bool {
	ok, _ := c.test(text)
	return ok
}

// test returns the filter decision and the first predicate error met while
// reaching it. The error never changes the decision beyond treating that
// one search as not matching.
func (c *Combiner) test(text string) (bool, error) {
	for _, s := range c.includes {
		ok, err := s.Predicate.Test(text)
		if err != nil || !ok {
			return false, err
		}
	}
	var firstErr error
	for _, s := range c.excludes {
		ok, err := s.Predicate.Test(text)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return false, firstErr
		}
	}
	return true, firstErr
}

// FilterPredicate exposes the filter stage as a search.Matcher so a search
// engine can compute the visible set. A non-nil error is only counted; the
// boolean is the decision.
func (c *Combiner) FilterPredicate() search.Matcher {
	return search.MatcherFunc(c.test)
}

// Key identifies the filter stage so callers can tell when the visible set
// needs recomputing.
func (c *Combiner) Key() string {
	key := ""
	for _, s := range c.includes {
		key += "+" + filterKey(s.Metadata)
	}
	for _, s := range c.excludes {
		key += "-" + filterKey(s.Metadata)
	}
	return key
}

func filterKey(m search.Metadata) string {
	flags := []byte{'p', 'c'}
	if m.UseRegex {
		flags[0] = 'r'
	}
	if m.IgnoreCase {
		flags[1] = 'i'
	}
	return string(flags) + ":" + m.Text + "\x00"
}
