// Package search compiles search definitions into predicates and evaluates
// them incrementally over a growing line index.
package search

import (
	"errors"
	"fmt"
	"strings"
)

// HighlightingMode controls how a matching search is shown
type HighlightingMode int

const (
	HighlightNone HighlightingMode = iota
	HighlightText                  // only the matched text
	HighlightLine                  // the whole line
)

func (m HighlightingMode) String() string {
	switch m {
	case HighlightNone:
		return "none"
	case HighlightText:
		return "text"
	case HighlightLine:
		return "line"
	}
	return fmt.Sprintf("HighlightingMode(%d)", int(m))
}

// ParseHighlightingMode parses "none", "text" or "line"
func ParseHighlightingMode(s string) (HighlightingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return HighlightNone, nil
	case "text":
		return HighlightText, nil
	case "line":
		return HighlightLine, nil
	}
	return HighlightNone, fmt.Errorf("unknown highlighting mode %q", s)
}

// AutoPosition asks a Collection to place a search after all others
const AutoPosition = -1

var (
	ErrEmptySearch     = errors.New("search text is empty")
	ErrDuplicateSearch = errors.New("search already exists")
	ErrNotFound        = errors.New("search not found")
)

// Metadata defines one search. Two definitions with the same text, ignoring
// case, are the same search.
type Metadata struct {
	Text        string
	UseRegex    bool
	IgnoreCase  bool
	IsExclusion bool
	Filter      bool
	Highlight   HighlightingMode
	Position    int
	Hue         string
	Icon        string
}

// Key returns the identity of the search
func (m Metadata) Key() string {
	return Key(m.Text)
}

// Key normalises search text into a collection key
func Key(text string) string {
	return strings.ToLower(text)
}

// Highlights reports whether the search contributes line annotations.
// Exclusions are never highlighted.
func (m Metadata) Highlights() bool {
	return !m.IsExclusion && m.Highlight != HighlightNone
}

func (m Metadata) String() string {
	kind := "text"
	if m.UseRegex {
		kind = "regex"
	}
	if m.IsExclusion {
		kind = "exclude " + kind
	}
	return fmt.Sprintf("%s %q", kind, m.Text)
}
