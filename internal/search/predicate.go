package search

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// DefaultRegexTimeout bounds a single regex evaluation
const DefaultRegexTimeout = 250 * time.Millisecond

// Matcher tests one line of text. A non-nil error is counted against the
// search; the boolean still decides whether the line is kept.
type Matcher interface {
	Test(line string) (bool, error)
}

// MatcherFunc adapts a function to Matcher
type MatcherFunc func(line string) (bool, error)

// Test calls f(line)
func (f MatcherFunc) Test(line string) (bool, error) {
	return f(line)
}

// PatternError reports a regular expression that failed to compile
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Span is a matched byte range [Start, End) within a line
type Span struct {
	Start, End int
}

type compileConfig struct {
	timeout time.Duration
}

// CompileOption tunes Compile
type CompileOption func(*compileConfig)

// WithRegexTimeout sets the per-line regex timeout
func WithRegexTimeout(d time.Duration) CompileOption {
	return func(c *compileConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Predicate is a compiled search. It holds no mutable state and is safe for
// concurrent use.
type Predicate struct {
	meta   Metadata
	needle string
	re     *regexp2.Regexp
}

// Compile turns a search definition into a predicate. Regex definitions are
// compiled once here; an invalid pattern is returned as a *PatternError.
func Compile(meta Metadata, opts ...CompileOption) (*Predicate, error) {
	cfg := compileConfig{timeout: DefaultRegexTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Predicate{meta: meta}
	if !meta.UseRegex {
		p.needle = meta.Text
		if meta.IgnoreCase {
			p.needle = strings.ToLower(meta.Text)
		}
		return p, nil
	}

	options := regexp2.RegexOptions(regexp2.None)
	if meta.IgnoreCase {
		options |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(meta.Text, options)
	if err != nil {
		return nil, &PatternError{Pattern: meta.Text, Err: err}
	}
	re.MatchTimeout = cfg.timeout
	p.re = re
	return p, nil
}

// Metadata returns the definition the predicate was compiled from
func (p *Predicate) Metadata() Metadata {
	return p.meta
}

// Test reports whether line matches. The error is non-nil only when the
// regex engine gave up, for example on timeout.
func (p *Predicate) Test(line string) (bool, error) {
	if p.re != nil {
		return p.re.MatchString(line)
	}
	if p.needle == "" {
		return false, nil
	}
	if p.meta.IgnoreCase {
		return strings.Contains(strings.ToLower(line), p.needle), nil
	}
	return strings.Contains(line, p.needle), nil
}

// Match is Test with errors treated as no match
func (p *Predicate) Match(line string) bool {
	ok, err := p.Test(line)
	return ok && err == nil
}

// Spans returns the byte ranges matched within line, in order. Case-folded
// plain searches fall back to no spans when folding changes byte lengths.
func (p *Predicate) Spans(line string) []Span {
	if p.re != nil {
		return p.regexSpans(line)
	}
	if p.needle == "" {
		return nil
	}

	haystack := line
	if p.meta.IgnoreCase {
		haystack = strings.ToLower(line)
		if len(haystack) != len(line) {
			return nil
		}
	}

	var spans []Span
	for from := 0; from <= len(haystack)-len(p.needle); {
		i := strings.Index(haystack[from:], p.needle)
		if i < 0 {
			break
		}
		start := from + i
		spans = append(spans, Span{Start: start, End: start + len(p.needle)})
		from = start + len(p.needle)
	}
	return spans
}

// regexSpans converts regexp2's rune positions into byte offsets
func (p *Predicate) regexSpans(line string) []Span {
	m, err := p.re.FindStringMatch(line)
	if err != nil || m == nil {
		return nil
	}

	var spans []Span
	byteAt := 0
	runeAt := 0
	toByte := func(r int) int {
		for runeAt < r && byteAt < len(line) {
			_, size := utf8.DecodeRuneInString(line[byteAt:])
			byteAt += size
			runeAt++
		}
		return byteAt
	}

	for m != nil {
		if m.Length > 0 {
			start := toByte(m.Index)
			end := toByte(m.Index + m.Length)
			spans = append(spans, Span{Start: start, End: end})
		}
		m, err = p.re.FindNextMatch(m)
		if err != nil {
			break
		}
	}
	return spans
}
