package combine

import (
	"strings"
	"testing"
	"time"

	"github.com/TimelordUK/tailview/internal/search"
)

func compiled(t *testing.T, metas ...search.Metadata) []search.Compiled {
	t.Helper()
	c := search.NewCollection()
	for _, m := range metas {
		if _, err := c.Add(m); err != nil {
			t.Fatalf("Add(%q) error = %v", m.Text, err)
		}
	}
	return c.Snapshot()
}

func TestCombiner_FilterWithExclusion(t *testing.T) {
	c := New(compiled(t,
		search.Metadata{Text: "WARN", Filter: true},
		search.Metadata{Text: "WARN:ignore", Filter: true, IsExclusion: true, Position: 1},
	))

	tests := []struct {
		line string
		want bool
	}{
		{"WARN disk almost full", true},
		{"WARN:ignore noisy retry", false},
		{"INFO started", false},
	}
	for _, tt := range tests {
		if got := c.Filter(tt.line); got != tt.want {
			t.Errorf("Filter(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestCombiner_NoFilterPassesAll(t *testing.T) {
	c := New(compiled(t, search.Metadata{Text: "ERROR", Highlight: search.HighlightLine}))
	if c.HasFilter() {
		t.Error("HasFilter() = true, want false")
	}
	if !c.Filter("anything") {
		t.Error("Filter() = false with no filter searches")
	}
}

func TestCombiner_FirstMatchByPosition(t *testing.T) {
	c := New(compiled(t,
		search.Metadata{Text: "e", Highlight: search.HighlightText, Position: 1},
		search.Metadata{Text: "ERROR", Highlight: search.HighlightLine, Position: 0},
	))

	m := c.Annotate("ERROR encountered")
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	first, ok := m.FirstMatch()
	if !ok || first.Metadata.Text != "ERROR" {
		t.Errorf("FirstMatch() = %q, want ERROR", first.Metadata.Text)
	}
	second := m.All()[1]
	if len(second.Spans) != 3 {
		t.Errorf("text-mode spans = %v, want 3 spans", second.Spans)
	}
	if first.Spans != nil {
		t.Errorf("line-mode spans = %v, want nil", first.Spans)
	}
}

func TestCombiner_ExclusionsNeverHighlight(t *testing.T) {
	c := New(compiled(t,
		search.Metadata{Text: "debug", IsExclusion: true, Highlight: search.HighlightLine},
		search.Metadata{Text: "quiet", Highlight: search.HighlightNone},
	))
	if m := c.Annotate("debug quiet"); !m.IsEmpty() {
		t.Errorf("Annotate() = %d matches, want none", m.Len())
	}
}

func TestCombiner_FilterAndHighlightIndependent(t *testing.T) {
	c := New(compiled(t,
		search.Metadata{Text: "WARN", Filter: true, Highlight: search.HighlightNone},
		search.Metadata{Text: "disk", Highlight: search.HighlightLine, Position: 1},
	))
	line := "WARN disk almost full"
	if !c.Filter(line) {
		t.Error("Filter() = false, want true")
	}
	m := c.Annotate(line)
	if m.Len() != 1 || m.All()[0].Metadata.Text != "disk" {
		t.Errorf("Annotate() = %+v, want only disk", m.All())
	}
	if c.Filter("INFO disk ok") {
		t.Error("highlight-only search should not admit lines into the filter")
	}
}

func TestCombiner_EmptyMatchesShared(t *testing.T) {
	c := New(compiled(t, search.Metadata{Text: "zzz", Highlight: search.HighlightLine}))
	m := c.Annotate("abc")
	if !m.IsEmpty() || m.All() != nil {
		t.Errorf("Annotate() = %+v, want EmptyMatches", m)
	}
}

func TestCombiner_FilterPredicateForEngine(t *testing.T) {
	c := New(compiled(t, search.Metadata{Text: "ok", Filter: true}))
	p := c.FilterPredicate()
	got, err := p.Test("all ok")
	if err != nil || !got {
		t.Errorf("Test() = %v, %v, want true, nil", got, err)
	}

	other := New(compiled(t, search.Metadata{Text: "OK", Filter: true, IgnoreCase: true}))
	if c.Key() == other.Key() {
		t.Error("Key() should differ when filter flags differ")
	}
}

func TestCombiner_FailedSearchOnlyAffectsItself(t *testing.T) {
	coll := search.NewCollection(search.WithRegexTimeout(time.Millisecond))
	add := func(m search.Metadata) {
		t.Helper()
		if _, err := coll.Add(m); err != nil {
			t.Fatalf("Add(%q) error = %v", m.Text, err)
		}
	}
	add(search.Metadata{Text: `^(a+)+$`, UseRegex: true, Filter: true, IsExclusion: true})
	add(search.Metadata{Text: "drop", Filter: true, IsExclusion: true, Position: 1})
	c := New(coll.Snapshot())

	slow := strings.Repeat("a", 40) + "!"
	if !c.Filter(slow) {
		t.Error("Filter() = false: a failed exclusion removed the line")
	}
	ok, err := c.FilterPredicate().Test(slow)
	if !ok || err == nil {
		t.Errorf("Test() = %v, %v, want true and the timeout error", ok, err)
	}
	if c.Filter("drop " + slow) {
		t.Error("Filter() = true: the other exclusion should still apply")
	}

	incl := search.NewCollection(search.WithRegexTimeout(time.Millisecond))
	if _, err := incl.Add(search.Metadata{Text: `^(a+)+$`, UseRegex: true, Filter: true}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if New(incl.Snapshot()).Filter(slow) {
		t.Error("Filter() = true: a failed include should not match")
	}
}
