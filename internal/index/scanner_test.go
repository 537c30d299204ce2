package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func starts(ix LineIndex) []int64 {
	out := make([]int64, ix.Count())
	for i := range out {
		out[i] = lineStart(ix, i)
	}
	return out
}

func scanAll(t *testing.T, s *Scanner, content string) LineIndex {
	t.Helper()
	ix, err := s.Scan(context.Background(), strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return ix
}

func TestScan_LineStarts(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []int64
		partial bool
	}{
		{"empty", "", []int64{}, false},
		{"single unterminated", "abc", []int64{0}, true},
		{"single terminated", "abc\n", []int64{0}, false},
		{"three lines", "a\nbb\nccc\n", []int64{0, 2, 5}, false},
		{"trailing partial", "a\nbb\ncc", []int64{0, 2, 5}, true},
		{"empty lines", "\n\n\n", []int64{0, 1, 2}, false},
		{"crlf", "a\r\nb\r\n", []int64{0, 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := scanAll(t, NewScanner(Options{}), tt.content)
			if got := starts(ix); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("starts = %v, want %v", got, tt.want)
			}
			if ix.Partial() != tt.partial {
				t.Errorf("Partial() = %v, want %v", ix.Partial(), tt.partial)
			}
			if ix.Size() != int64(len(tt.content)) {
				t.Errorf("Size() = %d, want %d", ix.Size(), len(tt.content))
			}
		})
	}
}

func TestScan_SegmentBoundariesMatchSingleSegment(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "line %d %s\n", i, strings.Repeat("x", i%17))
	}
	content := b.String()

	want := starts(scanAll(t, NewScanner(Options{SegmentSize: 1 << 30}), content))

	for _, size := range []int64{1, 3, 7, 64, 1000} {
		t.Run(fmt.Sprintf("segment=%d", size), func(t *testing.T) {
			ix := scanAll(t, NewScanner(Options{SegmentSize: size, Workers: 4}), content)
			if got := starts(ix); !reflect.DeepEqual(got, want) {
				t.Fatalf("segmented scan differs: got %d lines, want %d", len(got), len(want))
			}
		})
	}
}

// Growing files keep every earlier LineInfo and never lose lines.
func TestScan_IncrementalMonotonic(t *testing.T) {
	s := NewScanner(Options{SegmentSize: 5})
	content := ""
	var prev LineIndex
	chunks := []string{"alpha\nbe", "ta\n", "", "gamma\ndelta", "\n", "epsilon\n"}

	for step, chunk := range chunks {
		content += chunk
		ix := scanAll(t, s, content)
		if ix.Count() < prev.Count() {
			t.Fatalf("step %d: Count decreased %d -> %d", step, prev.Count(), ix.Count())
		}
		for i := 0; i < prev.Count(); i++ {
			if lineStart(ix, i) != lineStart(prev, i) {
				t.Fatalf("step %d: line %d moved %d -> %d", step, i, lineStart(prev, i), lineStart(ix, i))
			}
		}
		prev = ix
	}

	fresh := scanAll(t, NewScanner(Options{}), content)
	if !reflect.DeepEqual(starts(prev), starts(fresh)) {
		t.Fatalf("incremental starts %v, fresh %v", starts(prev), starts(fresh))
	}
	if prev.Count() != 5 {
		t.Fatalf("Count = %d, want 5", prev.Count())
	}
}

func TestScan_EndOfTail(t *testing.T) {
	s := NewScanner(Options{})
	scanAll(t, s, "a\nb\n")
	ix := scanAll(t, s, "a\nb\nc\nd\n")

	if ix.TailFrom() != 2 {
		t.Fatalf("TailFrom = %d, want 2", ix.TailFrom())
	}
	first, _ := ix.Line(1)
	last, _ := ix.Line(3)
	if first.EndOfTail || !last.EndOfTail {
		t.Fatalf("EndOfTail line1=%v line3=%v, want false true", first.EndOfTail, last.EndOfTail)
	}
}

func TestScan_ShrinkAndRescan(t *testing.T) {
	s := NewScanner(Options{SegmentSize: 4})
	old := scanAll(t, s, "one\ntwo\nthree\nfour\n")

	replacement := "x\nyy\n"
	_, err := s.Scan(context.Background(), strings.NewReader(replacement), int64(len(replacement)))
	if !errors.Is(err, ErrShrunk) {
		t.Fatalf("Scan after truncate err = %v, want ErrShrunk", err)
	}

	reset := s.Reset()
	if reset.Count() != 0 || reset.Generation() == old.Generation() {
		t.Fatalf("Reset count=%d gen=%d, want 0 and new generation", reset.Count(), reset.Generation())
	}

	rescanned := scanAll(t, s, replacement)
	fresh := scanAll(t, NewScanner(Options{}), replacement)
	if !reflect.DeepEqual(starts(rescanned), starts(fresh)) {
		t.Fatalf("rescan starts %v, fresh %v", starts(rescanned), starts(fresh))
	}

	// The old snapshot is untouched by the rescan
	if old.Count() != 4 || lineStart(old, 3) != 14 {
		t.Fatalf("old snapshot mutated: count=%d last=%d", old.Count(), lineStart(old, 3))
	}
}

func TestScan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScanner(Options{SegmentSize: 2})
	content := "a\nb\nc\n"
	if _, err := s.Scan(ctx, strings.NewReader(content), int64(len(content))); err == nil {
		t.Fatal("Scan with cancelled context returned nil error")
	}
	if s.Snapshot().Count() != 0 {
		t.Fatalf("failed scan changed the index")
	}
}

func TestSegmentsFor_Aligned(t *testing.T) {
	got := segmentsFor(5, 23, 10)
	want := []segment{{5, 10}, {10, 20}, {20, 23}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("segmentsFor = %v, want %v", got, want)
	}
}

func TestLineIndex_SpanRanges(t *testing.T) {
	content := "aaaa\nbb\ncccccc\nd"
	ix := scanAll(t, NewScanner(Options{}), content)
	r := bytes.NewReader([]byte(content))

	start, end := ix.Span(1)
	buf := make([]byte, end-start)
	if _, err := r.ReadAt(buf, start); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "bb\n" {
		t.Fatalf("Span(1) bytes = %q, want %q", buf, "bb\n")
	}
	if s, e := ix.Span(3); s != 15 || e != 16 {
		t.Fatalf("Span(3) = [%d,%d), want [15,16)", s, e)
	}

	ranges := ix.Ranges(1, 8)
	want := []LineRange{{First: 1, Last: 3, Start: 5, End: 15}, {First: 3, Last: 4, Start: 15, End: 16}}
	if !reflect.DeepEqual(ranges, want) {
		t.Fatalf("Ranges = %+v, want %+v", ranges, want)
	}
}

func lineStart(ix LineIndex, i int) int64 {
	start, _ := ix.Span(i)
	return start
}
