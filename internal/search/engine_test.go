package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TimelordUK/tailview/internal/index"
)

// growingFile is an io.ReaderAt over content that tests can append to
type growingFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *growingFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.NewReader(f.data).ReadAt(p, off)
}

func (f *growingFile) append(s string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, s...)
	return int64(len(f.data))
}

func scanString(t *testing.T, s *index.Scanner, f *growingFile, text string) index.LineIndex {
	t.Helper()
	size := f.append(text)
	ix, err := s.Scan(context.Background(), f, size)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return ix
}

func mustCompile(t *testing.T, meta Metadata) *Predicate {
	t.Helper()
	p, err := Compile(meta)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return p
}

func TestEngine_PlainSearch(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	ix := scanString(t, s, f, "a\nbERRORc\nd\nERROR e\n")

	e := NewEngine("ERROR", mustCompile(t, Metadata{Text: "ERROR"}), Options{})
	res, err := e.Apply(context.Background(), ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", res.Count())
	}
	if got := res.Lines(0, 10); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("Lines() = %v, want [1 3]", got)
	}
}

func TestEngine_RegexSearch(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	ix := scanString(t, s, f, "123\r\n12a3\r\n456\r\n")

	e := NewEngine("digits", mustCompile(t, Metadata{Text: `^\d+$`, UseRegex: true}), Options{})
	res, err := e.Apply(context.Background(), ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := res.Lines(0, 10); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Errorf("Lines() = %v, want [0 2]", got)
	}
}

func TestEngine_CompleteAcrossSegments(t *testing.T) {
	var b strings.Builder
	var want []int
	for i := 0; i < 5000; i++ {
		if i%7 == 3 {
			fmt.Fprintf(&b, "%06d ERROR something broke\n", i)
			want = append(want, i)
		} else {
			fmt.Fprintf(&b, "%06d INFO all fine\n", i)
		}
	}

	f := &growingFile{}
	s := index.NewScanner(index.Options{SegmentSize: 512, Workers: 4})
	ix := scanString(t, s, f, b.String())

	var mu sync.Mutex
	var progress []Progress
	e := NewEngine("ERROR", mustCompile(t, Metadata{Text: "ERROR"}), Options{
		SegmentSize: 1024,
		Workers:     4,
		OnProgress: func(r Result) {
			mu.Lock()
			progress = append(progress, r.Progress)
			mu.Unlock()
		},
	})
	res, err := e.Apply(context.Background(), ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Count() != len(want) {
		t.Fatalf("Count() = %d, want %d", res.Count(), len(want))
	}
	if got := res.Lines(0, res.Count()); !reflect.DeepEqual(got, want) {
		t.Error("Lines() differ from expected ascending matches")
	}
	if res.Progress.Searching {
		t.Error("final Progress.Searching = true, want false")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) == 0 {
		t.Fatal("OnProgress was never called")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i].Completed <= progress[i-1].Completed {
			t.Errorf("progress went from %d to %d", progress[i-1].Completed, progress[i].Completed)
		}
	}
	if last := progress[len(progress)-1]; last.Completed != last.Total {
		t.Errorf("last progress = %+v, want completed", last)
	}
}

type countingMatcher struct {
	mu    sync.Mutex
	calls []string
	inner Matcher
}

func (m *countingMatcher) Test(line string) (bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, line)
	m.mu.Unlock()
	return m.inner.Test(line)
}

func TestEngine_Incremental(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	m := &countingMatcher{inner: mustCompile(t, Metadata{Text: "x"})}
	e := NewEngine("x", m, Options{})
	ctx := context.Background()

	ix := scanString(t, s, f, "x1\nb\n")
	first, err := e.Apply(ctx, ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	ix = scanString(t, s, f, "c\nx2\n")
	second, err := e.Apply(ctx, ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(m.calls) != 4 {
		t.Errorf("matcher called %d times, want 4: %v", len(m.calls), m.calls)
	}
	if first.Count() != 1 {
		t.Errorf("first Count() = %d, want 1", first.Count())
	}
	if got := second.Lines(0, 10); !reflect.DeepEqual(got, []int{0, 3}) {
		t.Errorf("second Lines() = %v, want [0 3]", got)
	}
}

func TestEngine_PartialLineRevised(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	e := NewEngine("ERROR", mustCompile(t, Metadata{Text: "ERROR"}), Options{})
	ctx := context.Background()

	ix := scanString(t, s, f, "ERROR one\nERR")
	before, err := e.Apply(ctx, ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if before.Count() != 1 {
		t.Fatalf("before Count() = %d, want 1", before.Count())
	}

	ix = scanString(t, s, f, "OR two\n")
	after, err := e.Apply(ctx, ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := after.Lines(0, 10); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Errorf("after Lines() = %v, want [0 1]", got)
	}
	if before.Count() != 1 || before.At(0) != 0 {
		t.Error("earlier result snapshot was modified")
	}
}

func TestEngine_PartialMatchWithdrawn(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	e := NewEngine("short", mustCompile(t, Metadata{Text: `^ab$`, UseRegex: true}), Options{})
	ctx := context.Background()

	ix := scanString(t, s, f, "zz\nab")
	before, _ := e.Apply(ctx, ix, f)
	if got := before.Lines(0, 10); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("before Lines() = %v, want [1]", got)
	}

	ix = scanString(t, s, f, "c\nab\n")
	after, _ := e.Apply(ctx, ix, f)
	if got := after.Lines(0, 10); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("after Lines() = %v, want [2]", got)
	}
	if before.At(0) != 1 {
		t.Errorf("before.At(0) = %d, want 1", before.At(0))
	}
}

func TestEngine_GenerationChangeResets(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	e := NewEngine("x", mustCompile(t, Metadata{Text: "x"}), Options{})
	ctx := context.Background()

	ix := scanString(t, s, f, "x\nx\nx\n")
	if res, _ := e.Apply(ctx, ix, f); res.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", res.Count())
	}

	f.data = nil
	s.Reset()
	ix = scanString(t, s, f, "a\nx\n")
	res, err := e.Apply(ctx, ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Generation() != ix.Generation() {
		t.Errorf("Generation() = %d, want %d", res.Generation(), ix.Generation())
	}
	if got := res.Lines(0, 10); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Lines() = %v, want [1]", got)
	}
}

func TestEngine_PredicateErrorsCounted(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	ix := scanString(t, s, f, "ok\nboom\nkept\nok\n")

	m := MatcherFunc(func(line string) (bool, error) {
		switch line {
		case "boom":
			return false, errors.New("boom")
		case "kept":
			return true, errors.New("excluder failed")
		}
		return true, nil
	})
	e := NewEngine("flaky", m, Options{})
	res, err := e.Apply(context.Background(), ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Errors != 2 {
		t.Errorf("Errors = %d, want 2", res.Errors)
	}
	if got := res.Lines(0, 10); !reflect.DeepEqual(got, []int{0, 2, 3}) {
		t.Errorf("Lines() = %v, want [0 2 3]", got)
	}
}

func TestEngine_CancelStopsBetweenLines(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	ix := scanString(t, s, f, strings.Repeat("x\n", 200))

	ctx, cancel := context.WithCancel(context.Background())
	m := MatcherFunc(func(line string) (bool, error) {
		time.Sleep(5 * time.Millisecond)
		return true, nil
	})
	e := NewEngine("slow", m, Options{Workers: 1})

	done := make(chan error, 1)
	go func() {
		_, err := e.Apply(ctx, ix, f)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Apply() error = %v, want context.Canceled", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Apply() kept evaluating lines after cancel")
	}
}

func TestEngine_CancelledKeepsPrefix(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	ix := scanString(t, s, f, strings.Repeat("x\n", 100))

	e := NewEngine("x", mustCompile(t, Metadata{Text: "x"}), Options{SegmentSize: 20, Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Apply(ctx, ix, f); !errors.Is(err, context.Canceled) {
		t.Fatalf("Apply() error = %v, want context.Canceled", err)
	}

	res, err := e.Apply(context.Background(), ix, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Count() != 100 {
		t.Errorf("Count() = %d, want 100", res.Count())
	}
}

func TestAllEngine_Identity(t *testing.T) {
	f := &growingFile{}
	s := index.NewScanner(index.Options{})
	ix := scanString(t, s, f, "a\nb\nc")

	e := NewAllEngine(Options{})
	res, err := e.Apply(context.Background(), ix, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !res.Identity() || res.Count() != 3 {
		t.Fatalf("result = identity %v count %d, want identity count 3", res.Identity(), res.Count())
	}
	if res.At(2) != 2 || res.At(3) != -1 {
		t.Errorf("At(2), At(3) = %d, %d, want 2, -1", res.At(2), res.At(3))
	}
	if pos, ok := res.Position(1); !ok || pos != 1 {
		t.Errorf("Position(1) = %d, %v, want 1, true", pos, ok)
	}
}

func TestResult_Position(t *testing.T) {
	r := Result{lines: []int{2, 5, 9}, count: 3}
	tests := []struct {
		line  int
		pos   int
		found bool
	}{
		{5, 1, true},
		{6, 2, false},
		{0, 0, false},
		{10, 3, false},
	}
	for _, tt := range tests {
		pos, found := r.Position(tt.line)
		if pos != tt.pos || found != tt.found {
			t.Errorf("Position(%d) = %d, %v, want %d, %v", tt.line, pos, found, tt.pos, tt.found)
		}
	}
}

var _ io.ReaderAt = (*growingFile)(nil)
