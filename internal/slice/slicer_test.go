package slice

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TimelordUK/tailview/internal/index"
	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/internal/session"
	"github.com/TimelordUK/tailview/internal/source"
)

const sample = "2024-01-15 10:00:00 INFO start\r\n" +
	"2024-01-15 10:00:01 ERROR disk full\n" +
	"2024-01-15 10:00:02 INFO retry\n" +
	"2024-01-15 10:00:03 ERROR still full\n" +
	"tail without newline"

func snapshotFor(t *testing.T, content string, m search.Matcher) session.Snapshot {
	t.Helper()
	ctx := context.Background()
	r := bytes.NewReader([]byte(content))
	ix, err := index.NewScanner(index.Options{}).Scan(ctx, r, int64(len(content)))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	engine := search.NewAllEngine(search.Options{})
	if m != nil {
		engine = search.NewEngine("test", m, search.Options{})
	}
	res, err := engine.Apply(ctx, ix, r)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	return session.Snapshot{Index: ix, Source: r, Rows: res, RowsKey: "test", Total: res.Count()}
}

func newSlicer() *Slicer {
	return NewSlicer(source.NewMaterializer(source.Options{}), nil)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(b)
}

func TestSlicer_SliceAll(t *testing.T) {
	snap := snapshotFor(t, sample, nil)
	out := filepath.Join(t.TempDir(), "all.log")

	info, err := newSlicer().SliceAll(context.Background(), "app.log", snap, out)
	if err != nil {
		t.Fatalf("SliceAll() error = %v", err)
	}
	if info.Lines != 5 || info.First != 0 || info.Last != 5 {
		t.Errorf("Info = %+v, want 5 lines [0,5)", info)
	}

	want := strings.ReplaceAll(sample, "\r\n", "\n") + "\n"
	if got := readFile(t, out); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSlicer_SliceFilteredRange(t *testing.T) {
	pred, err := search.Compile(search.Metadata{Text: "ERROR"})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	snap := snapshotFor(t, sample, pred)
	if snap.Total != 2 {
		t.Fatalf("Total = %d, want 2", snap.Total)
	}
	out := filepath.Join(t.TempDir(), "errors.log")

	info, err := newSlicer().SliceRange(context.Background(), "app.log", snap, 1, 10, out)
	if err != nil {
		t.Fatalf("SliceRange() error = %v", err)
	}
	if info.Last != 2 || info.Lines != 1 {
		t.Errorf("Info = %+v, want Last 2 and 1 line", info)
	}
	if got, want := readFile(t, out), "2024-01-15 10:00:03 ERROR still full\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSlicer_DefaultPathAndCleanup(t *testing.T) {
	snap := snapshotFor(t, sample, nil)
	s := newSlicer()
	s.cacheDir = t.TempDir()

	info, err := s.SliceRange(context.Background(), "/var/log/app.log", snap, 0, 2, "")
	if err != nil {
		t.Fatalf("SliceRange() error = %v", err)
	}
	if got, want := filepath.Base(info.OutputPath), "tailview-slice-0-2-app.log"; got != want {
		t.Errorf("output name = %q, want %q", got, want)
	}
	if err := s.Cleanup(info); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(info.OutputPath); !os.IsNotExist(err) {
		t.Errorf("slice file still exists after Cleanup")
	}
}

func TestSlicer_InvalidRange(t *testing.T) {
	snap := snapshotFor(t, sample, nil)
	if _, err := newSlicer().SliceRange(context.Background(), "app.log", snap, 4, 2, filepath.Join(t.TempDir(), "x")); err == nil {
		t.Error("SliceRange(4, 2) succeeded, want error")
	}
}
