package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/TimelordUK/tailview/internal/index"
)

func newTestWatcher(path string) *Watcher {
	return New(path, Options{
		PollInterval:  10 * time.Millisecond,
		DisableNotify: true,
		Index:         index.Options{SegmentSize: 16, Workers: 2},
	})
}

func takeUpdate(t *testing.T, w *Watcher) Update {
	t.Helper()
	select {
	case u := <-w.Updates():
		return u
	default:
		t.Fatal("no update published")
		return Update{}
	}
}

func noUpdate(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case u := <-w.Updates():
		t.Fatalf("unexpected update: count=%d reset=%v", u.Index.Count(), u.Reset)
	default:
	}
}

func appendFile(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestCheck_MissingThenCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w := newTestWatcher(path)
	defer w.shutdown()
	ctx := context.Background()

	if err := w.check(ctx); err != nil {
		t.Fatalf("check missing: %v", err)
	}
	u := takeUpdate(t, w)
	if u.Status.Exists || u.Index.Count() != 0 || u.Source != nil {
		t.Fatalf("missing file update = %+v, want empty non-existent", u.Status)
	}

	if err := w.check(ctx); err != nil {
		t.Fatalf("second check: %v", err)
	}
	noUpdate(t, w)

	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := w.check(ctx); err != nil {
		t.Fatalf("check created: %v", err)
	}
	u = takeUpdate(t, w)
	if !u.Status.Exists || u.Index.Count() != 2 {
		t.Fatalf("created update exists=%v count=%d, want true 2", u.Status.Exists, u.Index.Count())
	}
}

func TestCheck_GrowthIsIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w := newTestWatcher(path)
	defer w.shutdown()
	ctx := context.Background()

	if err := w.check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	before := takeUpdate(t, w)

	if err := w.check(ctx); err != nil {
		t.Fatalf("check unchanged: %v", err)
	}
	noUpdate(t, w)

	appendFile(t, path, "d\ne\n")
	if err := w.check(ctx); err != nil {
		t.Fatalf("check grown: %v", err)
	}
	after := takeUpdate(t, w)

	if after.Reset {
		t.Fatal("growth produced a reset")
	}
	if after.Index.Count() != 5 || after.Index.Generation() != before.Index.Generation() {
		t.Fatalf("after count=%d gen=%d, want 5 gen=%d", after.Index.Count(), after.Index.Generation(), before.Index.Generation())
	}
	for i := 0; i < before.Index.Count(); i++ {
		if lineStart(before.Index, i) != lineStart(after.Index, i) {
			t.Fatalf("line %d moved", i)
		}
	}
	if after.Index.TailFrom() != 3 {
		t.Fatalf("TailFrom = %d, want 3", after.Index.TailFrom())
	}
}

func TestCheck_TruncateRescans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("first line\nsecond line\nthird line\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w := newTestWatcher(path)
	defer w.shutdown()
	ctx := context.Background()

	if err := w.check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	before := takeUpdate(t, w)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	appendFile(t, path, "x\nyy\n")
	if err := w.check(ctx); err != nil {
		t.Fatalf("check truncated: %v", err)
	}
	after := takeUpdate(t, w)

	if !after.Reset {
		t.Fatal("truncate did not reset")
	}
	if after.Index.Generation() == before.Index.Generation() {
		t.Fatal("truncate kept the generation")
	}
	if after.Index.Count() != 2 || lineStart(after.Index, 1) != 2 {
		t.Fatalf("rescanned count=%d line1=%d, want 2 and 2", after.Index.Count(), lineStart(after.Index, 1))
	}
}

func TestCheck_RotationRescans(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w := newTestWatcher(path)
	defer w.shutdown()
	ctx := context.Background()

	if err := w.check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	takeUpdate(t, w)

	if err := os.Rename(path, filepath.Join(dir, "app.log.1")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := os.WriteFile(path, []byte("new one\nnew two\nnew three\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := w.check(ctx); err != nil {
		t.Fatalf("check rotated: %v", err)
	}
	u := takeUpdate(t, w)
	if !u.Reset || u.Index.Count() != 3 {
		t.Fatalf("rotated reset=%v count=%d, want true 3", u.Reset, u.Index.Count())
	}

	// The index and Source must describe the same file
	start, end := u.Index.Span(2)
	buf := make([]byte, end-start)
	if _, err := u.Source.ReadAt(buf, start); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "new three\n" {
		t.Errorf("Source line 3 = %q, want %q", buf, "new three\n")
	}
	if w.mapped.Size() != u.Index.Size() {
		t.Errorf("mapped %d bytes, index covers %d", w.mapped.Size(), u.Index.Size())
	}
}

func TestCheck_PermissionDeniedIsPermanent(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	path := filepath.Join(t.TempDir(), "secret.log")
	if err := os.WriteFile(path, []byte("x\n"), 0o000); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w := newTestWatcher(path)

	err := w.Run(context.Background())
	if err == nil {
		t.Fatal("Run returned nil for an unreadable file")
	}
	var last Status
	for s := range w.Statuses() {
		last = s
	}
	if last.Err == nil {
		t.Fatal("terminal status carries no error")
	}
}

func TestRun_FollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w := newTestWatcher(path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var lines strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&lines, "line %d\n", i)
	}
	appendFile(t, path, lines.String())

	deadline := time.After(5 * time.Second)
	for {
		var u Update
		select {
		case u = <-w.Updates():
		case <-deadline:
			t.Fatal("timed out waiting for 101 lines")
		}
		if u.Index.Count() == 101 {
			break
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func lineStart(ix index.LineIndex, i int) int64 {
	start, _ := ix.Span(i)
	return start
}
