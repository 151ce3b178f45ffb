package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForEvent(t *testing.T, w *Watcher, wantPath string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path == wantPath {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on %s", wantPath)
		}
	}
}

func TestWatchDetectsNewFile(t *testing.T) {
	root := t.TempDir()
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.CloseAll()

	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(root, "new.ts")
	if err := os.WriteFile(path, []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev := waitForEvent(t, w, path, 2*time.Second)
	if ev.Kind != Added && ev.Kind != Changed {
		t.Fatalf("got kind %v, want Added or Changed", ev.Kind)
	}
}

func TestWatchSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.CloseAll()

	nmDir := filepath.Join(root, "node_modules")
	if err := os.MkdirAll(nmDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	w.mu.Lock()
	_, watched := w.watched[nmDir]
	w.mu.Unlock()
	if watched {
		t.Fatal("expected node_modules to be skipped")
	}
}

func TestUnwatchIsIdempotent(t *testing.T) {
	root := t.TempDir()
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.CloseAll()

	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}
	if err := w.Unwatch(root); err != nil {
		t.Fatal(err)
	}
	if err := w.Unwatch(root); err != nil {
		t.Fatalf("second Unwatch should be a no-op, got %v", err)
	}
}

func TestCloseAllIsIdempotent(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}
	if err := w.CloseAll(); err != nil {
		t.Fatalf("second CloseAll should be a no-op, got %v", err)
	}
}
