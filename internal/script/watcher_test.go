package script

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherDebounce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.euv")
	if err := os.WriteFile(path, []byte("start;\nend;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var runs atomic.Int32
	w, err := NewWatcher(path, func() { runs.Add(1) }, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Debounce = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// A burst of writes while no run is in progress coalesces into one
	// run, one debounce window after the last event.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("start;\nend;\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Errorf("ran %d times inside the debounce window", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Allow the window to fully drain, then confirm exactly one run.
	time.Sleep(200 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}

	cancel()
	<-done
}

func TestWatcherManualTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch.euv")
	if err := os.WriteFile(path, []byte("start;\nend;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var runs atomic.Int32
	w, err := NewWatcher(path, func() { runs.Add(1) }, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Debounce = time.Hour // manual trigger must not wait for this

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	w.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
}

func TestWatcherCoalescesDuringRun(t *testing.T) {
	block := make(chan struct{})
	var runs atomic.Int32
	w := &Watcher{
		Run: func() {
			runs.Add(1)
			if runs.Load() == 1 {
				<-block
			}
		},
		trigger: make(chan struct{}, 1),
	}

	// First launch blocks inside Run; further launches queue exactly one
	// follow-up between them.
	w.launch()
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	w.launch()
	w.launch()
	w.launch()
	close(block)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if n := runs.Load(); n != 2 {
		t.Errorf("runs = %d, want 2 (one active + one coalesced)", n)
	}
}
