package script

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pumpkin-bit/euva/internal/log"
)

// DefaultDebounce is the window between the last file event and the re-run.
const DefaultDebounce = 400 * time.Millisecond

// Watcher re-runs a script when its file changes. Every change event
// (write, create, rename, size change) re-arms a debounce timer; the run
// fires once the file has been quiet for the window. Runs are coalesced: an
// event arriving while a run is in progress queues at most one follow-up.
// Trigger bypasses the debounce for manual re-runs.
//
// The watch is on the parent directory, filtered by name, so editors that
// replace the file (rename + create) do not break it.
type Watcher struct {
	// Run executes one script run. Called from the watcher's goroutines.
	Run func()
	// Debounce defaults to DefaultDebounce when zero.
	Debounce time.Duration
	Logger   *log.Logger

	path    string
	fsw     *fsnotify.Watcher
	trigger chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	pending bool
}

// NewWatcher watches path. Call Start to begin delivering runs.
func NewWatcher(path string, run func(), logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		Run:     run,
		Logger:  logger,
		path:    abs,
		fsw:     fsw,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Start blocks, delivering debounced runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.arm()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("watch error: " + err.Error())

		case <-w.trigger:
			w.launch()

		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Trigger requests an immediate run, bypassing the debounce window.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Name != w.path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// arm resets the debounce timer; the run fires one quiet window after the
// last event.
func (w *Watcher) arm() {
	d := w.Debounce
	if d == 0 {
		d = DefaultDebounce
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(d, w.launch)
		return
	}
	w.timer.Reset(d)
}

// launch starts a run unless one is already in progress, in which case a
// single follow-up is queued.
func (w *Watcher) launch() {
	w.mu.Lock()
	if w.running {
		w.pending = true
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go func() {
		for {
			w.Run()

			w.mu.Lock()
			if !w.pending {
				w.running = false
				w.mu.Unlock()
				return
			}
			w.pending = false
			w.mu.Unlock()
		}
	}()
}
