package localfs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 250 * time.Millisecond
)

// FilterCallback returns true for event paths that should not trigger.
type FilterCallback func(path string) bool

// Watcher turns bursts of filesystem events under a directory into single
// calls of a trigger.
type Watcher struct {
	watchDir        string
	trigger         func()
	rawEvents       chan notify.EventInfo
	done            chan struct{}
	wg              sync.WaitGroup
	debounceTimeout time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending int

	filter FilterCallback
}

func NewWatcher(watchDir string, trigger func()) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		trigger:         trigger,
		done:            make(chan struct{}),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets how long the watcher waits for a burst to settle.
func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.filter = callback
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", w.watchDir)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	recursivePath := w.watchDir + "/..."
	if err := notify.Watch(recursivePath, w.rawEvents, notify.All); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)
	return nil
}

func (w *Watcher) Stop() {
	slog.Info("file watcher stopping")
	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	slog.Info("file watcher stopped")
}

func (w *Watcher) filterEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			w.observe(event.Path())
		}
	}
}

// observe records one event and restarts the debounce timer.
func (w *Watcher) observe(path string) {
	if w.filter != nil && w.filter(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceTimeout, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	n := w.pending
	w.pending = 0
	w.mu.Unlock()

	if n == 0 {
		return
	}
	slog.Debug("file watcher", "events", n, "dir", w.watchDir)
	w.trigger()
}
