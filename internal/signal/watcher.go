package signal

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"vigil/internal/logging"
)

// PatternWatcher hot-reloads the pattern definitions file when it
// changes on disk. Rapid saves are debounced; a file that fails to
// parse leaves the previous pattern set in place.
type PatternWatcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	processor *Processor
	path      string
	debounce  time.Duration
	lastEvent time.Time
	running   bool
	doneCh    chan struct{}
	log       *zap.Logger
}

// NewPatternWatcher watches path and pushes reloaded patterns into the
// processor.
func NewPatternWatcher(path string, processor *Processor) (*PatternWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PatternWatcher{
		watcher:   watcher,
		processor: processor,
		path:      path,
		debounce:  500 * time.Millisecond,
		log:       logging.For(logging.CategorySignals),
	}, nil
}

// Start loads the file once, then watches its directory for changes.
// Non-blocking.
func (w *PatternWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.doneCh = make(chan struct{})
	done := w.doneCh
	w.mu.Unlock()

	if err := w.reload(); err != nil {
		w.log.Warn("initial pattern load failed", zap.Error(err))
	}

	// Watch the directory, not the file: editors rename over the file
	// and a direct watch would be lost after the first save.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(done)
		return err
	}

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				w.mu.Lock()
				if time.Since(w.lastEvent) < w.debounce {
					w.mu.Unlock()
					continue
				}
				w.lastEvent = time.Now()
				w.mu.Unlock()

				if err := w.reload(); err != nil {
					w.log.Warn("pattern reload failed, keeping previous set", zap.Error(err))
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("pattern watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *PatternWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	done := w.doneCh
	w.mu.Unlock()

	_ = w.watcher.Close()
	<-done
}

func (w *PatternWatcher) reload() error {
	patterns, err := LoadPatterns(w.path)
	if err != nil {
		return err
	}
	if err := w.processor.SetPatterns(patterns); err != nil {
		return err
	}
	w.log.Info("patterns loaded", zap.Int("count", len(patterns)), zap.String("path", w.path))
	return nil
}
