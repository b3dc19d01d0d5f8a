package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Watcher calls a function whenever the watched policy file changes.
// The parent directory is watched so atomic rename-over saves are seen.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
	logger   *slog.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewWatcher starts watching path. onChange runs on the watcher goroutine after
// changes have been quiet for debounce (DefaultDebounce when zero).
func NewWatcher(ctx context.Context, path string, debounce time.Duration, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:     abs,
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go w.run(ctx)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("policy file changed", "path", w.path, "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", "error", err)
		case <-timer.C:
			w.onChange()
		}
	}
}

// relevant reports whether ev touches the policy file itself.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
