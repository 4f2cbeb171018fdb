package questionbank

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher keeps the latest valid bank loaded from a file. Invalid
// revisions are logged and ignored; the previous bank stays current.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Bank)
	logger   *logging.Logger
	fsw      *fsnotify.Watcher

	mu      sync.RWMutex
	current *Bank
}

// NewWatcher loads path and prepares to watch it. onChange may be nil.
func NewWatcher(path string, onChange func(*Bank), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve question bank path: %w", err)
	}
	bank, err := LoadFile(abs)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory so atomic renames by editors are seen.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger.Named("questionbank"),
		fsw:      fsw,
		current:  bank,
	}, nil
}

// Current returns the latest valid bank.
func (w *Watcher) Current() *Bank {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "question bank watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	bank, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn(ctx, "question bank reload rejected, keeping previous", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = bank
	w.mu.Unlock()

	w.logger.Info(ctx, "question bank reloaded",
		zap.String("path", w.path), zap.Int("questions", len(bank.Questions)))
	if w.onChange != nil {
		w.onChange(bank)
	}
}
