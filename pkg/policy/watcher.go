package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcherConfig configures a FileWatcher.
type FileWatcherConfig struct {
	// Path is the catalog file to watch.
	Path string

	// Debounce is the quiet period before a reload fires (default: 200ms).
	Debounce time.Duration
}

// DefaultFileWatcherConfig returns the default watcher configuration.
func DefaultFileWatcherConfig() *FileWatcherConfig {
	return &FileWatcherConfig{Debounce: 200 * time.Millisecond}
}

// FileWatcher triggers a reload callback when a catalog file changes.
//
// The parent directory is watched rather than the file itself so that editors
// which save by rename are still observed.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	config  *FileWatcherConfig
	logger  *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

// NewFileWatcher creates a FileWatcher.
func NewFileWatcher(cfg *FileWatcherConfig, logger *slog.Logger) (*FileWatcher, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("file watcher: path is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultFileWatcherConfig().Debounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		watcher: w,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Watch blocks, calling onChange after each debounced change to the file,
// until ctx is cancelled or Stop is called.
func (fw *FileWatcher) Watch(ctx context.Context, onChange func() error) error {
	target, err := filepath.Abs(fw.config.Path)
	if err != nil {
		return fmt.Errorf("resolve watch path: %w", err)
	}
	if err := fw.watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %q: %w", filepath.Dir(target), err)
	}
	fw.logger.Info("policy catalog watcher started", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fw.stopCh:
			return nil
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			fw.schedule(func() {
				if err := onChange(); err != nil {
					fw.logger.Error("policy catalog reload failed", "path", target, "error", err)
				}
			})
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn("policy catalog watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) schedule(fn func()) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.stopped {
		return
	}
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.config.Debounce, fn)
}

// Stop stops watching and cancels a pending reload.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	fw.stopped = true
	if fw.timer != nil {
		fw.timer.Stop()
	}
	close(fw.stopCh)
	fw.mu.Unlock()
	return fw.watcher.Close()
}
