package registry

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpgate/pkg/logging"
)

const (
	// DefaultDebounceInterval is the time to wait before triggering a reload
	// after the last file change is detected.
	DefaultDebounceInterval = 500 * time.Millisecond

	// DefaultPollInterval is the fallback polling interval when fsnotify is unavailable.
	DefaultPollInterval = 10 * time.Second
)

// FileWatcherConfig holds configuration for the config file watcher.
type FileWatcherConfig struct {
	// Path is the file to watch.
	Path string

	// PollInterval is the fallback polling interval when fsnotify is not available.
	PollInterval time.Duration

	// Debounce collapses bursts of events into one reload.
	Debounce time.Duration

	// OnChange is called after the file changed.
	OnChange func()
}

// FileWatcher monitors the configuration file and triggers registry reloads.
// It watches the parent directory so editors that replace the file via rename
// are still seen, and falls back to polling when fsnotify is unavailable.
type FileWatcher struct {
	mu sync.Mutex

	config FileWatcherConfig

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	lastModTime time.Time

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// NewFileWatcher creates a new watcher; call Start to begin watching.
func NewFileWatcher(config FileWatcherConfig) *FileWatcher {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Debounce == 0 {
		config.Debounce = DefaultDebounceInterval
	}
	return &FileWatcher{config: config}
}

// Start begins watching for changes.
func (w *FileWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Registry", "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges(w.stopCh)
		return nil
	}

	dir := filepath.Dir(w.config.Path)
	if err := watcher.Add(dir); err != nil {
		logging.Warn("Registry", "Failed to watch directory %s, falling back to polling: %v", dir, err)
		watcher.Close()
		go w.pollForChanges(w.stopCh)
		return nil
	}
	w.fsWatcher = watcher

	// Capture channels before releasing lock to avoid races with Stop()
	go w.processEvents(w.stopCh, watcher.Events, watcher.Errors)

	logging.Info("Registry", "Watching %s for configuration changes", w.config.Path)
	return nil
}

func (w *FileWatcher) processEvents(stopCh <-chan struct{}, eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	target := filepath.Clean(w.config.Path)
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("Registry", "Configuration file changed: %s (%s)", event.Name, event.Op)
			w.triggerReloadDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("Registry", err, "fsnotify error")
		}
	}
}

// triggerReloadDebounced triggers a reload after a debounce period.
func (w *FileWatcher) triggerReloadDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		running := w.running
		callback := w.config.OnChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

func (w *FileWatcher) pollForChanges(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.checkForChanges()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				logging.Debug("Registry", "Configuration change detected via polling")
				w.triggerReloadDebounced()
			}
		}
	}
}

// checkForChanges records the file's modification time and reports whether
// it moved forward since the previous check.
func (w *FileWatcher) checkForChanges() bool {
	info, err := os.Stat(w.config.Path)
	if err != nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	modTime := info.ModTime()
	changed := !w.lastModTime.IsZero() && modTime.After(w.lastModTime)
	w.lastModTime = modTime
	return changed
}

// Stop stops the watcher and cancels any pending reload.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("Registry", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}

	logging.Info("Registry", "Stopped configuration watcher")
	return nil
}

// IsRunning returns whether the watcher is currently active.
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
