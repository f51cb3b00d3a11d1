// Package reload hot-reloads gateway configuration. A poll-based watcher
// notices config file changes; the handler revalidates the file and applies
// the tenant sections to the running registry.
package reload

import (
	"context"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the config file watcher.
type WatcherConfig struct {
	// ConfigPath is the file to watch.
	ConfigPath string

	// PollInterval is how often to stat the file. Defaults to 5 seconds.
	PollInterval time.Duration
}

func (c WatcherConfig) pollIntervalOrDefault() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// Watcher polls the config file's mtime and signals when it moves forward.
// Polling is deliberate: it works on every filesystem the gateway runs on,
// including bind mounts where inotify misses atomic replaces.
type Watcher struct {
	cfg     WatcherConfig
	changes chan string
	stop    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:     cfg,
		changes: make(chan string, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started = true
		go w.poll(ctx)
	})
}

// Changes delivers the config path each time a modification is detected. The
// channel holds one pending notification; bursts coalesce.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Stop halts polling and waits for the goroutine to exit. Safe to call more
// than once and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.pollIntervalOrDefault())
	defer ticker.Stop()

	lastMod := w.modTime()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current := w.modTime()
			if current.IsZero() || !current.After(lastMod) {
				continue
			}
			lastMod = current
			select {
			case w.changes <- w.cfg.ConfigPath:
			default:
			}
		}
	}
}

func (w *Watcher) modTime() time.Time {
	info, err := os.Stat(w.cfg.ConfigPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
