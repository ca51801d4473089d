package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc is called with the previous and the newly loaded config and
// their [Diff]. It is never called for a file whose content is unchanged or
// invalid.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and reloads it when its content changes. An
// invalid file is logged and ignored; [Watcher.Current] keeps returning the
// last valid config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtime = snap.mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.lastMtime = snap.mtime
	if snap.hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.mu.Unlock()

	d := Diff(old, snap.cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"generation_changed", d.GenerationChanged,
		"matching_changed", d.MatchingChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: some changes take effect after a restart", "sections", d.RestartRequired)
	}

	// Called without the lock so the callback may use Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg, d)
	}
}

type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// read loads, hashes and validates the file.
func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, hash: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
