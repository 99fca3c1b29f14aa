package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the file.
const DefaultWatchInterval = 5 * time.Second

// Change is one accepted edit of the config file.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher keeps the config file and the running process in step. Run polls
// the file's modification time; Reload checks it on demand (SIGHUP). A
// version that fails to parse or validate is logged and skipped, so the last
// good config stays current. Edits that change no setting, such as comments
// or reordered keys, never reach the callback.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(Change)

	// checkMu serialises polls with on-demand reloads.
	checkMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fileVersion
}

// fileVersion identifies the file content a config was parsed from.
type fileVersion struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file at path and returns a watcher that passes later
// edits to apply. apply may be nil.
func NewWatcher(path string, apply func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, v, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, v
	return w, nil
}

// Current returns the config most recently accepted.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled and returns nil, so it can run in an
// errgroup.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.check(false); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file even if its modification time is unchanged. It
// reports whether a change was applied; a parse or validation error leaves
// the current config in place and is returned.
func (w *Watcher) Reload() (bool, error) {
	return w.check(true)
}

func (w *Watcher) check(force bool) (bool, error) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	w.mu.Lock()
	prev, seen := w.current, w.seen
	w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if !force && info.ModTime().Equal(seen.modTime) {
		return false, nil
	}

	cfg, v, err := w.read()
	if err != nil {
		// Report a broken version once, not on every tick.
		w.mu.Lock()
		w.seen.modTime = info.ModTime()
		w.mu.Unlock()
		return false, err
	}

	w.mu.Lock()
	w.seen = v
	if v.sum == seen.sum {
		w.mu.Unlock()
		return false, nil
	}
	w.current = cfg
	w.mu.Unlock()

	ch := Change{Old: prev, New: cfg, Diff: Diff(prev, cfg)}
	if ch.Diff.Empty() {
		slog.Debug("config watcher: file edited, no setting changed", "path", w.path)
		return false, nil
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"log_level", ch.Diff.LogLevelChanged,
		"pipeline", ch.Diff.PipelineChanged,
		"sessions", ch.Diff.SessionsChanged,
	)
	if w.apply != nil {
		w.apply(ch)
	}
	return true, nil
}

// read parses the file and fingerprints its content.
func (w *Watcher) read() (*Config, fileVersion, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileVersion{}, err
	}
	return cfg, fileVersion{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
