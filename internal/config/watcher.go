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

// DefaultWatchInterval is how often [Watcher.Run] looks at the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps the running configuration in step with its YAML file. Each
// accepted edit is reduced to a [ConfigDiff] and handed to the apply
// callback, which pushes log level, auto-leave and session defaults into the
// live components. Edits that fail validation are rejected and the previous
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(ConfigDiff, *Config)
	trigger  chan struct{}

	mu      sync.Mutex
	current *Config
	state   fileState
	reloads int
}

// fileState identifies one version of the config file.
type fileState struct {
	size  int64
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. Nothing is polled until [Watcher.Run]
// is started. apply may be nil.
func NewWatcher(path string, apply func(ConfigDiff, *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.state = state
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns how many edits have been applied since [NewWatcher].
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Reload asks a running [Watcher.Run] to re-read the file now, whatever its
// modification time says. It never blocks; meant for SIGHUP.
func (w *Watcher) Reload() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run polls the file every interval and serves [Watcher.Reload] requests
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.log(w.check(false))
		case <-w.trigger:
			w.log(w.check(true))
		}
	}
}

func (w *Watcher) log(d ConfigDiff, applied bool, err error) {
	switch {
	case err != nil:
		slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
	case applied:
		slog.Info("config: configuration reloaded",
			"path", w.path,
			"reloads", w.Reloads(),
			"restart_required", d.RestartRequired,
		)
	}
}

// Check re-reads the file and applies it if it differs from the current
// config. It reports whether apply was called. A file whose bytes changed
// without changing any setting, such as a comment edit, is adopted silently.
func (w *Watcher) Check() (ConfigDiff, bool, error) {
	return w.check(true)
}

// check skips reading the file when force is false and its size and
// modification time are unchanged.
func (w *Watcher) check(force bool) (ConfigDiff, bool, error) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return ConfigDiff{}, false, err
		}
		w.mu.Lock()
		same := info.Size() == w.state.size && info.ModTime().Equal(w.state.mtime)
		w.mu.Unlock()
		if same {
			return ConfigDiff{}, false, nil
		}
	}

	cfg, state, err := w.read()

	w.mu.Lock()
	if state.sum == w.state.sum {
		w.state = state
		w.mu.Unlock()
		return ConfigDiff{}, false, nil
	}
	// A rejected version is remembered so polling reports it only once.
	w.state = state
	if err != nil {
		w.mu.Unlock()
		return ConfigDiff{}, false, err
	}
	d := Diff(w.current, cfg)
	w.current = cfg
	applied := d.Changed() || len(d.RestartRequired) > 0
	if applied {
		w.reloads++
	}
	w.mu.Unlock()

	if applied && w.apply != nil {
		w.apply(d, cfg)
	}
	return d, applied, nil
}

// read loads and validates the file. The returned state is filled in even
// when validation fails, as long as the file could be read.
func (w *Watcher) read() (*Config, fileState, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fileState{}, err
	}
	state := fileState{size: info.Size(), mtime: info.ModTime(), sum: sha256.Sum256(buf.Bytes())}

	cfg, err := LoadFromReader(&buf)
	if err != nil {
		return nil, state, err
	}
	return cfg, state, nil
}
