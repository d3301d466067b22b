// Package tempfiles removes stale PCM sink files from the recording temp
// directory.
package tempfiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultInterval = time.Hour
	defaultMaxAge   = 24 * time.Hour

	pcmExt = ".pcm"
)

// InUseFunc reports whether path belongs to a session that is still
// recording or forwarding. Such files are never removed.
type InUseFunc func(path string) bool

// CleanerConfig configures a [Cleaner].
type CleanerConfig struct {
	// Dir is the recording temp directory.
	Dir string

	// MaxAge is the modification age after which a file is removed.
	// Defaults to 24h.
	MaxAge time.Duration

	// Interval is how often to scan. Defaults to 1h.
	Interval time.Duration

	// InUse, when set, protects files of live sessions.
	InUse InUseFunc
}

// Cleaner periodically deletes *.pcm files older than MaxAge.
//
// All methods are safe for concurrent use.
type Cleaner struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	inUse    InUseFunc

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewCleaner creates a [Cleaner].
func NewCleaner(cfg CleanerConfig) *Cleaner {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Cleaner{
		dir:      cfg.Dir,
		maxAge:   cfg.MaxAge,
		interval: cfg.Interval,
		inUse:    cfg.InUse,
		done:     make(chan struct{}),
	}
}

// Start runs one scan immediately and then every Interval in a background
// goroutine until [Cleaner.Stop] is called or ctx is cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	go c.loop(ctx)
}

// Stop halts the scan loop. Safe to call multiple times.
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cleaner) loop(ctx context.Context) {
	c.scanAndLog(time.Now())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case now := <-ticker.C:
			c.scanAndLog(now)
		}
	}
}

func (c *Cleaner) scanAndLog(now time.Time) {
	n, err := c.CleanNow(now)
	if err != nil {
		slog.Warn("tempfiles: cleanup incomplete", "dir", c.dir, "removed", n, "err", err)
		return
	}
	if n > 0 {
		slog.Info("tempfiles: removed stale recordings", "dir", c.dir, "removed", n)
	}
}

// CleanNow removes every stale PCM file directly inside Dir and returns how
// many were removed. A missing directory is not an error.
func (c *Cleaner) CleanNow(now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("tempfiles: read %s: %w", c.dir, err)
	}

	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), pcmExt) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		if c.inUse != nil && c.inUse(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if now.Sub(info.ModTime()) <= c.maxAge {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		slog.Debug("tempfiles: removed", "path", path, "age", now.Sub(info.ModTime()))
	}
	return removed, errors.Join(errs...)
}
