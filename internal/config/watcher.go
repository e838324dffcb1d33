package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls by default.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc is called after a valid edit replaced the current config. d
// holds the part of the change that applies without a restart.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and reloads it when its content changes.
// Reloaded configs get the environment overlay, so secrets given through the
// environment survive an edit. An edit that fails to parse or validate is
// logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	current atomic.Pointer[Config]
	seen    fingerprint // owned by the poll goroutine after construction

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// fingerprint identifies one version of the file. The mtime is a cheap
// pre-check; the hash decides.
type fingerprint struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.seen = fp

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Go(func() { w.loop(ctx) })
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Stop ends polling and waits for a running reload, including its callback.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watched file unavailable", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.seen.mtime) {
		return
	}

	cfg, fp, err := w.read()
	if err != nil {
		slog.Warn("config: ignoring invalid edit", "path", w.path, "err", err)
		return
	}
	unchanged := fp.sum == w.seen.sum
	w.seen = fp
	if unchanged {
		return
	}

	old := w.current.Swap(cfg)
	d := Diff(old, cfg)
	if d.Changed() {
		slog.Info("config: reloaded", "path", w.path,
			"log_level", d.LogLevelChanged,
			"limits", d.LimitsChanged,
			"verify", d.VerifyChanged,
		)
	} else {
		slog.Info("config: edit needs a restart to take effect", "path", w.path)
	}
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// read parses, validates and fingerprints the file.
func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	ApplyEnv(cfg)
	return cfg, fingerprint{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
