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

// DefaultWatchInterval is how often a [Watcher] stats the file.
const DefaultWatchInterval = 5 * time.Second

// fingerprint identifies one version of the file. Size and mtime are a
// cheap pre-check; the digest decides.
type fingerprint struct {
	size   int64
	mtime  time.Time
	digest [sha256.Size]byte
}

func (f fingerprint) sameStat(info os.FileInfo) bool {
	return f.size == info.Size() && f.mtime.Equal(info.ModTime())
}

// Watcher keeps the latest valid configuration from a YAML file. Edits are
// picked up by polling or by [Watcher.Reload]; each accepted edit is passed
// to the change callback as (previous, next). Edits that fail to parse or
// validate are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	lookup   func(string) (string, bool)

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	quit     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
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

// WithLookup replaces os.LookupEnv for credential overrides. Nil disables
// them.
func WithLookup(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		lookup:   os.LookupEnv,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, fp

	go w.loop()
	return w, nil
}

// Current returns the latest accepted configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.finished
}

// Reload checks the file now. It reports whether a new configuration was
// accepted; the error describes a rejected edit.
func (w *Watcher) Reload() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("config: stat %s: %w", w.path, err)
	}
	w.mu.Lock()
	unchanged := w.seen.sameStat(info)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	cfg, fp, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if fp.digest == w.seen.digest {
		// Touched, same bytes.
		w.seen = fp
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.seen = cfg, fp
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev, cfg)
	}
	return true, nil
}

func (w *Watcher) loop() {
	defer close(w.finished)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-t.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload rejected, keeping previous configuration", "path", w.path, "err", err)
			}
		}
	}
}

// read parses and validates the file and fingerprints the bytes it parsed.
func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := parse(bytes.NewReader(data), w.lookup)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{size: info.Size(), mtime: info.ModTime(), digest: sha256.Sum256(data)}, nil
}
