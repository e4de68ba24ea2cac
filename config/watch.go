package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadCallback is invoked after a changed config file was loaded,
// validated, and swapped in.
type ReloadCallback func(old, next *Config)

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithPollInterval sets how often the config file is polled for changes.
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloadLogger sets the logger.
func WithReloadLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reloader watches a config file by polling its modification time and swaps
// in the re-loaded configuration when it changes. A reload that fails to
// parse or validate keeps the previous configuration in place.
type Reloader struct {
	mu sync.RWMutex

	path     string
	loader   *Loader
	interval time.Duration
	logger   *zap.Logger

	current   *Config
	lastMod   time.Time
	callbacks []ReloadCallback

	running bool
	stop    chan struct{}
}

// NewReloader creates a reloader for the given config path. Validation runs
// through Config.Validate on every reload.
func NewReloader(path string, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		path:     path,
		loader:   NewLoader().WithConfigPath(path).WithValidator((*Config).Validate),
		interval: time.Second,
		logger:   zap.NewNop(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	return r
}

// OnReload registers a callback invoked after each successful reload.
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current returns the most recently applied configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start performs the initial load and begins polling. It fails if the
// initial load fails or the reloader is already running.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("config reloader already running")
	}

	cfg, err := r.loader.Load()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("initial config load: %w", err)
	}
	r.current = cfg
	if info, err := os.Stat(r.path); err == nil {
		r.lastMod = info.ModTime()
	}
	r.running = true
	r.mu.Unlock()

	go r.pollLoop(ctx)

	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("poll_interval", r.interval))
	return nil
}

// Stop halts polling. Safe to call more than once.
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stop)
	r.running = false
	r.logger.Info("config reloader stopped")
}

func (r *Reloader) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.checkFile()
		}
	}
}

// checkFile reloads when the file's mod time moved past the recorded one.
// A deleted file is not a change; the last good config stays active.
func (r *Reloader) checkFile() {
	info, err := os.Stat(r.path)
	if err != nil {
		return
	}

	r.mu.RLock()
	seen := r.lastMod
	r.mu.RUnlock()
	if !info.ModTime().After(seen) {
		return
	}

	next, err := r.loader.Load()
	if err != nil {
		r.logger.Warn("config reload rejected, keeping previous config",
			zap.String("path", r.path),
			zap.Error(err))
		// Record the mod time anyway so a broken file does not re-log
		// every tick.
		r.mu.Lock()
		r.lastMod = info.ModTime()
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	r.lastMod = info.ModTime()
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", r.path))
	for _, cb := range callbacks {
		cb(old, next)
	}
}
