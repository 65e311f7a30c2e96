// Package configwatch reloads the JSON settings file when it changes and
// hands (new, old) snapshots to a single callback.
//
// Two strategies share one contract: Watch subscribes to filesystem events
// for the file, Poll re-reads it on an interval. Either way the callback
// fires exactly once per structural change and never for a write that
// decodes to the same content.
package configwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is used by Start when event watching is unavailable.
	DefaultPollInterval = 2 * time.Second
	debounceDelay       = 300 * time.Millisecond
)

// ChangeFunc receives the freshly loaded snapshot and the one it replaces.
type ChangeFunc func(newCfg, oldCfg map[string]any)

// Watcher tracks one config file.
type Watcher struct {
	path     string
	onChange ChangeFunc
	logger   *zap.Logger
	metrics  *metrics.Metrics

	reloadMu sync.Mutex // serializes reloads and callback delivery
	mu       sync.Mutex
	last     map[string]any
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithMetrics enables reload counting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// New creates a Watcher and takes the initial snapshot. The callback is not
// invoked for the initial load.
func New(path string, onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		onChange: onChange,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.last = config.ReadSnapshot(path)
	return w
}

// Snapshot returns a copy of the last loaded configuration.
func (w *Watcher) Snapshot() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return config.CloneSnapshot(w.last)
}

// CheckAndReload re-reads the file and invokes the callback when the
// content differs from the previous snapshot. It reports whether a change
// was delivered.
func (w *Watcher) CheckAndReload() bool {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next := config.ReadSnapshot(w.path)
	w.mu.Lock()
	prev := w.last
	if reflect.DeepEqual(next, prev) {
		w.mu.Unlock()
		return false
	}
	w.last = next
	w.mu.Unlock()

	w.logger.Info("configuration changed",
		zap.String("path", w.path),
		zap.Strings("keys", ChangedKeys(next, prev)))
	w.metrics.ObserveConfigReload()
	if w.onChange != nil {
		// The callback owns its copy; w.last stays private.
		w.onChange(config.CloneSnapshot(next), prev)
	}
	return true
}

// Poll re-reads the file every interval until ctx is cancelled.
func (w *Watcher) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.CheckAndReload()
		}
	}
}

// Watch subscribes to filesystem events on the file's directory and
// reloads after a short debounce. It blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors and atomic writers replace the file,
	// which would drop a watch placed on the file itself.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return w.watchLoop(ctx, fw)
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) error {
	base := filepath.Base(w.path)
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base || !isRelevantEvent(ev) {
				continue
			}
			pending = true
			debounce.Reset(debounceDelay)
		case <-debounce.C:
			if pending {
				w.CheckAndReload()
				pending = false
			}
		}
	}
}

// Start runs the event-driven strategy, falling back to polling when the
// platform watcher cannot be set up. It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	err := w.Watch(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	w.logger.Info("file events unavailable, polling config", zap.Error(err), zap.Duration("interval", DefaultPollInterval))
	return w.Poll(ctx, DefaultPollInterval)
}

func isRelevantEvent(ev fsnotify.Event) bool {
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// ChangedKeys returns the sorted keys whose values differ between the two
// snapshots, including keys present in only one of them.
func ChangedKeys(newCfg, oldCfg map[string]any) []string {
	var keys []string
	for k, nv := range newCfg {
		if ov, ok := oldCfg[k]; !ok || !reflect.DeepEqual(nv, ov) {
			keys = append(keys, k)
		}
	}
	for k := range oldCfg {
		if _, ok := newCfg[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
