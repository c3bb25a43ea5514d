// Package ingest picks up handwriting evidence images dropped into a folder,
// for scanner workstations that save straight to disk.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultPatterns match the image types the backend accepts.
var DefaultPatterns = []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.bmp"}

// Handler receives a batch of new evidence files.
type Handler func(ctx context.Context, paths []string) error

// FolderOptions controls watcher behavior.
type FolderOptions struct {
	Dir      string
	Watch    bool
	Patterns []string
	// SkipExisting marks files already present as seen without delivering them.
	SkipExisting bool
	// Settle is how long a file must stay quiet before it is delivered, so
	// half-written scans are not uploaded. Defaults to 500ms.
	Settle time.Duration
	Logger *zap.Logger
}

// EvidenceWatcher hands new image files in a directory to a Handler (one-shot
// or watch mode). Each path is delivered at most once per watcher.
type EvidenceWatcher struct {
	opts    FolderOptions
	handler Handler
	logger  *zap.Logger

	mu        sync.Mutex
	seen      map[string]bool
	delivered int
	errors    int
}

// NewEvidenceWatcher constructs a watcher.
func NewEvidenceWatcher(handler Handler, opts FolderOptions) *EvidenceWatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	return &EvidenceWatcher{
		opts:    opts,
		handler: handler,
		logger:  opts.Logger.Named("watch"),
		seen:    make(map[string]bool),
	}
}

// Stats returns the delivered file count and handler error count.
func (w *EvidenceWatcher) Stats() (delivered, errors int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delivered, w.errors
}

// Run executes the scan per options (one-shot or watch).
func (w *EvidenceWatcher) Run(ctx context.Context) error {
	if err := w.scanOnce(ctx); err != nil {
		return err
	}
	if !w.opts.Watch {
		delivered, errs := w.Stats()
		w.logger.Info("one-shot scan complete", zap.Int("delivered", delivered), zap.Int("errors", errs))
		return nil
	}
	return w.watchLoop(ctx)
}

func (w *EvidenceWatcher) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range w.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func (w *EvidenceWatcher) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !w.matches(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.opts.Dir, e.Name()))
	}
	if w.opts.SkipExisting {
		w.mu.Lock()
		for _, p := range paths {
			w.seen[p] = true
		}
		w.mu.Unlock()
		return nil
	}
	w.deliver(ctx, paths)
	return nil
}

// deliver hands the unseen paths to the handler, in name order.
func (w *EvidenceWatcher) deliver(ctx context.Context, paths []string) {
	w.mu.Lock()
	var fresh []string
	for _, p := range paths {
		if !w.seen[p] {
			w.seen[p] = true
			fresh = append(fresh, p)
		}
	}
	w.mu.Unlock()
	if len(fresh) == 0 {
		return
	}
	sort.Strings(fresh)

	err := w.handler(ctx, fresh)
	w.mu.Lock()
	w.delivered += len(fresh)
	if err != nil {
		w.errors++
	}
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("evidence handler failed", zap.Strings("files", fresh), zap.Error(err))
		return
	}
	w.logger.Info("evidence delivered", zap.Int("files", len(fresh)))
}

func (w *EvidenceWatcher) watchLoop(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}
	w.logger.Info("watching directory", zap.String("dir", w.opts.Dir), zap.Strings("patterns", w.opts.Patterns))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.opts.Settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			delivered, errs := w.Stats()
			w.logger.Info("watch stopping", zap.Int("delivered", delivered), zap.Int("errors", errs))
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.matches(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[ev.Name] = time.Now()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case now := <-ticker.C:
			var ready []string
			for p, last := range pending {
				if now.Sub(last) >= w.opts.Settle {
					ready = append(ready, p)
					delete(pending, p)
				}
			}
			w.deliver(ctx, ready)
		}
	}
}
