package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/fsnotify/fsnotify"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/models"
)

// Watcher is the per-repository actor that turns raw filesystem
// notifications into batched analysis requests. Each watched repository
// gets its own Watcher goroutine and Batcher; no state is shared between
// repositories.
type Watcher struct {
	repoRef  string
	repoPath string
	filter   *Filter
	batcher  *Batcher
	fsw      *fsnotify.Watcher
}

// New creates a watcher for one repository rooted at repoPath.
func New(db *gorm.DB, cfg config.WatcherConfig, repoRef, repoPath string, sink RequestSink) *Watcher {
	filter := NewFilter(cfg.IgnoreGlobs, cfg.SourceExts)
	return &Watcher{
		repoRef:  repoRef,
		repoPath: repoPath,
		filter:   filter,
		batcher:  NewBatcher(db, cfg, repoRef, filter, sink),
	}
}

// Batcher exposes the underlying batcher, mainly for status reporting.
func (w *Watcher) Batcher() *Batcher {
	return w.batcher
}

// Run watches the repository tree until ctx is cancelled, flushing any
// open batch on the way out.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fsw = fsw
	defer func() {
		w.batcher.Flush()
		_ = fsw.Close()
	}()

	if err := w.addRecursive(w.repoPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.repoPath, err)
	}
	logger.Infof("watching %s (%s)", w.repoPath, w.repoRef)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("watcher error on %s: %v", w.repoRef, err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	eventType, ok := mapEventType(ev.Op)
	if !ok {
		return
	}

	// New directories join the watch set unless ignored.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.filter.Ignored(ev.Name) {
				_ = w.addRecursive(ev.Name)
			}
			return
		}
	}

	var size int64
	if info, err := os.Stat(ev.Name); err == nil {
		size = info.Size()
	}

	path := ev.Name
	if rel, err := filepath.Rel(w.repoPath, ev.Name); err == nil {
		path = rel
	}

	w.batcher.Add(models.FileEvent{
		EventType:  eventType,
		Path:       path,
		Size:       size,
		OccurredAt: time.Now(),
	})
}

// addRecursive walks root and watches every directory not ignored. The
// repository's .git directory is watched shallowly so commit activity is
// still observed.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.filter.Ignored(path) {
			if filepath.Base(path) == ".git" {
				_ = w.fsw.Add(path)
			}
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func mapEventType(op fsnotify.Op) (models.FileEventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return models.FileEventCreated, true
	case op.Has(fsnotify.Write):
		return models.FileEventModified, true
	case op.Has(fsnotify.Remove):
		return models.FileEventDeleted, true
	case op.Has(fsnotify.Rename):
		return models.FileEventMoved, true
	default:
		return "", false
	}
}
