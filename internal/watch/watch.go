// Package watch reports batches of changed PHP files under a plugin root.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ben-ranford/wpfatal/internal/scanner"
)

const DefaultDebounce = 500 * time.Millisecond

type Options struct {
	Debounce time.Duration
	Include  []string
	Exclude  []string
}

// Watcher follows every scannable directory under root, including
// directories created after it starts.
type Watcher struct {
	root     string
	debounce time.Duration
	filter   scanner.Filter
	fs       *fsnotify.Watcher
}

func New(root string, opts Options) (*Watcher, error) {
	filter, err := scanner.NewFilter(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: filepath.Clean(root), debounce: debounce, filter: filter, fs: fsw}
	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run delivers changed paths to onChange once no further change arrived
// for the debounce interval. Batches are sorted and onChange calls never
// overlap. Run returns nil when ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string)) error {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.handle(event, pending) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)
		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			clear(pending)
			sort.Strings(paths)
			onChange(ctx, paths)
		}
	}
}

// handle records relevant changes in pending and reports whether any
// were recorded.
func (w *Watcher) handle(event fsnotify.Event, pending map[string]struct{}) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.skipDir(event.Name) {
				return false
			}
			if err := w.addTree(event.Name); err != nil {
				slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
				return false
			}
			return w.enqueueExisting(event.Name, pending)
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if !w.relevant(event.Name) {
		return false
	}
	pending[event.Name] = struct{}{}
	return true
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != w.root && w.skipDir(path) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// enqueueExisting picks up files written into a directory before it was
// being watched.
func (w *Watcher) enqueueExisting(dir string, pending map[string]struct{}) bool {
	added := false
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if w.relevant(path) {
			pending[path] = struct{}{}
			added = true
		}
		return nil
	})
	return added
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) skipDir(path string) bool {
	rel, ok := w.rel(path)
	if !ok {
		return true
	}
	return scanner.ShouldSkipDir(filepath.Base(path), rel) || scanner.IsToolPackageDir(path)
}

func (w *Watcher) relevant(path string) bool {
	rel, ok := w.rel(path)
	if !ok {
		return false
	}
	return scanner.ShouldScanFile(filepath.Base(path)) && w.filter.Match(rel)
}
