package sys

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/canonical/lxd/shared"
	"github.com/canonical/lxd/shared/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher runs hooks when files in a directory are written, created or removed.
type Watcher struct {
	*fsnotify.Watcher

	mu sync.Mutex

	watching map[string]func(path string, event fsnotify.Op) error
	root     string
}

// NewWatcher returns a watcher listening for fsnotify events in the given dir.
// The watcher is closed once ctx is cancelled.
func NewWatcher(ctx context.Context, root string) (*Watcher, error) {
	if !shared.PathExists(root) {
		return nil, fmt.Errorf("Path %q does not exist", root)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watcher := &Watcher{
		Watcher:  fsWatcher,
		watching: map[string]func(string, fsnotify.Op) error{},
		root:     filepath.Clean(root),
	}

	// Config files are replaced atomically, so watch the directory rather than the files.
	err = watcher.Add(watcher.root)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("Failed to watch path %q: %w", root, err)
	}

	go watcher.handleEvents(ctx)

	return watcher, nil
}

func (w *Watcher) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Closing filesystem watcher")
			_ = w.Close()
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}

			logger.Warn("Filesystem watcher error", logger.Ctx{"error": err})
		case event, ok := <-w.Events:
			if !ok {
				return
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.mu.Lock()
			f, ok := w.watching[filepath.Clean(event.Name)]
			w.mu.Unlock()

			if !ok {
				continue
			}

			err := f(event.Name, event.Op)
			if err != nil {
				logger.Error("Failed to handle filesystem event", logger.Ctx{"path": event.Name, "event": event.Op.String(), "error": err})
			}
		}
	}
}

// Watch adds a hook to be executed on events for the file at path, which must be directly under the watched root.
func (w *Watcher) Watch(path string, f func(path string, event fsnotify.Op) error) error {
	path = filepath.Clean(path)
	if filepath.Dir(path) != w.root {
		return fmt.Errorf("Path %q is not in watched directory %q", path, w.root)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.watching[path] = f

	return nil
}
