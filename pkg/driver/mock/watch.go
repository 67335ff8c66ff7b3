package mock

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/devicelab-dev/autosdk/pkg/event"
	"github.com/devicelab-dev/autosdk/pkg/logger"
	"github.com/devicelab-dev/autosdk/pkg/pagesource"
)

// WatchFile reloads the tree from path whenever the file is written and
// publishes WindowContentChanged to events. It blocks until ctx ends.
// Unparseable intermediate writes are logged and skipped.
func (h *Host) WatchFile(ctx context.Context, path string, events *event.Registry) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer w.Close()

	// Watch the directory so editors that replace the file are seen too.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			h.reload(path, events)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch %s: %v", path, err)
		}
	}
}

func (h *Host) reload(path string, events *event.Registry) {
	tree, err := pagesource.ParseFile(path)
	if err != nil {
		logger.Debug("watch: skipping unparseable write: %v", err)
		return
	}
	h.SetTree(tree)

	e := event.New(event.WindowContentChanged)
	if top := tree.Root().Child(0); top != nil {
		e.PackageName, _ = top.PackageName()
		e.ClassName = top.ClassName()
	}
	if events != nil {
		events.Publish(e)
	}
}
