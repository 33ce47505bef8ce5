package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ghostpub/ghostd/internal/logfields"
)

// AssetWatcher marks the build dirty when an operator edits the site scaffold
// (layouts, css, js) in the work directory. Generated directories (content,
// index shards, covers, public output) are deliberately not watched; watching
// them would rebuild forever.
type AssetWatcher struct {
	watcher   *fsnotify.Watcher
	markDirty func(reason string)
	debounce  time.Duration
}

// NewAssetWatcher watches the scaffold directories under root.
func NewAssetWatcher(root string, markDirty func(reason string)) (*AssetWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	dirs := []string{
		filepath.Join(root, "layouts", "_default"),
		filepath.Join(root, "static", "css"),
		filepath.Join(root, "static", "js"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.Close()
			return nil, fmt.Errorf("create watched dir %s: %w", dir, err)
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &AssetWatcher{watcher: w, markDirty: markDirty, debounce: 2 * time.Second}, nil
}

// Run consumes watcher events until the context ends. Bursts of events within
// the debounce window collapse into one dirty mark.
func (a *AssetWatcher) Run(ctx context.Context) {
	defer a.watcher.Close()

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("Scaffold change detected", logfields.Path(ev.Name))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(a.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Asset watcher error", logfields.Error(err))
		case <-fire:
			a.markDirty("site scaffold edited")
		}
	}
}
