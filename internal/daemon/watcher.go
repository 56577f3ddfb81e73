package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/majorcontext/rampart/internal/log"
	"github.com/majorcontext/rampart/internal/manifest"
)

// debounceDefault absorbs editor write bursts before reloading.
const debounceDefault = 200 * time.Millisecond

// WatchManifest reloads the manifest when its file changes and swaps the
// compiled index atomically. A reload failure keeps the previous manifest
// in force. Blocks until ctx is canceled.
//
// Pips snapshot the index at registration, so a reload applies to pips
// registered after the swap.
func (d *Daemon) WatchManifest(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files with rename+create, which
	// drops a watch on the file itself.
	dir := filepath.Dir(d.cfg.Manifest)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(d.cfg.Manifest) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDefault, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("manifest watcher error", "error", err)
		case <-pending:
			d.reloadManifest()
		}
	}
}

func (d *Daemon) reloadManifest() {
	m, err := manifest.Load(d.cfg.Manifest)
	if err != nil {
		log.Warn("manifest reload failed, keeping previous manifest", "path", d.cfg.Manifest, "error", err)
		return
	}
	d.index.Store(manifest.Compile(m))
	log.Info("manifest reloaded", "path", d.cfg.Manifest, "scopes", len(m.Scopes))
}
