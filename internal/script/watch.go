package script

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the script whenever its file changes, until ctx ends. The
// directory is watched rather than the file so editors that replace the
// file on save are handled.
func (r *Runtime) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	target, err := filepath.Abs(r.path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go r.watchLoop(ctx, watcher, target)
	log.Info().Str("path", target).Msg("Watching Lua script for changes")
	return nil
}

func (r *Runtime) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	defer watcher.Close()

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Script watcher error")
		case <-debounce.C:
			if err := r.Reload(ctx); err != nil {
				log.Error().Err(err).Str("path", target).Msg("Failed to reload Lua script, keeping previous version")
			}
		}
	}
}
