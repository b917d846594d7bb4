package images

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 500 * time.Millisecond

// Watch reloads the catalog whenever the metadata file changes, until ctx is
// done. Bursts of events are collapsed into one reload. The parent directory
// is watched so atomic replacements of the file are seen.
func (c *FileCatalog) Watch(ctx context.Context) error {
	return c.watch(ctx, defaultDebounce)
}

func (c *FileCatalog) watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(c.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.Debug().Str("file", filepath.Base(event.Name)).Str("op", event.Op.String()).Msg("Image catalog change detected")
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Image catalog watcher error")
		case <-timer.C:
			if err := c.Reload(); err != nil {
				log.Warn().Err(err).Str("file", c.path).Msg("Failed to reload image catalog")
			}
		}
	}
}
