package models

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/myllm/pkg/logger"
)

// watchDebounce coalesces bursts of filesystem events into one rescan.
// Model downloads touch the directory many times in quick succession.
const watchDebounce = 500 * time.Millisecond

// Watch rescans the registry whenever the models directory changes. Blocks
// until ctx is cancelled or the watcher fails.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return errors.Wrapf(err, "failed to watch models directory %s", r.dir)
	}

	log := logger.G(ctx).WithField("dir", r.dir)
	log.Debug("watching models directory")

	var debounce *time.Timer
	rescan := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case rescan <- struct{}{}:
				default:
				}
			})
		case <-rescan:
			if err := r.Scan(); err != nil {
				log.WithError(err).Error("failed to rescan models directory")
				continue
			}
			log.WithField("models", len(r.List())).Debug("models directory rescanned")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("file watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
