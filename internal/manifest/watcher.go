package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the policy directory when its contents change. Events are
// debounced so an editor writing several files triggers one reload. A reload
// failure logs and keeps the previous policy version serving.
type Watcher struct {
	loader *Loader
	logger *zap.Logger
}

// NewWatcher creates a Watcher around the loader.
func NewWatcher(loader *Loader, logger *zap.Logger) *Watcher {
	return &Watcher{
		loader: loader,
		logger: logger.Named("watcher"),
	}
}

// Start watches the policy directory until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fs watcher: %w", err)
	}
	if err := fsw.Add(w.loader.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.loader.dir, err)
	}

	go func() {
		defer fsw.Close()

		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Debug("Policy directory changed",
					zap.String("file", event.Name),
					zap.String("op", event.Op.String()))
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})

			case <-reload:
				if err := w.loader.Load(); err != nil {
					w.logger.Error("Policy reload failed, keeping previous version", zap.Error(err))
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("Watcher error", zap.Error(err))
			}
		}
	}()

	w.logger.Info("Watching policy directory", zap.String("dir", w.loader.dir))
	return nil
}
