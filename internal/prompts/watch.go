package prompts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the override file whenever it is written or replaced. The
// parent directory is watched so editors that save via rename are seen.
// Watching stops when ctx is done or Close is called.
func (l *Library) Watch(ctx context.Context) error {
	if l.path == "" {
		return ErrNoOverride
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	target := filepath.Clean(l.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	go l.watchLoop(ctx, watcher, target)
	return nil
}

func (l *Library) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	defer l.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := l.Reload(); err != nil {
				l.logger.Warn("prompt reload failed, keeping previous prompts",
					zap.String("path", target), zap.Error(err))
				continue
			}
			l.logger.Info("prompts reloaded", zap.String("path", target))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("prompt watcher error", zap.Error(err))
		}
	}
}

// Close stops watching and waits for the watcher to exit.
func (l *Library) Close() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}
