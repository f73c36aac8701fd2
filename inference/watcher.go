package inference

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the model whenever the artifact file is written or
// replaced. It watches the parent directory because artifacts are saved by
// rename. Events are debounced; Watch blocks until ctx is cancelled.
func (s *Service) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inference: create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("inference: watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	s.logger.Info("watching model artifact", zap.String("path", s.path), zap.Duration("debounce", s.opts.watchDebounce))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			s.logger.Debug("model artifact changed", zap.String("op", ev.Op.String()))
			stopTimer()
			timer = time.NewTimer(s.opts.watchDebounce)
			timerCh = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("model watcher error", zap.Error(err))

		case <-timerCh:
			timerCh = nil
			// Reload logs its own failures and keeps the previous model.
			_ = s.Reload(ctx)
		}
	}
}
