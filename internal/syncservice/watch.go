package syncservice

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mwhitley/ticketsync/internal/apperr"
)

// Watch monitors the inbox directory with fsnotify and triggers a drain when
// the inbox file or one of its conflict siblings is created or written.
// Triggers are debounced, and events landing inside the quiet window after a
// run are dropped: the drain's own rewrite fires change events for the very
// file it just processed.
func (s *Service) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(s.inbox)
	if err := w.Add(dir); err != nil {
		return err
	}
	s.logger.Info("watcher: started", slog.String("dir", dir))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(s.Debounce)
			timerCh = timer.C
		} else {
			timer.Reset(s.Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			if s.inQuietWindow() {
				continue
			}
			if err := s.ProcessNow(); err != nil && !errors.Is(err, apperr.ErrAlreadyRunning) {
				s.logger.Warn("watcher: trigger failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !s.watchRelevant(ev.Name) {
				continue
			}
			s.logger.Debug("watcher: change detected",
				slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// watchRelevant reports whether a changed path is the inbox file itself or a
// conflict-copy sibling of it.
func (s *Service) watchRelevant(path string) bool {
	base := filepath.Base(path)
	inboxBase := filepath.Base(s.inbox)
	if base == inboxBase {
		return true
	}
	name := strings.TrimSuffix(inboxBase, filepath.Ext(inboxBase))
	return strings.HasPrefix(base, name+".sync-conflict-") && strings.HasSuffix(base, ".txt")
}

// inQuietWindow reports whether a watcher trigger should be suppressed because
// a run is in flight or has just finished.
func (s *Service) inQuietWindow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return true
	}
	return !s.lastRun.IsZero() && time.Since(s.lastRun) < s.Quiet
}
