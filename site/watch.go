package site

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long Watch waits for changes to settle before
// rebuilding.
const DefaultDebounce = 300 * time.Millisecond

// Watch builds the site, then rebuilds it whenever a post, thread index or
// attachment changes, until ctx is done. A failed rebuild is logged and does
// not stop the watch.
//
// Watch uses the operating system's notifications, so the store must be
// backed by the real file system.
func (s *Site) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	if err := s.watchTree(w); err != nil {
		return err
	}

	if _, err := s.Build(ctx); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}

			// New attachment directories need watching too.
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			trigger = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", zap.Error(err))

		case <-trigger:
			trigger = nil
			if _, err := s.Build(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				s.logger.Error("rebuild failed", zap.Error(err))
			}
		}
	}
}

// watchTree adds the posts directory, the attachments directory and every
// directory below the latter.
func (s *Site) watchTree(w *fsnotify.Watcher) error {
	for _, dir := range []string{s.store.PostsDir(), s.store.AttachmentsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := w.Add(s.store.PostsDir()); err != nil {
		return fmt.Errorf("watch %s: %w", s.store.PostsDir(), err)
	}

	return filepath.WalkDir(s.store.AttachmentsDir(), func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// relevant filters out temporary files written during atomic replacement and
// pure permission changes.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	return base != "" && base[0] != '.'
}
