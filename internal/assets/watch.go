package assets

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/fsnotify/fsnotify"
)

// debounceInterval collapses the burst of events editors produce per save.
const debounceInterval = 50 * time.Millisecond

// ignoredDirs are never watched.
var ignoredDirs = []string{".git", "node_modules"}

// Watch reports changed files under the root to fn until Stop. Paths are
// relative to the root. Each change is also published on the bus.
func (s *Server) Watch(fn func(event.AssetChangedEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.Wrap(errors.ErrClosed, "watch assets")
	}
	if s.watcher != nil {
		return errors.Wrap(errors.ErrAlreadyRunning, "watch assets")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create asset watcher")
	}
	if err := addRecursive(watcher, s.root); err != nil {
		_ = watcher.Close()
		return errors.Wrapf(err, "watch %s", s.root)
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	go s.watchLoop(watcher, s.stopCh, fn)

	s.logger.Info("watching assets", "root", s.root)
	return nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	if err := watcher.Add(root); err != nil {
		return err
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() || path == root {
			return nil
		}
		for _, ignore := range ignoredDirs {
			if info.Name() == ignore {
				return filepath.SkipDir
			}
		}
		_ = watcher.Add(path)
		return nil
	})
}

func (s *Server) watchLoop(watcher *fsnotify.Watcher, stopCh <-chan struct{}, fn func(event.AssetChangedEvent)) {
	debounce := time.NewTimer(0)
	<-debounce.C

	pending := make(map[string]fsnotify.Op)

	for {
		select {
		case <-stopCh:
			debounce.Stop()
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(watcher, ev.Name)
				}
			}
			pending[ev.Name] |= ev.Op
			debounce.Reset(debounceInterval)

		case <-debounce.C:
			for name, op := range pending {
				s.emit(name, op, fn)
			}
			pending = make(map[string]fsnotify.Op)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("asset watcher error", "error", err)
		}
	}
}

func (s *Server) emit(name string, op fsnotify.Op, fn func(event.AssetChangedEvent)) {
	rel, err := filepath.Rel(s.root, name)
	if err != nil {
		rel = name
	}
	ev := event.NewAssetChangedEvent(filepath.ToSlash(rel), strings.ToLower(op.String()))
	s.logger.Debug("asset changed", "path", ev.Path, "op", ev.Op)
	if s.bus != nil {
		s.bus.Publish(ev)
	}
	if fn != nil {
		fn(ev)
	}
}
