// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// PathWatcher purges the capability cache when executables appear in or
// disappear from the directories on PATH.
//
// Thread Safety: Safe for concurrent use. Start should only be called once.
type PathWatcher struct {
	watcher *fsnotify.Watcher
	dirs    []string
	onEvent func(fsnotify.Event)
	done    chan struct{}
}

// NewPathWatcher creates a watcher over every existing directory in
// pathList (an os.PathListSeparator-joined list, usually $PATH).
//
// Outputs:
//
//	*PathWatcher - Ready-to-start watcher
//	error - Non-nil if the fsnotify watcher cannot be created
func NewPathWatcher(pathList string, onEvent func(fsnotify.Event)) (*PathWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, dir)
	}

	return &PathWatcher{
		watcher: watcher,
		dirs:    dirs,
		onEvent: onEvent,
		done:    make(chan struct{}),
	}, nil
}

// Dirs returns the directories being watched.
func (w *PathWatcher) Dirs() []string {
	return w.dirs
}

// Start registers the directories and dispatches events until ctx is done
// or Stop is called. Blocks; run it in a goroutine.
func (w *PathWatcher) Start(ctx context.Context) {
	defer close(w.done)

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			slog.Debug("Failed to watch PATH directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
	}
	slog.Debug("Watching PATH for tool changes", slog.Int("dirs", len(w.dirs)))

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			if w.onEvent != nil {
				w.onEvent(event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("PATH watcher error", slog.String("error", err.Error()))

		case <-ctx.Done():
			return
		}
	}
}

// Stop closes the watcher and waits for Start to return if it was started.
// Safe to call multiple times.
func (w *PathWatcher) Stop(started bool) error {
	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}

// WatchPath starts a PathWatcher over pathList that purges the cache on
// change. A second call is a no-op.
//
// Inputs:
//
//	ctx - Lifetime of the watcher
//	pathList - Usually os.Getenv("PATH")
func (p *Prober) WatchPath(ctx context.Context, pathList string) error {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watcher != nil {
		return nil
	}

	w, err := NewPathWatcher(pathList, func(event fsnotify.Event) {
		slog.Debug("PATH changed, purging capability cache",
			slog.String("path", event.Name),
			slog.String("op", event.Op.String()))
		p.Purge()
		p.last.Store(nil)
	})
	if err != nil {
		return err
	}
	p.watcher = w
	go w.Start(ctx)
	return nil
}

// Close stops the PATH watcher, if any.
func (p *Prober) Close() error {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Stop(true)
	p.watcher = nil
	return err
}
