// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reconcile

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is used when fsnotify can't watch the configured path
// (the watcher can't be created, or adding the path fails) — spec.md
// §4.4's "polling fallback". A watch that is added but never delivers
// events is not detected and does not switch to polling.
const pollInterval = 2 * time.Second

// startWatch begins watching r.watchPath for changes and returns a
// trigger channel, an error channel, and a stop function. Exactly one of
// fsnotify or mtime polling is active at a time; if the watcher can't be
// created at all, only polling runs.
func (r *Reconciler) startWatch() (<-chan struct{}, <-chan error, func()) {
	events := make(chan struct{}, 1)
	errs := make(chan error, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		return r.startPoll(events, errs)
	}
	if err := watcher.Add(r.watchPath); err != nil {
		r.logger.Warn("fsnotify could not watch policy path, falling back to polling", "path", r.watchPath, "error", err)
		watcher.Close()
		return r.startPoll(events, errs)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					select {
					case events <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		watcher.Close()
	}
	return events, errs, stop
}

// startPoll watches r.watchPath's mtime on a fixed interval, used when
// fsnotify isn't available.
func (r *Reconciler) startPoll(events chan struct{}, errs chan error) (<-chan struct{}, <-chan error, func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		lastMod := modTime(r.watchPath)
		for {
			select {
			case <-ticker.C:
				mod := modTime(r.watchPath)
				if !mod.Equal(lastMod) {
					lastMod = mod
					select {
					case events <- struct{}{}:
					default:
					}
				}
			case <-done:
				return
			}
		}
	}()
	return events, errs, func() { close(done) }
}

// modTime returns the latest modification time under path: the file
// itself, or the newest entry if path is a directory of fragments.
func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	if !info.IsDir() {
		return info.ModTime()
	}

	latest := info.ModTime()
	entries, err := os.ReadDir(path)
	if err != nil {
		return latest
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest
}
