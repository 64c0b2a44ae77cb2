// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// Watcher observes the config file and invokes a callback when it changes.
// The sync worker uses this as its reconnect trigger: editing sync settings
// kicks off a cycle immediately instead of waiting for the next interval.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func()

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the given config file path.
// onChange runs on the watcher goroutine after the debounce window closes.
func NewWatcher(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the parent directory: atomic saves replace the file by rename,
	// which unregisters a direct file watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	cw := &Watcher{
		watcher:  w,
		path:     path,
		debounce: debounce,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}

	go cw.loop()
	go cw.firePending()

	return cw, nil
}

// Close stops the watcher and releases resources.
func (cw *Watcher) Close() error {
	cw.cancel()
	return cw.watcher.Close()
}

// loop collects filesystem events for the watched file.
func (cw *Watcher) loop() {
	for {
		select {
		case <-cw.ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.mu.Lock()
			cw.pending = time.Now()
			cw.mu.Unlock()
		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are not fatal; the interval timer still runs.
		}
	}
}

// firePending invokes the callback once the debounce window has passed.
func (cw *Watcher) firePending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-cw.ctx.Done():
			return
		case <-ticker.C:
			cw.mu.Lock()
			fire := !cw.pending.IsZero() && time.Since(cw.pending) >= cw.debounce
			if fire {
				cw.pending = time.Time{}
			}
			cw.mu.Unlock()

			if fire && cw.onChange != nil {
				cw.onChange()
			}
		}
	}
}
