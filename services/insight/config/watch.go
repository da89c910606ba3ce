// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// catalogWatchDebounce coalesces the burst of fsnotify events editors and
// atomic-rename deploys produce for a single logical change.
const catalogWatchDebounce = 500 * time.Millisecond

// WatchCatalogFile reloads the catalog whenever its file changes, swapping
// the holder's snapshot on success.
//
// # Description
//
//	Editors and config-deploy tools rewrite files via rename, so the watcher
//	tracks the file's directory and filters events by name. A reload that
//	fails validation is logged and dropped; the previous snapshot stays
//	active, so a bad deploy can never take down routing.
//
//	onSwap, when non-nil, runs after each successful swap (the server uses
//	it to re-warm endpoint vectors and invalidate version-dependent caches).
//
// # Inputs
//
//   - ctx: Cancels the watch loop.
//   - path: Catalog file to watch. Must exist at call time.
//   - holder: Receives the new snapshot on successful reload.
//   - onSwap: Optional callback with the old and new snapshots. May be nil.
//   - logger: Diagnostics. May be nil.
//
// # Outputs
//
//   - error: Non-nil only if the watcher cannot be established. Runtime
//     reload failures are logged, never returned.
//
// # Thread Safety
//
// Starts one goroutine that exits when ctx is cancelled.
func WatchCatalogFile(ctx context.Context, path string, holder *CatalogHolder, onSwap func(old, new *EndpointCatalog), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: rename-based rewrites replace the inode, and a
	// watch on the old inode would go silent after the first deploy.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !eventTouches(event, path) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(catalogWatchDebounce)
					timerC = timer.C
				} else {
					timer.Reset(catalogWatchDebounce)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("catalog watch error", slog.String("error", err.Error()))

			case <-timerC:
				timer = nil
				timerC = nil

				catalog, err := LoadEndpointCatalogFile(ctx, path)
				if err != nil {
					logger.Warn("catalog reload rejected, keeping previous snapshot",
						slog.String("path", path),
						slog.String("error", err.Error()),
					)
					continue
				}
				old := holder.Swap(catalog)
				logger.Info("catalog reloaded from file change",
					slog.String("path", path),
					slog.String("old_version", old.Version),
					slog.String("new_version", catalog.Version),
					slog.Int("endpoints", len(catalog.Endpoints)),
				)
				if onSwap != nil {
					onSwap(old, catalog)
				}
			}
		}
	}()

	return nil
}

// eventTouches reports whether the event concerns the watched file and is a
// content-changing operation. fsnotify reports names as it received them
// from the kernel, which may differ from the caller's spelling of the same
// path, so the comparison cleans both and falls back to the base name; the
// watch covers only the file's directory, so equal base names mean the
// same file.
func eventTouches(event fsnotify.Event, path string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	if filepath.Clean(event.Name) == filepath.Clean(path) {
		return true
	}
	return filepath.Base(event.Name) == filepath.Base(path)
}
