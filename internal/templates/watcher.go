// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package templates

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher rebuilds the index when files under a corpus directory change
// and swaps the result into a Holder. A failed rebuild leaves the previous
// snapshot in place.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	holder    *Holder
	rebuild   func(ctx context.Context) (*Index, error)
	onRebuild func(ix *Index, err error)
	logger    *slog.Logger

	debounceDelay time.Duration

	// mu protects pending
	mu      sync.Mutex
	pending *time.Timer

	// rebuildMu serializes rebuilds and lets Close wait for one in flight.
	rebuildMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Dir is the corpus directory to watch, recursively.
	Dir string

	// Holder receives each successfully rebuilt index.
	Holder *Holder

	// Rebuild builds a fresh index from the corpus.
	Rebuild func(ctx context.Context) (*Index, error)

	// OnRebuild, if set, is called after every rebuild attempt.
	OnRebuild func(ix *Index, err error)

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay groups bursts of changes into one rebuild (defaults to 500ms)
	DebounceDelay time.Duration
}

// NewWatcher starts watching cfg.Dir.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if cfg.Holder == nil {
		return nil, fmt.Errorf("holder is required")
	}
	if cfg.Rebuild == nil {
		return nil, fmt.Errorf("rebuild function is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher:     fsWatcher,
		dir:           cfg.Dir,
		holder:        cfg.Holder,
		rebuild:       cfg.Rebuild,
		onRebuild:     cfg.OnRebuild,
		logger:        logger,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := w.addTree(cfg.Dir); err != nil {
		cancel()
		fsWatcher.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// addTree watches root and every directory below it. fsnotify is not
// recursive.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("template watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			w.scheduleRebuild()
			return
		}
	}
	if event.Has(fsnotify.Chmod) {
		return
	}

	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil || idFromPath(filepath.ToSlash(rel)) == "" {
		// Removing a directory only reports the directory itself.
		if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
			return
		}
	}
	w.logger.Debug("template corpus changed", "path", event.Name, "op", event.Op.String())
	w.scheduleRebuild()
}

func (w *Watcher) scheduleRebuild() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.runRebuild)
}

func (w *Watcher) runRebuild() {
	w.rebuildMu.Lock()
	defer w.rebuildMu.Unlock()
	if w.ctx.Err() != nil {
		return
	}

	ix, err := w.rebuild(w.ctx)
	if err != nil {
		w.logger.Error("template index rebuild failed, keeping previous index", "error", err)
	} else {
		w.holder.Swap(ix)
		w.logger.Info("template index rebuilt", "templates", ix.Len(), "skipped", ix.Skipped())
	}
	if w.onRebuild != nil {
		w.onRebuild(ix, err)
	}
}

// Close stops watching and waits for an in-flight rebuild to finish.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	// Wait for an in-flight rebuild.
	w.rebuildMu.Lock()
	w.rebuildMu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
