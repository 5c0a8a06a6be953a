// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultDebounce = 100 * time.Millisecond

// =============================================================================
// INSTRUCTIONS WATCHER
// =============================================================================

// InstructionsWatcher keeps the system instructions in sync with a file.
// The directory is watched rather than the file, so editors that replace
// the file on save are handled.
type InstructionsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.RWMutex
	current string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInstructionsWatcher reads path and starts watching it. The file must
// exist when the watcher is created.
func NewInstructionsWatcher(path string) (*InstructionsWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	initial, err := readInstructions(abs)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &InstructionsWatcher{
		path:     abs,
		watcher:  watcher,
		debounce: DefaultDebounce,
		current:  initial,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go w.processEvents()
	return w, nil
}

// Instructions returns the current file contents.
func (w *InstructionsWatcher) Instructions() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *InstructionsWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

// processEvents reloads the file after changes settle.
func (w *InstructionsWatcher) processEvents() {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("INSTRUCTIONS_WATCH_ERROR", "error", err)

		case <-timer.C:
			w.reload()
		}
	}
}

// reload re-reads the file. A missing or unreadable file keeps the last
// good instructions.
func (w *InstructionsWatcher) reload() {
	text, err := readInstructions(w.path)
	if err != nil {
		slog.Warn("INSTRUCTIONS_RELOAD_FAILED", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	changed := text != w.current
	w.current = text
	w.mu.Unlock()

	if changed {
		slog.Info("INSTRUCTIONS_RELOADED", "path", w.path, "chars", len(text))
	}
}

func readInstructions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read instructions: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
