package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long a file must stay quiet before it is re-verified.
// Editors often write a file in several steps.
const settle = 100 * time.Millisecond

// watch re-verifies the configured files whenever one of them changes, until
// ctx is done. Directories are watched rather than files so that atomic
// renames by editors are seen.
func watch(ctx context.Context, w io.Writer, cfg *Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errWithCode(fmt.Errorf("create watcher: %w", err), exitError)
	}
	defer watcher.Close()

	files := make(map[string]bool, len(cfg.Files))
	dirs := make(map[string]bool)
	for _, f := range cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return errWithCode(fmt.Errorf("resolve %s: %w", f, err), exitError)
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return errWithCode(fmt.Errorf("watch %s: %w", dir, err), exitError)
		}
	}
	slog.Info("watching for changes", "files", len(files), "dirs", len(dirs))

	timer := time.NewTimer(settle)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !files[filepath.Clean(ev.Name)] {
				continue
			}
			slog.Debug("file changed", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "err", err)
		case <-timer.C:
			if _, err := verifyFiles(ctx, w, cfg); err != nil {
				// Keep watching: the file may be mid-edit.
				fmt.Fprintln(w, err)
			}
		}
	}
}
