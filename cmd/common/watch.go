package common

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig reloads path whenever it changes and passes every valid
// version to onChange. Invalid edits are logged and skipped. It blocks
// until ctx is done.
//
// The directory is watched rather than the file so that editors replacing
// the file by rename are picked up.
func WatchConfig(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log = log.With("config", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(abs)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				log.Error("config reload rejected", "err", err)
				continue
			}
			log.Info("config reloaded")
			onChange(cfg)
		}
	}
}
