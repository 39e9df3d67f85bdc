package forcecal

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/CK6170/forcecal-go/models"
)

// WatchParameters calls onChange with the reloaded parameters each time the
// file at path is written. It runs until ctx is cancelled.
//
// A reload that fails to parse or validate is logged and skipped; the
// previous parameters stay in effect.
func WatchParameters(ctx context.Context, path string, onChange func(*models.PARAMETERS)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors that save atomically show up as Create after a rename.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p, err := LoadParameters(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous parameters", "path", path, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", path, "avg", p.AVG, "delay_ms", p.DELAY)
			onChange(p)
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
