package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads path on change and atomically swaps the new data into
// the long-lived *Config every caller holds, via Config.ReplaceFrom —
// matching the teacher's ReplaceFrom-based mutex-swap idiom. Identity files
// are deliberately NOT hot-reloaded here: the context builder reads them
// fresh from disk on every turn instead (see internal/contextbuilder).
type Watcher struct {
	path string
	live *Config
	fsw  *fsnotify.Watcher
}

// NewWatcher builds a Watcher for path, swapping reloaded data into live.
func NewWatcher(path string, live *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, live: live, fsw: fsw}, nil
}

// Run blocks, reloading live on every write/create event until ctx is
// cancelled. A parse failure is logged and the previous config is kept,
// rather than leaving the process with a half-applied config.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var debounce *time.Timer
	reload := func() {
		next, err := Load(w.path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", w.path, "err", err)
			return
		}
		w.live.ReplaceFrom(next)
		slog.Info("config: reloaded", "path", w.path)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
