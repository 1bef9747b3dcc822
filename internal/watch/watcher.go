// Package watch observes the tracker's on-disk change log and arms the
// refresh scheduler's debounce timer on relevant writes, per spec.md
// §4.6. Grounded on the fsnotify + debounce-timer pattern used by the
// teacher's own `bd list --watch` implementation.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Scheduler is the subset of scheduler.Scheduler the watcher needs.
type Scheduler interface {
	ScheduleListRefresh(ctx context.Context)
}

// Watcher observes a single file's directory and arms sched's debounce
// timer whenever that file changes.
type Watcher struct {
	dir      string
	filename string
	sched    Scheduler
	logger   *slog.Logger
}

// New returns a Watcher for changeLogPath. The watcher watches
// changeLogPath's containing directory (fsnotify watches directories,
// not individual files reliably across platforms) and filters events
// to changeLogPath's basename, ignoring everything else in the
// directory, per spec.md §4.6.
func New(changeLogPath string, sched Scheduler, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      filepath.Dir(changeLogPath),
		filename: filepath.Base(changeLogPath),
		sched:    sched,
		logger:   logger,
	}
}

// Run watches until ctx is canceled. If the directory cannot be
// watched, it logs and returns nil immediately — the watcher is
// best-effort per spec.md §4.6, so a failure here must not be treated
// as a fatal daemon error.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("change watcher unavailable", "error", err)
		return nil
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		w.logger.Warn("change watcher could not watch directory", "dir", w.dir, "error", err)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != w.filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.sched.ScheduleListRefresh(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("change watcher error", "error", err)
		}
	}
}
