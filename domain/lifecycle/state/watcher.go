// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
)

// ScheduleWatcher notifies when cleanup schedules are written or
// removed. Like every notify watcher it sends an initial event.
type ScheduleWatcher struct {
	catacomb catacomb.Catacomb
	watcher  *fsnotify.Watcher
	out      chan struct{}
}

// WatchSchedules returns a watcher of the schedules directory.
func (st *FileState) WatchSchedules() (*ScheduleWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "creating schedule watcher")
	}
	if err := fw.Add(st.SchedulesDir()); err != nil {
		_ = fw.Close()
		return nil, errors.Annotate(err, "watching schedules")
	}
	w := &ScheduleWatcher{
		watcher: fw,
		out:     make(chan struct{}),
	}
	err = catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	})
	if err != nil {
		_ = fw.Close()
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Changes returns the channel of change notifications.
func (w *ScheduleWatcher) Changes() <-chan struct{} {
	return w.out
}

// Kill is part of the worker.Worker interface.
func (w *ScheduleWatcher) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *ScheduleWatcher) Wait() error {
	return w.catacomb.Wait()
}

func (w *ScheduleWatcher) loop() error {
	defer func() { _ = w.watcher.Close() }()

	out := w.out
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("schedule events channel closed")
			}
			// Atomic writes go through temporary files; only the
			// final rename matters.
			if strings.HasSuffix(filepath.Base(ev.Name), fileSuffix) {
				out = w.out
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("schedule errors channel closed")
			}
			return errors.Annotate(err, "watching schedules")
		case out <- struct{}{}:
			out = nil
		}
	}
}
