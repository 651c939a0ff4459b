// Package watcher turns raw OS filesystem notifications into a small set
// of high-level media events and reconciles them with the index. The
// Watcher half debounces and coalesces fsnotify events; the Integrator
// half applies them to the store in idempotent batches.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/media"
)

// EventType is the high-level classification of a filesystem change.
type EventType int

const (
	Created EventType = iota
	Modified
	Deleted
	Renamed
)

func (t EventType) String() string {
	switch t {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	}
	return "unknown"
}

// Event is one coalesced filesystem change. OldPath is set for Renamed
// events only.
type Event struct {
	Type    EventType
	Path    string
	OldPath string
}

const (
	// settleWindow is how long a path must stay quiet before its pending
	// event is emitted. Rapid bursts collapse into the latest event.
	settleWindow = 500 * time.Millisecond
	// flushTick is how often pending events are checked against their
	// settle deadline.
	flushTick = 100 * time.Millisecond
	// eventBufferSize bounds the outgoing channel. On overflow the oldest
	// events are dropped; the periodic drift scan restores integrity.
	eventBufferSize = 1000
)

// Watcher watches directory trees recursively and emits debounced Events.
type Watcher struct {
	fsw        *fsnotify.Watcher
	events     chan Event
	extensions []string
	log        *logrus.Entry

	mu      sync.Mutex
	pending map[string]*pendingEvent
	// renameFrom remembers the source of an in-flight rename so the
	// following create can be paired into a single Renamed event.
	renameFrom     string
	renameDeadline time.Time
	watched        map[string]bool

	done     chan struct{}
	stopOnce sync.Once
}

type pendingEvent struct {
	event    Event
	deadline time.Time
}

// New creates a watcher filtering file events by the given extension list
// (nil means the canonical media table).
func New(extensions []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:        fsw,
		events:     make(chan Event, eventBufferSize),
		extensions: extensions,
		pending:    make(map[string]*pendingEvent),
		watched:    make(map[string]bool),
		done:       make(chan struct{}),
		log:        logrus.WithField("component", "watcher"),
	}
	go w.run()
	return w, nil
}

// Events returns the channel of debounced events. It is closed by Stop.
func (w *Watcher) Events() <-chan Event { return w.events }

// Watch adds a directory tree to the watch set. Subdirectories are added
// immediately; ones created later are picked up by the Created handler.
func (w *Watcher) Watch(dir string, recursive bool) error {
	if err := w.addWatch(dir); err != nil {
		return err
	}
	if !recursive {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.WithError(err).WithField("path", path).Warn("cannot watch subtree")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() && path != dir {
			if err := w.addWatch(path); err != nil {
				w.log.WithError(err).WithField("path", path).Warn("cannot watch directory")
			}
		}
		return nil
	})
}

func (w *Watcher) addWatch(dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.watched[dir] = true
	w.mu.Unlock()
	w.log.WithField("dir", dir).Debug("watching directory")
	return nil
}

// Unwatch removes a single directory from the watch set.
func (w *Watcher) Unwatch(dir string) error {
	w.mu.Lock()
	delete(w.watched, dir)
	w.mu.Unlock()
	err := w.fsw.Remove(dir)
	if errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return nil
	}
	return err
}

// IsWatching reports whether dir is currently watched.
func (w *Watcher) IsWatching(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[dir]
}

// Stop cancels all native watches and closes the event channel.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}

func (w *Watcher) run() {
	ticker := time.NewTicker(flushTick)
	defer ticker.Stop()
	defer close(w.events)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.flush(time.Time{})
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// handleRaw folds one fsnotify event into the pending map. Later events
// for the same path overwrite earlier ones, except that a write after a
// create stays a create.
func (w *Watcher) handleRaw(ev fsnotify.Event) {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	deadline := now.Add(settleWindow)
	switch {
	case ev.Op&fsnotify.Rename != 0:
		// Rename surfaces as Rename(old) followed by Create(new). Hold
		// the old path for pairing; if no create shows up before the
		// settle deadline it degrades to a delete. A renamed directory
		// echoes a second Rename from its own watch (MOVE_SELF); a path
		// already recorded as the source of a pending pair is that echo.
		for _, p := range w.pending {
			if p.event.Type == Renamed && p.event.OldPath == ev.Name {
				return
			}
		}
		w.renameFrom = ev.Name
		w.renameDeadline = deadline
	case ev.Op&fsnotify.Create != 0:
		if w.renameFrom != "" && now.Before(w.renameDeadline) {
			from := w.renameFrom
			w.renameFrom = ""
			delete(w.pending, from)
			w.pending[ev.Name] = &pendingEvent{
				event:    Event{Type: Renamed, Path: ev.Name, OldPath: from},
				deadline: deadline,
			}
			return
		}
		w.pending[ev.Name] = &pendingEvent{
			event:    Event{Type: Created, Path: ev.Name},
			deadline: deadline,
		}
	case ev.Op&fsnotify.Remove != 0:
		w.pending[ev.Name] = &pendingEvent{
			event:    Event{Type: Deleted, Path: ev.Name},
			deadline: deadline,
		}
	case ev.Op&fsnotify.Write != 0:
		if p, ok := w.pending[ev.Name]; ok && (p.event.Type == Created || p.event.Type == Renamed) {
			// Keep the stronger event, just extend its settle window.
			p.deadline = deadline
			return
		}
		w.pending[ev.Name] = &pendingEvent{
			event:    Event{Type: Modified, Path: ev.Name},
			deadline: deadline,
		}
	}
}

// flush emits every pending event whose settle deadline has passed. A zero
// now flushes everything.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var ready []Event
	for path, p := range w.pending {
		if now.IsZero() || !now.Before(p.deadline) {
			ready = append(ready, p.event)
			delete(w.pending, path)
		}
	}
	if w.renameFrom != "" && (now.IsZero() || !now.Before(w.renameDeadline)) {
		// Unpaired rename: the path left the watched tree.
		ready = append(ready, Event{Type: Deleted, Path: w.renameFrom})
		w.renameFrom = ""
	}
	w.mu.Unlock()

	for _, ev := range ready {
		if !w.relevant(ev) {
			continue
		}
		if ev.Type == Created || ev.Type == Renamed {
			w.maybeWatchNewDir(ev.Path)
		}
		w.emit(ev)
	}
}

// relevant applies the scope filter: supported media files pass, and so do
// directories. Paths that no longer exist cannot be statted, so a delete
// or rename whose path is gone passes whatever its extension: it may have
// been a directory, which the integrator's prefix logic handles.
func (w *Watcher) relevant(ev Event) bool {
	if media.IsSupportedExtension(ev.Path, w.extensions) {
		return true
	}
	if fi, err := os.Stat(ev.Path); err == nil {
		return fi.IsDir()
	}
	return ev.Type == Deleted || ev.Type == Renamed
}

// maybeWatchNewDir arms watches for a directory created after watch start.
func (w *Watcher) maybeWatchNewDir(path string) {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}
	if err := w.Watch(path, true); err != nil {
		w.log.WithError(err).WithField("dir", path).Warn("cannot watch new directory")
	}
}

// emit sends with drop-oldest overflow behavior.
func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
		return
	default:
	}
	// Channel full: drop the oldest event to make room. Integrity is
	// restored by the periodic drift scan.
	select {
	case dropped := <-w.events:
		w.log.WithField("path", dropped.Path).Warn("event buffer full, dropping oldest event")
	default:
	}
	select {
	case w.events <- ev:
	default:
	}
}
