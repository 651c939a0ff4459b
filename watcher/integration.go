package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/database"
	"github.com/vyrti/vuio/media"
)

type opKind int

const (
	opAdd opKind = iota
	opUpdate
	opRemove
	opMove
)

// op is one queued index mutation. Ops are keyed by path in the pending
// map; a newer event for the same path overwrites the older op.
type op struct {
	kind opKind
	from string // opMove only
}

// defaultBatchInterval is how often the pending map is drained.
const defaultBatchInterval = time.Second

// Integrator drains debounced watcher events into idempotent store
// mutations and bumps the content update counter once per logical change.
type Integrator struct {
	db  *database.Database
	log *logrus.Entry

	// onChange is invoked once per applied logical change, right after the
	// store mutation; callers refresh the media cache there.
	onChange func()

	batchInterval time.Duration

	mu      sync.Mutex
	pending map[string]op

	wg sync.WaitGroup
}

// NewIntegrator wires the store to the watcher. onChange runs once per
// applied logical change, after the store mutation; the caller bumps the
// update counter and refreshes the cache in it.
func NewIntegrator(db *database.Database, onChange func()) *Integrator {
	return &Integrator{
		db:            db,
		onChange:      onChange,
		batchInterval: defaultBatchInterval,
		pending:       make(map[string]op),
		log:           logrus.WithField("component", "integrator"),
	}
}

// Run consumes events until the channel closes or ctx is canceled,
// draining the pending map every batch interval. The final drain on the
// way out applies whatever is still queued.
func (in *Integrator) Run(ctx context.Context, events <-chan Event) {
	in.wg.Add(1)
	defer in.wg.Done()

	ticker := time.NewTicker(in.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.drain(context.Background())
			return
		case ev, ok := <-events:
			if !ok {
				in.drain(context.Background())
				return
			}
			in.enqueue(ev)
		case <-ticker.C:
			in.drain(ctx)
		}
	}
}

// Wait blocks until Run has returned and the last batch is applied.
func (in *Integrator) Wait() { in.wg.Wait() }

func (in *Integrator) enqueue(ev Event) {
	in.mu.Lock()
	defer in.mu.Unlock()
	switch ev.Type {
	case Created:
		in.pending[ev.Path] = op{kind: opAdd}
	case Modified:
		in.pending[ev.Path] = op{kind: opUpdate}
	case Deleted:
		in.pending[ev.Path] = op{kind: opRemove}
	case Renamed:
		delete(in.pending, ev.OldPath)
		in.pending[ev.Path] = op{kind: opMove, from: ev.OldPath}
	}
}

// drain applies the queued ops. Ops are pairwise independent by key, so
// application order does not matter. Failures are logged per op and never
// stop the batch.
func (in *Integrator) drain(ctx context.Context) {
	in.mu.Lock()
	batch := in.pending
	in.pending = make(map[string]op)
	in.mu.Unlock()

	for path, o := range batch {
		if ctx.Err() != nil {
			// Re-queue the remainder rather than dropping it.
			in.mu.Lock()
			if _, exists := in.pending[path]; !exists {
				in.pending[path] = o
			}
			in.mu.Unlock()
			continue
		}
		var err error
		switch o.kind {
		case opAdd:
			err = in.handleAdd(path)
		case opUpdate:
			err = in.handleUpdate(path)
		case opRemove:
			err = in.handleRemove(path)
		case opMove:
			err = in.handleMove(o.from, path)
		}
		if err != nil {
			in.log.WithError(err).WithField("path", path).Warn("index mutation failed")
		}
	}
}

// handleAdd indexes a new file or directory tree. Adding something that
// vanished again is a no-op; adding an already indexed file is an update.
func (in *Integrator) handleAdd(path string) error {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return in.addDirectory(path)
	}
	existing, err := in.db.GetByPath(path)
	if err != nil {
		return err
	}
	if existing != nil {
		return in.handleUpdate(path)
	}
	f, err := media.NewMediaFile(path)
	if err != nil {
		return err
	}
	if _, err := in.db.Store(f); err != nil {
		return err
	}
	in.log.WithField("path", path).Info("indexed new file")
	in.notify()
	return nil
}

// addDirectory indexes every media file under dir. One logical change for
// the whole tree.
func (in *Integrator) addDirectory(dir string) error {
	changed := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			in.log.WithError(err).WithField("path", path).Warn("cannot scan new directory entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !media.IsSupportedExtension(path, nil) {
			return nil
		}
		existing, err := in.db.GetByPath(path)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		f, err := media.NewMediaFile(path)
		if err != nil {
			return err
		}
		if _, err := in.db.Store(f); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if changed {
		in.log.WithField("dir", dir).Info("indexed new directory")
		in.notify()
	}
	return err
}

// handleUpdate refreshes size, mtime and tags of an indexed file. A
// vanished file delegates to remove; an unindexed one to add.
func (in *Integrator) handleUpdate(path string) error {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return in.handleRemove(path)
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return in.addDirectory(path)
	}
	existing, err := in.db.GetByPath(path)
	if err != nil {
		return err
	}
	if existing == nil {
		return in.handleAdd(path)
	}
	updated := *existing
	updated.Size = fi.Size()
	updated.ModifiedTime = fi.ModTime()
	updated.MimeType = media.MimeTypeFor(path)
	tags := media.ParseTags(path)
	updated.Title = tags.Title
	updated.Artist = tags.Artist
	updated.Album = tags.Album
	if _, err := in.db.Update(&updated); err != nil {
		return err
	}
	in.log.WithField("path", path).Debug("refreshed index entry")
	in.notify()
	return nil
}

// handleRemove deletes the row for path and, because delete events for
// directories arrive without a trailing separator, every row under it.
// One logical change however many rows go.
func (in *Integrator) handleRemove(path string) error {
	removed, err := in.db.Remove(path)
	if err != nil {
		return err
	}
	n, err := in.db.RemoveByPrefix(path + string(os.PathSeparator))
	if err != nil {
		return err
	}
	if removed || n > 0 {
		in.log.WithFields(logrus.Fields{"path": path, "rows": n}).Info("removed from index")
		in.notify()
	}
	return nil
}

// handleMove applies a rename. A directory rename moves every child row;
// either way the counter is bumped once.
func (in *Integrator) handleMove(from, to string) error {
	fi, err := os.Stat(to)
	if os.IsNotExist(err) {
		return in.handleRemove(from)
	}
	if err != nil {
		return err
	}

	changed := false
	if fi.IsDir() {
		if _, err := in.db.Remove(from); err != nil {
			return err
		}
		n, err := in.db.RemoveByPrefix(from + string(os.PathSeparator))
		if err != nil {
			return err
		}
		changed = n > 0
		err = filepath.WalkDir(to, func(path string, d fs.DirEntry, werr error) error {
			if werr != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() || !media.IsSupportedExtension(path, nil) {
				return nil
			}
			f, ferr := media.NewMediaFile(path)
			if ferr != nil {
				return nil
			}
			if _, serr := in.db.Store(f); serr == nil {
				changed = true
			}
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		removed, err := in.db.Remove(from)
		if err != nil {
			return err
		}
		changed = removed
		if media.IsSupportedExtension(to, nil) {
			f, err := media.NewMediaFile(to)
			if err != nil {
				return err
			}
			if existing, err := in.db.GetByPath(to); err != nil {
				return err
			} else if existing != nil {
				f.ID = existing.ID
				if _, err := in.db.Update(f); err != nil {
					return err
				}
			} else if _, err := in.db.Store(f); err != nil {
				return err
			}
			changed = true
		}
	}
	if changed {
		in.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("moved in index")
		in.notify()
	}
	return nil
}

func (in *Integrator) notify() {
	if in.onChange != nil {
		in.onChange()
	}
}
