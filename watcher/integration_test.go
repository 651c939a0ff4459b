package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrti/vuio/config"
	"github.com/vyrti/vuio/database"
	"github.com/vyrti/vuio/media"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "vuio.db"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestHandleAddInsertsFile(t *testing.T) {
	db := newTestDB(t)
	var changes atomic.Int32
	in := NewIntegrator(db, func() { changes.Add(1) })

	path := filepath.Join(t.TempDir(), "a.mp4")
	writeFile(t, path, 10)

	require.NoError(t, in.handleAdd(path))
	got, err := db.GetByPath(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.Size)
	assert.Equal(t, int32(1), changes.Load())

	// Idempotent: adding again routes to update, refreshing the record.
	require.NoError(t, in.handleAdd(path))
	all, err := db.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHandleAddVanishedPathIsNoop(t *testing.T) {
	db := newTestDB(t)
	var changes atomic.Int32
	in := NewIntegrator(db, func() { changes.Add(1) })

	require.NoError(t, in.handleAdd(filepath.Join(t.TempDir(), "gone.mp4")))
	assert.Zero(t, changes.Load())
}

func TestHandleAddDirectoryScansTree(t *testing.T) {
	db := newTestDB(t)
	var changes atomic.Int32
	in := NewIntegrator(db, func() { changes.Add(1) })

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), 1)
	writeFile(t, filepath.Join(dir, "sub", "b.mkv"), 2)
	writeFile(t, filepath.Join(dir, "skip.txt"), 3)

	require.NoError(t, in.handleAdd(dir))
	all, err := db.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	// A directory add is one logical change however many files it holds.
	assert.Equal(t, int32(1), changes.Load())
}

func TestHandleUpdateDelegatesToRemoveWhenGone(t *testing.T) {
	db := newTestDB(t)
	var changes atomic.Int32
	in := NewIntegrator(db, func() { changes.Add(1) })

	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp4")
	writeFile(t, path, 10)
	require.NoError(t, in.handleAdd(path))
	require.NoError(t, os.Remove(path))

	require.NoError(t, in.handleUpdate(path))
	got, err := db.GetByPath(path)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int32(2), changes.Load())
}

func TestHandleRemoveDirectoryPrefix(t *testing.T) {
	db := newTestDB(t)
	var changes atomic.Int32
	in := NewIntegrator(db, func() { changes.Add(1) })

	for _, p := range []string{"/m/old/x.mp4", "/m/old/y.mp4", "/m/older/z.mp4"} {
		_, err := db.Store(&database.MediaFile{
			Path: p, Filename: filepath.Base(p), Size: 1,
			ModifiedTime: time.Unix(0, 0), MimeType: "video/mp4",
		})
		require.NoError(t, err)
	}

	// Removing the directory path removes exactly its children; the
	// sibling whose name shares the prefix string stays.
	require.NoError(t, in.handleRemove("/m/old"))
	assert.Equal(t, int32(1), changes.Load())

	all, err := db.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/m/older/z.mp4", all[0].Path)

	// Removing an unindexed path changes nothing and does not bump.
	require.NoError(t, in.handleRemove("/m/absent"))
	assert.Equal(t, int32(1), changes.Load())
}

func TestHandleMoveFile(t *testing.T) {
	db := newTestDB(t)
	var changes atomic.Int32
	in := NewIntegrator(db, func() { changes.Add(1) })

	dir := t.TempDir()
	from := filepath.Join(dir, "old.mp4")
	to := filepath.Join(dir, "new.mp4")
	writeFile(t, from, 10)
	require.NoError(t, in.handleAdd(from))
	require.NoError(t, os.Rename(from, to))

	require.NoError(t, in.handleMove(from, to))
	assert.Equal(t, int32(2), changes.Load())

	gone, err := db.GetByPath(from)
	require.NoError(t, err)
	assert.Nil(t, gone)
	got, err := db.GetByPath(to)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new.mp4", got.Filename)
}

func TestHandleMoveDirectoryBumpsOnce(t *testing.T) {
	db := newTestDB(t)
	var changes atomic.Int32
	in := NewIntegrator(db, func() { changes.Add(1) })

	base := t.TempDir()
	oldDir := filepath.Join(base, "old")
	newDir := filepath.Join(base, "new")
	writeFile(t, filepath.Join(oldDir, "x.mp4"), 1)
	writeFile(t, filepath.Join(oldDir, "y.mp4"), 2)
	require.NoError(t, in.handleAdd(oldDir))
	require.Equal(t, int32(1), changes.Load())

	require.NoError(t, os.Rename(oldDir, newDir))
	require.NoError(t, in.handleMove(oldDir, newDir))

	// The whole directory rename is one logical change.
	assert.Equal(t, int32(2), changes.Load())

	all, err := db.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, f := range all {
		assert.Contains(t, f.Path, newDir)
	}
	leftovers, err := db.ListInDirectory(oldDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestHandleMoveTargetGoneDelegatesToRemove(t *testing.T) {
	db := newTestDB(t)
	in := NewIntegrator(db, nil)

	_, err := db.Store(&database.MediaFile{
		Path: "/m/a.mp4", Filename: "a.mp4", Size: 1,
		ModifiedTime: time.Unix(0, 0), MimeType: "video/mp4",
	})
	require.NoError(t, err)

	require.NoError(t, in.handleMove("/m/a.mp4", filepath.Join(t.TempDir(), "vanished.mp4")))
	got, err := db.GetByPath("/m/a.mp4")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnqueueLastWriterWins(t *testing.T) {
	in := NewIntegrator(newTestDB(t), nil)

	in.enqueue(Event{Type: Created, Path: "/m/a.mp4"})
	in.enqueue(Event{Type: Deleted, Path: "/m/a.mp4"})

	in.mu.Lock()
	defer in.mu.Unlock()
	require.Len(t, in.pending, 1)
	assert.Equal(t, opRemove, in.pending["/m/a.mp4"].kind)
}

func TestEnqueueRenameDropsStaleSourceOp(t *testing.T) {
	in := NewIntegrator(newTestDB(t), nil)

	in.enqueue(Event{Type: Modified, Path: "/m/old.mp4"})
	in.enqueue(Event{Type: Renamed, Path: "/m/new.mp4", OldPath: "/m/old.mp4"})

	in.mu.Lock()
	defer in.mu.Unlock()
	require.Len(t, in.pending, 1)
	op := in.pending["/m/new.mp4"]
	assert.Equal(t, opMove, op.kind)
	assert.Equal(t, "/m/old.mp4", op.from)
}

// End-to-end: delete on disk reaches the store within the debounce plus
// batch window, and the counter strictly increases.
func TestDeleteEventReconciliation(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp4")
	writeFile(t, path, 10)

	_, err := media.ScanDirectory(context.Background(), db, dir, media.ScanOptions{Recursive: true})
	require.NoError(t, err)

	var counter atomic.Uint32
	counter.Store(1)
	in := NewIntegrator(db, func() { counter.Add(1) })
	in.batchInterval = 200 * time.Millisecond

	w, err := New(nil)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Watch(dir, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx, w.Events())

	before := counter.Load()
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		got, err := db.GetByPath(path)
		return err == nil && got == nil
	}, 2*time.Second, 50*time.Millisecond)
	assert.Greater(t, counter.Load(), before)
}

// End-to-end directory rename: rows move to the new prefix, the old prefix
// empties, and the counter increases by exactly one.
func TestDirectoryRenameReconciliation(t *testing.T) {
	db := newTestDB(t)
	base := t.TempDir()
	oldDir := filepath.Join(base, "old")
	newDir := filepath.Join(base, "new")
	writeFile(t, filepath.Join(oldDir, "x.mp4"), 1)
	writeFile(t, filepath.Join(oldDir, "y.mp4"), 2)

	_, err := media.ScanDirectory(context.Background(), db, base, media.ScanOptions{Recursive: true})
	require.NoError(t, err)

	var counter atomic.Uint32
	counter.Store(1)
	in := NewIntegrator(db, func() { counter.Add(1) })
	in.batchInterval = 200 * time.Millisecond

	w, err := New(nil)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Watch(base, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx, w.Events())

	before := counter.Load()
	require.NoError(t, os.Rename(oldDir, newDir))

	require.Eventually(t, func() bool {
		moved, err := db.ListInDirectory(newDir + string(os.PathSeparator))
		if err != nil || len(moved) != 2 {
			return false
		}
		stale, err := db.ListInDirectory(oldDir + string(os.PathSeparator))
		return err == nil && len(stale) == 0
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, before+1, counter.Load())
}

func TestInitialSyncScanAndCleanup(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), 1)

	// A stale row under the root that the scan will not find.
	_, err := db.Store(&database.MediaFile{
		Path: filepath.Join(dir, "stale.mp4"), Filename: "stale.mp4", Size: 1,
		ModifiedTime: time.Unix(0, 0), MimeType: "video/mp4",
	})
	require.NoError(t, err)

	// A row outside every configured root is never considered missing.
	_, err = db.Store(&database.MediaFile{
		Path: "/elsewhere/b.mp4", Filename: "b.mp4", Size: 1,
		ModifiedTime: time.Unix(0, 0), MimeType: "video/mp4",
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Media.Directories = []config.MonitoredDirectory{{Path: dir, Recursive: true}}
	cfg.Media.ScanOnStartup = true

	changed, err := InitialSync(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, changed) // one insert, one cleanup

	stale, err := db.GetByPath(filepath.Join(dir, "stale.mp4"))
	require.NoError(t, err)
	assert.Nil(t, stale)

	outside, err := db.GetByPath("/elsewhere/b.mp4")
	require.NoError(t, err)
	assert.NotNil(t, outside)

	scanned, err := db.GetByPath(filepath.Join(dir, "a.mp4"))
	require.NoError(t, err)
	assert.NotNil(t, scanned)
}

func TestInitialSyncStatCleanup(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.mp4")
	writeFile(t, kept, 1)

	for _, p := range []string{kept, filepath.Join(dir, "gone.mp4")} {
		_, err := db.Store(&database.MediaFile{
			Path: p, Filename: filepath.Base(p), Size: 1,
			ModifiedTime: time.Unix(0, 0), MimeType: "video/mp4",
		})
		require.NoError(t, err)
	}

	cfg := config.Default()
	cfg.Media.Directories = []config.MonitoredDirectory{{Path: dir, Recursive: true}}
	cfg.Media.ScanOnStartup = false
	cfg.Media.CleanupDeletedFiles = true

	changed, err := InitialSync(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	all, err := db.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, kept, all[0].Path)
}
