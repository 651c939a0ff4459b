package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrti/vuio/database"
)

func TestMimeTypeForKnownExtensions(t *testing.T) {
	cases := map[string]string{
		"movie.mkv":   "video/x-matroska",
		"movie.MP4":   "video/mp4",
		"clip.webm":   "video/webm",
		"clip.3gp":    "video/3gpp",
		"song.mp3":    "audio/mpeg",
		"song.FLAC":   "audio/flac",
		"song.m4a":    "audio/mp4",
		"cover.jpg":   "image/jpeg",
		"cover.jpeg":  "image/jpeg",
		"diagram.svg": "image/svg+xml",
	}
	for name, want := range cases {
		assert.Equal(t, want, MimeTypeFor(name), name)
	}
}

func TestMimeTypeForUnknownExtension(t *testing.T) {
	// Non-existent file with an unknown extension: nothing to sniff.
	assert.Equal(t, "application/octet-stream", MimeTypeFor("/nope/file.xyz"))
}

func TestIsSupportedExtension(t *testing.T) {
	assert.True(t, IsSupportedExtension("a.mp4", nil))
	assert.True(t, IsSupportedExtension("a.MKV", nil))
	assert.False(t, IsSupportedExtension("a.txt", nil))
	assert.False(t, IsSupportedExtension("noext", nil))

	// Config override narrows the set.
	assert.True(t, IsSupportedExtension("a.mp4", []string{"mp4"}))
	assert.False(t, IsSupportedExtension("a.mkv", []string{"mp4"}))
	assert.True(t, IsSupportedExtension("a.mkv", []string{".mkv"}))
}

func TestUPnPClassFor(t *testing.T) {
	assert.Equal(t, "object.item.videoItem", UPnPClassFor("video/mp4"))
	assert.Equal(t, "object.item.audioItem", UPnPClassFor("audio/flac"))
	assert.Equal(t, "object.item.imageItem", UPnPClassFor("image/png"))
	assert.Equal(t, "object.item.videoItem", UPnPClassFor("application/octet-stream"))
}

func TestParseTags(t *testing.T) {
	tags := ParseTags("/m/Pink Floyd - Time.mp3")
	assert.Equal(t, "Pink Floyd", tags.Artist)
	assert.Equal(t, "Time", tags.Title)

	tags = ParseTags("/m/holiday video.mp4")
	assert.Empty(t, tags.Artist)
	assert.Equal(t, "holiday video", tags.Title)

	// More than one separator: no split, keep the whole stem.
	tags = ParseTags("/m/a - b - c.mp3")
	assert.Empty(t, tags.Artist)
	assert.Equal(t, "a - b - c", tags.Title)
}

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

func TestScanDirectoryInsertsNewFiles(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), 10)
	writeFile(t, filepath.Join(dir, "b.mkv"), 20)
	writeFile(t, filepath.Join(dir, "notes.txt"), 5)
	writeFile(t, filepath.Join(dir, "sub", "c.mp3"), 30)

	result, err := ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 3, result.New)
	assert.Zero(t, result.Updated)
	assert.True(t, result.Complete())
	assert.Len(t, result.KnownPaths, 3)

	all, err := db.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestScanDirectoryNonRecursive(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), 10)
	writeFile(t, filepath.Join(dir, "sub", "c.mp3"), 30)

	result, err := ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: false})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
}

func TestScanDirectoryDiffing(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp4")
	writeFile(t, path, 10)

	_, err := ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: true})
	require.NoError(t, err)

	// Unchanged file is skipped on the next pass.
	result, err := ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unchanged)
	assert.Zero(t, result.New)
	assert.Zero(t, result.Updated)

	// Grow the file and backdate nothing: size change triggers an update.
	writeFile(t, path, 99)
	result, err = ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	got, err := db.GetByPath(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(99), got.Size)
}

func TestScanDirectoryModTimeChange(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp4")
	writeFile(t, path, 10)

	_, err := ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: true})
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	result, err := ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
}

func TestScanDirectoryExcludePatterns(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.mp4"), 10)
	writeFile(t, filepath.Join(dir, "sample.mp4"), 10)

	result, err := ScanDirectory(context.Background(), db, dir, ScanOptions{
		Recursive:       true,
		ExcludePatterns: []string{"sample.*"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
}

func TestScanDirectoryExtensionOverride(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), 10)
	writeFile(t, filepath.Join(dir, "b.mkv"), 10)

	result, err := ScanDirectory(context.Background(), db, dir, ScanOptions{
		Recursive:  true,
		Extensions: []string{"mkv"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
}

func TestScanDirectoryNeverDeletes(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	// A record whose file is long gone survives any number of scans.
	_, err := db.Store(&database.MediaFile{
		Path: "/gone/x.mp4", Filename: "x.mp4", Size: 1,
		ModifiedTime: time.Unix(0, 0), MimeType: "video/mp4",
	})
	require.NoError(t, err)

	_, err = ScanDirectory(context.Background(), db, dir, ScanOptions{Recursive: true})
	require.NoError(t, err)

	got, err := db.GetByPath("/gone/x.mp4")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestNewMediaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Queen - Bohemian Rhapsody.mp3")
	writeFile(t, path, 42)

	f, err := NewMediaFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path)
	assert.Equal(t, "Queen - Bohemian Rhapsody.mp3", f.Filename)
	assert.Equal(t, int64(42), f.Size)
	assert.Equal(t, "audio/mpeg", f.MimeType)
	assert.Equal(t, "Queen", f.Artist)
	assert.Equal(t, "Bohemian Rhapsody", f.Title)
}
