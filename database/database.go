// Package database keeps the durable media index in a single-file sqlite
// store. It is the only component that touches the database; the scanner,
// the watcher integrator and the web layer all go through it.
//
// The store runs in WAL mode with synchronous=NORMAL so readers never block
// the single writer and a crash can lose at most the last checkpoint, never
// corrupt the file. The driver is modernc.org/sqlite: pure Go, no cgo.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // sqlite driver registration
)

// ErrDuplicatePath is returned by Store when the path already has a row.
// The integrator treats it as a signal to route the change to Update.
var ErrDuplicatePath = errors.New("path already indexed")

const schemaVersion = "1"

// MediaFile is one indexed file. IDs are assigned by sqlite and stay
// stable across restarts for any path that is not removed.
type MediaFile struct {
	ID           int64
	Path         string
	Filename     string
	Size         int64
	ModifiedTime time.Time
	MimeType     string
	Duration     time.Duration // 0 when unknown
	Title        string
	Artist       string
	Album        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stats summarizes the index for diagnostics and the heartbeat page.
type Stats struct {
	FileCount     int64
	TotalSize     int64
	FileSizeBytes int64 // size of the database file itself
}

// Database wraps the sqlite store. Reads may run concurrently; writes are
// serialized by mu. No method holds mu across anything but its own
// statements, so callers are free to compose them.
type Database struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // serializes writers

	// Windows stores paths with their original case but compares them
	// case-insensitively.
	caseInsensitive bool

	log *logrus.Entry
}

// New opens (or creates) the database file at path. Initialize must be
// called before any other operation.
func New(path string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Database{
		db:              db,
		path:            path,
		caseInsensitive: runtime.GOOS == "windows",
		log:             logrus.WithField("component", "database"),
	}, nil
}

func dsn(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=cache_size(-10000)"
}

// Path returns the database file location.
func (d *Database) Path() string { return d.path }

// Close closes the underlying pool.
func (d *Database) Close() error { return d.db.Close() }

// Initialize creates tables, indexes and the schema version row. It is
// idempotent and safe to call on every start.
func (d *Database) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initializeLocked()
}

func (d *Database) initializeLocked() error {
	_, err := d.db.Exec(`
	CREATE TABLE IF NOT EXISTS media_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT UNIQUE NOT NULL,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL,
		modified INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		duration INTEGER,
		title TEXT,
		artist TEXT,
		album TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create media_files table: %w", err)
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_media_files_path ON media_files(path)`,
		`CREATE INDEX IF NOT EXISTS idx_media_files_modified ON media_files(modified)`,
		`CREATE INDEX IF NOT EXISTS idx_media_files_mime_type ON media_files(mime_type)`,
		`CREATE INDEX IF NOT EXISTS idx_media_files_filename ON media_files(filename)`,
	} {
		if _, err := d.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	_, err = d.db.Exec(`
	CREATE TABLE IF NOT EXISTS database_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create database_metadata table: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT OR IGNORE INTO database_metadata (key, value, updated_at) VALUES (?, ?, ?)`,
		"schema_version", schemaVersion, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

const mediaFileColumns = `id, path, filename, size, modified, mime_type, duration, title, artist, album, created_at, updated_at`

func scanMediaFile(row interface{ Scan(...any) error }) (MediaFile, error) {
	var (
		f        MediaFile
		modified int64
		duration sql.NullInt64
		title    sql.NullString
		artist   sql.NullString
		album    sql.NullString
		created  int64
		updated  int64
	)
	err := row.Scan(&f.ID, &f.Path, &f.Filename, &f.Size, &modified, &f.MimeType,
		&duration, &title, &artist, &album, &created, &updated)
	if err != nil {
		return MediaFile{}, err
	}
	f.ModifiedTime = time.Unix(modified, 0)
	if duration.Valid {
		f.Duration = time.Duration(duration.Int64) * time.Millisecond
	}
	f.Title = title.String
	f.Artist = artist.String
	f.Album = album.String
	f.CreatedAt = time.Unix(created, 0)
	f.UpdatedAt = time.Unix(updated, 0)
	return f, nil
}

func durationArg(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return d.Milliseconds()
}

func stringArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Store inserts a new file and returns its assigned id. Inserting a path
// that already exists fails with ErrDuplicatePath.
func (d *Database) Store(f *MediaFile) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	res, err := d.db.Exec(`
	INSERT INTO media_files (path, filename, size, modified, mime_type, duration, title, artist, album, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Path, f.Filename, f.Size, f.ModifiedTime.Unix(), f.MimeType,
		durationArg(f.Duration), stringArg(f.Title), stringArg(f.Artist), stringArg(f.Album),
		now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicatePath, f.Path)
		}
		return 0, fmt.Errorf("store media file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	f.CreatedAt = time.Unix(now, 0)
	f.UpdatedAt = time.Unix(now, 0)
	return id, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps SQLITE_CONSTRAINT_UNIQUE (2067) into the
	// message; there is no exported errno type to match on.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByPath returns the file with exactly this path, or nil.
func (d *Database) GetByPath(path string) (*MediaFile, error) {
	row := d.db.QueryRow(`SELECT `+mediaFileColumns+` FROM media_files WHERE `+d.pathEq(), d.pathArg(path))
	f, err := scanMediaFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get by path: %w", err)
	}
	return &f, nil
}

// GetByID returns the file with this id, or nil. The media route looks
// items up by id.
func (d *Database) GetByID(id int64) (*MediaFile, error) {
	row := d.db.QueryRow(`SELECT `+mediaFileColumns+` FROM media_files WHERE id = ?`, id)
	f, err := scanMediaFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return &f, nil
}

// GetAll returns every indexed file ordered by filename.
func (d *Database) GetAll() ([]MediaFile, error) {
	rows, err := d.db.Query(`SELECT ` + mediaFileColumns + ` FROM media_files ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	defer rows.Close()
	return collectMediaFiles(rows)
}

// ListInDirectory returns files whose path starts with dir, ordered by
// filename. The match is a raw prefix: callers wanting strict containment
// append a separator. Rename events surface directories without one, so
// the integrator relies on the prefix form.
func (d *Database) ListInDirectory(dir string) ([]MediaFile, error) {
	rows, err := d.db.Query(
		`SELECT `+mediaFileColumns+` FROM media_files WHERE `+d.pathLike()+` ORDER BY filename`,
		likePrefixArg(d.pathArg(dir)))
	if err != nil {
		return nil, fmt.Errorf("list in directory: %w", err)
	}
	defer rows.Close()
	return collectMediaFiles(rows)
}

func collectMediaFiles(rows *sql.Rows) ([]MediaFile, error) {
	var out []MediaFile
	for rows.Next() {
		f, err := scanMediaFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Update refreshes all mutable fields of the row keyed by path and bumps
// updated_at. Updating an unindexed path is not an error; it reports
// false.
func (d *Database) Update(f *MediaFile) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().Unix()
	res, err := d.db.Exec(`
	UPDATE media_files
	SET filename = ?, size = ?, modified = ?, mime_type = ?, duration = ?, title = ?, artist = ?, album = ?, updated_at = ?
	WHERE `+d.pathEq(),
		f.Filename, f.Size, f.ModifiedTime.Unix(), f.MimeType,
		durationArg(f.Duration), stringArg(f.Title), stringArg(f.Artist), stringArg(f.Album),
		now, d.pathArg(f.Path))
	if err != nil {
		return false, fmt.Errorf("update media file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	f.UpdatedAt = time.Unix(now, 0)
	return n > 0, nil
}

// Remove deletes the row keyed by path and reports whether one existed.
func (d *Database) Remove(path string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`DELETE FROM media_files WHERE `+d.pathEq(), d.pathArg(path))
	if err != nil {
		return false, fmt.Errorf("remove media file: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveByPrefix deletes every row whose path starts with prefix and
// returns the number of rows removed. Used for directory deletes and the
// source side of directory renames; the prefix should already include the
// trailing separator when strict containment is wanted.
func (d *Database) RemoveByPrefix(prefix string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(
		`DELETE FROM media_files WHERE `+d.pathLike(),
		likePrefixArg(d.pathArg(prefix)))
	if err != nil {
		return 0, fmt.Errorf("remove by prefix: %w", err)
	}
	return res.RowsAffected()
}

// CleanupMissing deletes every row whose path is not in existing. An empty
// set is a no-op by contract: a caller that could not enumerate disk must
// never wipe the index.
func (d *Database) CleanupMissing(existing []string) (int64, error) {
	if len(existing) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// The set can exceed sqlite's bind variable limit, so stage it in a
	// temp table instead of an IN list.
	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS existing_paths (path TEXT PRIMARY KEY)`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM existing_paths`); err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO existing_paths (path) VALUES (?)`)
	if err != nil {
		return 0, err
	}
	for _, p := range existing {
		if _, err := stmt.Exec(d.pathArg(p)); err != nil {
			stmt.Close()
			return 0, err
		}
	}
	stmt.Close()

	del := `DELETE FROM media_files WHERE path NOT IN (SELECT path FROM existing_paths)`
	if d.caseInsensitive {
		del = `DELETE FROM media_files WHERE lower(path) NOT IN (SELECT path FROM existing_paths)`
	}
	res, err := tx.Exec(del)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.WithField("removed", n).Info("cleaned up missing files")
	}
	return n, nil
}

// GetStats returns row count, total media size and the size of the
// database file itself.
func (d *Database) GetStats() (*Stats, error) {
	var s Stats
	err := d.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM media_files`).
		Scan(&s.FileCount, &s.TotalSize)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	if fi, err := os.Stat(d.path); err == nil {
		s.FileSizeBytes = fi.Size()
	}
	return &s, nil
}

// pathEq returns the WHERE fragment comparing the path column under the
// platform case policy; pathArg prepares the bind value to match.
func (d *Database) pathEq() string {
	if d.caseInsensitive {
		return `lower(path) = ?`
	}
	return `path = ?`
}

func (d *Database) pathLike() string {
	if d.caseInsensitive {
		return `lower(path) LIKE ? ESCAPE '\'`
	}
	return `path LIKE ? ESCAPE '\'`
}

func (d *Database) pathArg(path string) string {
	if d.caseInsensitive {
		return strings.ToLower(path)
	}
	return path
}

// likePrefixArg escapes LIKE metacharacters so a prefix containing % or _
// matches literally.
func likePrefixArg(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
