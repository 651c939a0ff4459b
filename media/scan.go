package media

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/database"
)

// ScanOptions controls one directory scan.
type ScanOptions struct {
	Recursive       bool
	Extensions      []string // empty means the canonical table
	ExcludePatterns []string // glob patterns matched against the base name
}

// ScanError records a single path that could not be processed. Scan errors
// never abort the walk.
type ScanError struct {
	Path string
	Err  error
}

// ScanResult summarizes a scan. KnownPaths holds every media path seen on
// disk, whether or not it changed; the startup cleanup feeds it to
// CleanupMissing. When the walk did not cover everything the caller must
// not treat unvisited paths as missing.
type ScanResult struct {
	Scanned    int
	New        int
	Updated    int
	Unchanged  int
	Errors     []ScanError
	KnownPaths []string
}

// Complete reports whether the enumeration covered every subdirectory.
func (r *ScanResult) Complete() bool { return len(r.Errors) == 0 }

// NewMediaFile builds an index record for path from a fresh stat, the MIME
// table and the filename tag heuristic.
func NewMediaFile(path string) (*database.MediaFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	tags := ParseTags(path)
	return &database.MediaFile{
		Path:         path,
		Filename:     filepath.Base(path),
		Size:         fi.Size(),
		ModifiedTime: fi.ModTime().Truncate(0),
		MimeType:     MimeTypeFor(path),
		Title:        tags.Title,
		Artist:       tags.Artist,
		Album:        tags.Album,
	}, nil
}

// ScanDirectory walks dir and reconciles every supported media file with
// the store: absent paths are inserted, paths whose size or mtime changed
// are updated, the rest are skipped. The scan never deletes records; that
// is the cleanup pass's job, and only when the enumeration was complete.
func ScanDirectory(ctx context.Context, db *database.Database, dir string, opts ScanOptions) (*ScanResult, error) {
	log := logrus.WithFields(logrus.Fields{"component": "scanner", "dir": dir})
	result := &ScanResult{}

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !IsSupportedExtension(path, opts.Extensions) || excluded(path, opts.ExcludePatterns) {
			return nil
		}
		if err := scanOne(db, path, d, result); err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
		}
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, err
	}

	log.WithFields(logrus.Fields{
		"scanned": result.Scanned, "new": result.New,
		"updated": result.Updated, "unchanged": result.Unchanged,
		"errors": len(result.Errors),
	}).Info("scan finished")
	return result, nil
}

func scanOne(db *database.Database, path string, d fs.DirEntry, result *ScanResult) error {
	fi, err := d.Info()
	if err != nil {
		return err
	}
	result.Scanned++
	result.KnownPaths = append(result.KnownPaths, path)

	existing, err := db.GetByPath(path)
	if err != nil {
		return err
	}
	if existing == nil {
		f, err := NewMediaFile(path)
		if err != nil {
			return err
		}
		if _, err := db.Store(f); err != nil {
			return err
		}
		result.New++
		return nil
	}
	if existing.Size == fi.Size() && existing.ModifiedTime.Unix() == fi.ModTime().Unix() {
		result.Unchanged++
		return nil
	}
	updated := *existing
	updated.Size = fi.Size()
	updated.ModifiedTime = fi.ModTime()
	updated.MimeType = MimeTypeFor(path)
	tags := ParseTags(path)
	updated.Title = tags.Title
	updated.Artist = tags.Artist
	updated.Album = tags.Album
	if _, err := db.Update(&updated); err != nil {
		return err
	}
	result.Updated++
	return nil
}

func excluded(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pat := range patterns {
		if ok, err := filepath.Match(pat, base); err == nil && ok {
			return true
		}
	}
	return false
}
