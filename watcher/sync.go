package watcher

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/config"
	"github.com/vyrti/vuio/database"
	"github.com/vyrti/vuio/media"
	"github.com/vyrti/vuio/platform"
)

// InitialSync reconciles the store with disk at startup. With
// scan_on_startup it runs a full scan of every configured root and then a
// cleanup of rows the scan did not see; without it, and when
// cleanup_deleted_files is on, it stats each indexed path and drops the
// ones that are gone. Either way the store reflects disk when it returns.
// The returned count is the number of rows inserted, updated or removed.
func InitialSync(ctx context.Context, db *database.Database, cfg *config.AppConfig) (int, error) {
	log := logrus.WithField("component", "integrator")

	if !cfg.Media.ScanOnStartup {
		if !cfg.Media.CleanupDeletedFiles {
			return 0, nil
		}
		return statCleanup(db, log)
	}

	changed := 0
	known := make([]string, 0, 1024)
	var incompleteRoots []string
	for _, dir := range cfg.Media.Directories {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		result, err := media.ScanDirectory(ctx, db, dir.Path, media.ScanOptions{
			Recursive:       dir.Recursive,
			Extensions:      cfg.ExtensionsFor(dir.Path),
			ExcludePatterns: dir.ExcludePatterns,
		})
		if err != nil {
			// An unreachable root is fatal for that directory only.
			log.WithError(err).WithField("dir", dir.Path).Error("cannot scan media directory")
			incompleteRoots = append(incompleteRoots, dir.Path)
			continue
		}
		changed += result.New + result.Updated
		known = append(known, result.KnownPaths...)
		if !result.Complete() {
			incompleteRoots = append(incompleteRoots, dir.Path)
		}
	}

	// The cleanup set is the scanned paths plus every row the scan could
	// not have visited: rows outside the configured roots and rows under
	// a root whose enumeration was incomplete. Those must never count as
	// missing.
	all, err := db.GetAll()
	if err != nil {
		return changed, err
	}
	roots := cfg.MonitoredPaths()
	for _, f := range all {
		if !underAnyRoot(f.Path, roots) || underAnyRoot(f.Path, incompleteRoots) {
			known = append(known, f.Path)
		}
	}
	removed, err := db.CleanupMissing(known)
	if err != nil {
		return changed, err
	}
	return changed + int(removed), nil
}

func statCleanup(db *database.Database, log *logrus.Entry) (int, error) {
	all, err := db.GetAll()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range all {
		if _, err := os.Stat(f.Path); os.IsNotExist(err) {
			if ok, err := db.Remove(f.Path); err == nil && ok {
				removed++
			}
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("removed deleted files from index")
	}
	return removed, nil
}

func underAnyRoot(path string, roots []string) bool {
	folded := platform.CaseFoldForPrefix(path)
	for _, root := range roots {
		r := strings.TrimRight(platform.CaseFoldForPrefix(root), `/\`)
		if folded == r || strings.HasPrefix(folded, r+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
