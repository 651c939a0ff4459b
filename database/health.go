package database

import (
	"fmt"
)

// Severity grades a health issue.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// Issue is one finding of the health check with an operator-facing
// suggestion.
type Issue struct {
	Severity        Severity
	Description     string
	SuggestedAction string
}

// HealthReport is the result of HealthCheckAndRepair.
type HealthReport struct {
	Healthy              bool
	CorruptionDetected   bool
	IntegrityCheckPassed bool
	RepairAttempted      bool
	RepairSuccessful     bool
	Issues               []Issue
}

func (h *HealthReport) addIssue(sev Severity, desc, action string) {
	h.Issues = append(h.Issues, Issue{Severity: sev, Description: desc, SuggestedAction: action})
}

// HealthCheckAndRepair runs the sqlite integrity check, repairs rows that
// violate the record invariants (empty path or filename, duplicate paths,
// negative sizes), and attempts a REINDEX when corruption is detected.
// A Critical report does not close or lock the store: it stays open for
// reads and writes, and restoring a backup is left to the operator.
func (d *Database) HealthCheckAndRepair() (*HealthReport, error) {
	report := &HealthReport{Healthy: true}

	ok, err := d.integrityCheck()
	switch {
	case err != nil:
		report.Healthy = false
		report.addIssue(SeverityError,
			fmt.Sprintf("failed to run integrity check: %v", err),
			"check database file permissions and disk space")
	case !ok:
		report.Healthy = false
		report.CorruptionDetected = true
		report.addIssue(SeverityCritical,
			"database integrity check failed",
			"attempt repair or restore from backup")
	default:
		report.IntegrityCheckPassed = true
	}

	if err := d.checkRecordInvariants(report); err != nil {
		report.addIssue(SeverityWarning,
			fmt.Sprintf("record invariant check failed: %v", err),
			"review database configuration")
	}

	if report.CorruptionDetected {
		report.RepairAttempted = true
		if repaired := d.attemptRepair(); repaired {
			report.RepairSuccessful = true
			report.Healthy = true
			report.CorruptionDetected = false
			report.IntegrityCheckPassed = true
			report.addIssue(SeverityInfo,
				"database successfully repaired",
				"consider creating a backup")
		} else {
			report.addIssue(SeverityCritical,
				"database repair failed",
				"restore from backup or recreate the database")
		}
	}

	return report, nil
}

func (d *Database) integrityCheck() (bool, error) {
	var result string
	if err := d.db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return false, err
	}
	return result == "ok", nil
}

// checkRecordInvariants finds and removes rows that violate the data
// model: empty paths or filenames, duplicate paths (keeping the row with
// the largest id), negative sizes.
func (d *Database) checkRecordInvariants(report *HealthReport) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var invalid int64
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM media_files WHERE path = '' OR filename = '' OR path IS NULL OR filename IS NULL`).
		Scan(&invalid)
	if err != nil {
		return err
	}
	if invalid > 0 {
		report.addIssue(SeverityWarning,
			fmt.Sprintf("%d records with empty path or filename", invalid),
			"invalid records are removed automatically")
		if _, err := d.db.Exec(
			`DELETE FROM media_files WHERE path = '' OR filename = '' OR path IS NULL OR filename IS NULL`); err != nil {
			return err
		}
	}

	// The UNIQUE constraint should make duplicates impossible; corruption
	// can still surface them. Keep the newest row.
	var dupes int64
	err = d.db.QueryRow(
		`SELECT COUNT(*) - COUNT(DISTINCT path) FROM media_files`).Scan(&dupes)
	if err != nil {
		return err
	}
	if dupes > 0 {
		report.addIssue(SeverityWarning,
			fmt.Sprintf("%d duplicate paths", dupes),
			"duplicates are removed keeping the most recent record")
		if _, err := d.db.Exec(`
		DELETE FROM media_files WHERE id NOT IN (
			SELECT MAX(id) FROM media_files GROUP BY path
		)`); err != nil {
			return err
		}
	}

	var negative int64
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM media_files WHERE size < 0`).Scan(&negative); err != nil {
		return err
	}
	if negative > 0 {
		report.addIssue(SeverityError,
			fmt.Sprintf("%d records with negative size", negative),
			"negative sizes mark corruption; the records are removed")
		if _, err := d.db.Exec(`DELETE FROM media_files WHERE size < 0`); err != nil {
			return err
		}
	}

	return nil
}

// attemptRepair rebuilds the indexes and re-checks integrity.
func (d *Database) attemptRepair() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(`REINDEX`); err != nil {
		d.log.WithError(err).Error("reindex failed")
		return false
	}
	ok, err := d.integrityCheck()
	if err != nil {
		d.log.WithError(err).Error("post-repair integrity check failed")
		return false
	}
	return ok
}

// CleanupInvalidRecords removes rows violating the record invariants
// without running the full health check. Returns the number removed.
func (d *Database) CleanupInvalidRecords() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(
		`DELETE FROM media_files WHERE path = '' OR filename = '' OR path IS NULL OR filename IS NULL OR size < 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
