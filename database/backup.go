package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backup writes an atomic snapshot of the store to dest using VACUUM INTO
// and verifies the copy before reporting success. A destination that fails
// verification is deleted so a later restore can never pick up a bad file.
func (d *Database) Backup(dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	// VACUUM INTO refuses to overwrite.
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale backup: %w", err)
	}

	d.mu.Lock()
	_, err := d.db.Exec(`VACUUM INTO ` + quoteSQLString(dest))
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("vacuum into backup: %w", err)
	}

	if err := verifySnapshot(dest); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("backup verification failed: %w", err)
	}
	d.log.WithField("dest", dest).Info("database backup created")
	return nil
}

func verifySnapshot(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()
	var result string
	if err := db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported %q", result)
	}
	return nil
}

// RestoreFromBackup replaces the live database with the snapshot at src.
// Service must be halted around this call: the pool is closed, the file
// swapped, and the store re-opened and re-initialized in place.
func (d *Database) RestoreFromBackup(src string) error {
	if err := verifySnapshot(src); err != nil {
		return fmt.Errorf("refusing restore, snapshot invalid: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close live database: %w", err)
	}
	// WAL sidecars of the old file must not survive the swap.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(d.path + suffix)
	}
	if err := copyFile(src, d.path); err != nil {
		return fmt.Errorf("replace database file: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(d.path))
	if err != nil {
		return fmt.Errorf("reopen database: %w", err)
	}
	d.db = db
	if err := d.initializeLocked(); err != nil {
		return fmt.Errorf("reinitialize restored database: %w", err)
	}
	d.log.WithField("src", src).Info("database restored from backup")
	return nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dest + ".restore"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// Vacuum compacts the database file.
func (d *Database) Vacuum() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// quoteSQLString quotes a filesystem path for inline use; VACUUM INTO does
// not accept bind parameters on older sqlite versions.
func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
