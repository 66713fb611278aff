// Package backup snapshots the SQLite graph database with tiered retention
// and integrity verification. Snapshots are consistent point-in-time copies;
// the append-only version history inside the database means a restored
// snapshot loses only writes made after it was taken, never past history.
package backup

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds snapshot settings.
type Config struct {
	// DBPath is the SQLite graph database file to snapshot.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Interval between automatic snapshots. Zero defaults to one hour.
	Interval time.Duration

	// Retention caps how many snapshots survive per age tier.
	Retention RetentionPolicy

	// Verify runs an integrity check on each snapshot after writing it.
	Verify bool
}

// Snapshot describes one backup file on disk.
type Snapshot struct {
	Path      string
	CreatedAt time.Time
	Size      int64
}

// timestampLayout names snapshot files sortably by creation time.
const timestampLayout = "20060102-150405"

// Take writes one consistent snapshot of the database and returns its
// metadata. VACUUM INTO is used because it produces a compact copy that is
// correct under WAL mode with concurrent readers.
func Take(cfg Config) (*Snapshot, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	now := time.Now()
	dest := filepath.Join(cfg.Dir, fmt.Sprintf("memento-%s.db", now.UTC().Format(timestampLayout)))

	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open source database: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := src.Ping(); err != nil {
		return nil, fmt.Errorf("source database unreachable: %w", err)
	}
	if _, err := src.Exec(fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}

	if cfg.Verify {
		if err := Check(dest); err != nil {
			_ = os.Remove(dest)
			return nil, fmt.Errorf("snapshot failed verification: %w", err)
		}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Path: dest, CreatedAt: now, Size: info.Size()}, nil
}

// Check opens a snapshot read-only and runs SQLite's integrity check.
func Check(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Restore copies a verified snapshot over the target database path. The
// database must not be in use; the MCP server has to be stopped first.
func Restore(snapshotPath, targetPath string) error {
	if err := Check(snapshotPath); err != nil {
		return err
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync target: %w", err)
	}
	return Check(targetPath)
}
