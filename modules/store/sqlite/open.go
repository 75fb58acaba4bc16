package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// OpenGrantStore opens a SQLite database at the given path and returns a
// grant store backed by it. The caller is responsible for closing the
// returned *sql.DB when done.
//
// The database is created with WAL mode, full synchronous flushing (every
// committed grant mutation reaches stable storage before the call returns),
// a busy timeout, and a single connection (SQLite serialises writes). The
// schema is migrated automatically.
//
// A file that cannot be opened or migrated is quarantined (renamed aside
// with a .corrupt-<timestamp> suffix) and replaced with an empty database,
// so a damaged ledger degrades to losing its grants rather than keeping the
// process down.
func OpenGrantStore(path string, busyTimeoutMS int, logger *slog.Logger) (*GrantStore, *sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := open(path, busyTimeoutMS)
	if err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		logger.Warn("sqlite: grant database unusable, quarantining",
			"path", path, "moved_to", quarantine, "error", err)
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			return nil, nil, fmt.Errorf("sqlite: quarantine %s: %w (open error: %v)", path, renameErr, err)
		}
		db, err = open(path, busyTimeoutMS)
		if err != nil {
			return nil, nil, err
		}
	}

	return &GrantStore{db: db, logger: logger}, db, nil
}

func open(path string, busyTimeoutMS int) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	// Recovery correctness depends on every acknowledged mutation surviving
	// a crash.
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set synchronous: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
