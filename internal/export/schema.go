package export

import (
	"database/sql"
	"fmt"
)

const scanMetaTableDDL = `
CREATE TABLE IF NOT EXISTS scan_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    algorithm TEXT NOT NULL,
    partial_size INTEGER NOT NULL,
    start_time INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    files_scanned INTEGER NOT NULL,
    size_candidates INTEGER NOT NULL,
    full_candidates INTEGER NOT NULL,
    duplicate_files INTEGER NOT NULL,
    reclaimable INTEGER NOT NULL,
    shared_bytes INTEGER NOT NULL,
    error_count INTEGER NOT NULL,
    strategy TEXT
);
`

const rootsTableDDL = `
CREATE TABLE IF NOT EXISTS roots (
    position INTEGER PRIMARY KEY,
    path TEXT NOT NULL
);
`

const setsTableDDL = `
CREATE TABLE IF NOT EXISTS sets (
    id INTEGER PRIMARY KEY,
    size INTEGER NOT NULL,
    digest TEXT NOT NULL,
    paths INTEGER NOT NULL,
    physical INTEGER NOT NULL,
    reclaimable INTEGER NOT NULL
);
`

// role is NULL until a plan is written; action is NULL until outcomes are.
const filesTableDDL = `
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    set_id INTEGER NOT NULL,
    sibling INTEGER NOT NULL,
    discovery INTEGER NOT NULL,
    path TEXT NOT NULL,
    mtime INTEGER NOT NULL,
    dev_id INTEGER NOT NULL,
    inode INTEGER NOT NULL,
    nlink INTEGER NOT NULL,
    role TEXT,
    action TEXT
);
`

const hardlinksTableDDL = `
CREATE TABLE IF NOT EXISTS hardlinks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id INTEGER NOT NULL,
    path TEXT NOT NULL,
    size INTEGER NOT NULL,
    dev_id INTEGER NOT NULL,
    inode INTEGER NOT NULL
);
`

const scanErrorsTableDDL = `
CREATE TABLE IF NOT EXISTS scan_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    message TEXT NOT NULL
);
`

const outcomesTableDDL = `
CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    decision INTEGER NOT NULL,
    path TEXT NOT NULL,
    keeper TEXT NOT NULL,
    action TEXT NOT NULL,
    message TEXT,
    dry_run INTEGER NOT NULL
);
`

const filesPathIndexDDL = `CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);`
const filesSetIndexDDL = `CREATE INDEX IF NOT EXISTS idx_files_set ON files(set_id);`
const setsReclaimIndexDDL = `CREATE INDEX IF NOT EXISTS idx_sets_reclaimable ON sets(reclaimable DESC);`

// InitSchema creates all tables and indexes in the database.
func InitSchema(db *sql.DB) error {
	ddls := []string{
		scanMetaTableDDL,
		rootsTableDDL,
		setsTableDDL,
		filesTableDDL,
		hardlinksTableDDL,
		scanErrorsTableDDL,
		outcomesTableDDL,
		filesPathIndexDDL,
		filesSetIndexDDL,
		setsReclaimIndexDDL,
	}

	for _, ddl := range ddls {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}

// applyWritePragmas tunes SQLite for a single bulk load.
func applyWritePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	return nil
}
