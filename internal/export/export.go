// Package export writes scan reports, retention plans and deletion outcomes
// to a SQLite database for later querying.
//
// Each export is a fresh snapshot: Create replaces any existing file.
package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/dupereap/dupereap/internal/finder"
	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/reaper"
)

var log = logging.L("export")

const insertMetaSQL = `INSERT OR REPLACE INTO scan_meta (id, algorithm, partial_size, start_time, elapsed_ms, files_scanned, size_candidates, full_candidates, duplicate_files, reclaimable, shared_bytes, error_count) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
const insertRootSQL = `INSERT INTO roots (position, path) VALUES (?, ?)`
const insertSetSQL = `INSERT INTO sets (id, size, digest, paths, physical, reclaimable) VALUES (?, ?, ?, ?, ?, ?)`
const insertFileSQL = `INSERT INTO files (set_id, sibling, discovery, path, mtime, dev_id, inode, nlink) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
const insertHardlinkSQL = `INSERT INTO hardlinks (group_id, path, size, dev_id, inode) VALUES (?, ?, ?, ?, ?)`
const insertErrorSQL = `INSERT INTO scan_errors (kind, path, message) VALUES (?, ?, ?)`
const updateRoleSQL = `UPDATE files SET role = ? WHERE path = ?`
const updateStrategySQL = `UPDATE scan_meta SET strategy = ? WHERE id = 1`
const insertOutcomeSQL = `INSERT INTO outcomes (decision, path, keeper, action, message, dry_run) VALUES (?, ?, ?, ?, ?, ?)`
const updateActionSQL = `UPDATE files SET action = ? WHERE path = ?`

// File roles written by WritePlan.
const (
	RoleKeep   = "keep"
	RoleLinked = "linked"
	RoleDelete = "delete"
)

// Exporter owns an open export database.
type Exporter struct {
	db   *sql.DB
	path string
}

// Create starts a new export at path, replacing any existing file.
func Create(path string) (*Exporter, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to replace %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyWritePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Exporter{db: db, path: path}, nil
}

// DB exposes the underlying handle for queries.
func (e *Exporter) DB() *sql.DB { return e.db }

// Close optimizes and closes the database.
func (e *Exporter) Close() error {
	if _, err := e.db.Exec("PRAGMA optimize"); err != nil {
		log.Debug("optimize failed", logging.KeyPath, e.path, logging.KeyError, err)
	}
	return e.db.Close()
}

// WriteReport stores the scan summary, every duplicate set with its
// members, hardlink groups, and per-path errors. Set ids are the 1-based
// numbers shown in reports.
func (e *Exporter) WriteReport(ctx context.Context, r *finder.Report) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertMetaSQL,
			r.Algorithm, r.Partial, r.Started.Unix(), r.Elapsed.Milliseconds(),
			r.FilesScanned, r.SizeCandidates, r.FullCandidates, r.DuplicateFiles,
			r.Reclaimable, r.SharedBytes, len(r.Errors)); err != nil {
			return fmt.Errorf("failed to insert scan meta: %w", err)
		}

		for i, root := range r.Roots {
			if _, err := tx.ExecContext(ctx, insertRootSQL, i, root); err != nil {
				return fmt.Errorf("failed to insert root: %w", err)
			}
		}

		setStmt, err := tx.PrepareContext(ctx, insertSetSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare set statement: %w", err)
		}
		defer setStmt.Close()
		fileStmt, err := tx.PrepareContext(ctx, insertFileSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare file statement: %w", err)
		}
		defer fileStmt.Close()

		for i, set := range r.Sets.Items() {
			id := i + 1
			if _, err := setStmt.ExecContext(ctx, id, set.Size, set.Digest,
				set.Len(), set.Physical(), set.Reclaimable()); err != nil {
				return fmt.Errorf("failed to insert set %d: %w", id, err)
			}
			for sibling, sg := range set.Siblings.Items() {
				for _, f := range sg.Items() {
					if _, err := fileStmt.ExecContext(ctx, id, sibling, f.Index, f.Path,
						f.ModTime.UnixNano(), int64(f.Identity.Dev), int64(f.Identity.Ino), int64(f.Nlink)); err != nil {
						return fmt.Errorf("failed to insert file %s: %w", f.Path, err)
					}
				}
			}
		}

		for g, sg := range r.Hardlinks {
			for _, f := range sg.Items() {
				if _, err := tx.ExecContext(ctx, insertHardlinkSQL, g+1, f.Path, f.Size,
					int64(f.Identity.Dev), int64(f.Identity.Ino)); err != nil {
					return fmt.Errorf("failed to insert hardlink %s: %w", f.Path, err)
				}
			}
		}

		for _, pe := range r.Errors {
			if _, err := tx.ExecContext(ctx, insertErrorSQL, pe.Kind.String(), pe.Path, pe.Reason()); err != nil {
				return fmt.Errorf("failed to insert error: %w", err)
			}
		}
		return nil
	})
}

// WritePlan records the strategy and tags each planned path with its role.
func (e *Exporter) WritePlan(ctx context.Context, strategy planner.Strategy, decisions []planner.Decision) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, updateStrategySQL, strategy.String()); err != nil {
			return fmt.Errorf("failed to record strategy: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, updateRoleSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare role statement: %w", err)
		}
		defer stmt.Close()

		for _, d := range decisions {
			if _, err := stmt.ExecContext(ctx, RoleKeep, d.Keep.Path); err != nil {
				return err
			}
			for _, f := range d.Linked {
				if _, err := stmt.ExecContext(ctx, RoleLinked, f.Path); err != nil {
					return err
				}
			}
			for _, f := range d.Delete {
				if _, err := stmt.ExecContext(ctx, RoleDelete, f.Path); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// WriteOutcomes records what the reaper did with each planned path.
func (e *Exporter) WriteOutcomes(ctx context.Context, res reaper.Result) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		for _, o := range res.Outcomes {
			var message sql.NullString
			if o.Err != nil {
				message = sql.NullString{String: o.Err.Error(), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, insertOutcomeSQL, o.Set, o.Path, o.Keeper,
				o.Action.String(), message, res.DryRun); err != nil {
				return fmt.Errorf("failed to insert outcome: %w", err)
			}
			if _, err := tx.ExecContext(ctx, updateActionSQL, o.Action.String(), o.Path); err != nil {
				return fmt.Errorf("failed to update file action: %w", err)
			}
		}
		return nil
	})
}

func (e *Exporter) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
