package store

import (
	"context"
	"database/sql"
	"strings"
)

func (s *Store) migrate(ctx context.Context) error {
	return s.WithTx(ctx, false, func(tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS print_sessions (
                id TEXT PRIMARY KEY,
                printer TEXT NOT NULL,
                job_id INTEGER NOT NULL DEFAULT 0,
                job_name TEXT NOT NULL DEFAULT '',
                pages INTEGER NOT NULL DEFAULT 1,
                copies INTEGER NOT NULL DEFAULT 1,
                outcome TEXT NOT NULL,
                state TEXT NOT NULL DEFAULT '',
                reason TEXT NOT NULL DEFAULT '',
                estimated_seconds INTEGER NOT NULL DEFAULT 0,
                elapsed_ms INTEGER NOT NULL DEFAULT 0,
                submitted_at DATETIME,
                finished_at DATETIME NOT NULL
            )`,
			`CREATE INDEX IF NOT EXISTS idx_print_sessions_printer ON print_sessions(printer, finished_at)`,
			`CREATE TABLE IF NOT EXISTS supply_snapshots (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                printer TEXT NOT NULL,
                source TEXT NOT NULL DEFAULT '',
                status TEXT NOT NULL,
                remaining_percent INTEGER,
                remaining_prints INTEGER,
                max_capacity INTEGER,
                details TEXT NOT NULL DEFAULT '',
                checked_at DATETIME NOT NULL
            )`,
			`CREATE INDEX IF NOT EXISTS idx_supply_snapshots_printer ON supply_snapshots(printer, checked_at)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if err := ensureColumn(ctx, tx, "print_sessions", "paper", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		if err := ensureColumn(ctx, tx, "print_sessions", "images_per_page", "INTEGER NOT NULL DEFAULT 1"); err != nil {
			return err
		}
		return nil
	})
}

func ensureColumn(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column+" "+definition)
	return err
}
