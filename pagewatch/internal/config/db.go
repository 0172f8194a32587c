package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/codementor/dbopen"
	"github.com/hazyhaar/codementor/watch"
)

// Schema for the watch_pages table. Pages stored here are observed in
// addition to those listed in the YAML file.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_pages (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	updated_at INTEGER NOT NULL
);
`

// LoadPages reads all active pages.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url FROM watch_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		if err := rows.Scan(&p.ID, &p.URL); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// PutPage inserts or reactivates a page.
func PutPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	if p.ID == "" || p.URL == "" {
		return fmt.Errorf("config: page id and url are required")
	}
	return dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO watch_pages (id, url, status, updated_at)
			VALUES (?, ?, 'active', ?)
			ON CONFLICT(id) DO UPDATE SET url = excluded.url, status = 'active', updated_at = excluded.updated_at
		`, p.ID, p.URL, time.Now().UnixMilli()); err != nil {
			return err
		}
		return watch.Bump(ctx, tx)
	})
}

// PausePage marks a page inactive. It reports whether the page existed.
func PausePage(ctx context.Context, db *sql.DB, id string) (bool, error) {
	var n int64
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE watch_pages SET status = 'paused', updated_at = ?
			WHERE id = ? AND status = 'active'
		`, time.Now().UnixMilli(), id)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		return watch.Bump(ctx, tx)
	})
	return n > 0, err
}

// WatchPages creates a watch.Watcher that fires when watch_pages (or
// anything else sharing the revision counter) changes.
func WatchPages(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return watch.New(db, watch.Options{
		Interval: 200 * time.Millisecond,
		Debounce: 500 * time.Millisecond,
		Detector: watch.PragmaUserVersion,
		Logger:   logger,
	})
}
