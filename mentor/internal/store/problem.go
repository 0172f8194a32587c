package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/codementor/dbopen"
	"github.com/hazyhaar/codementor/problem"
	"github.com/hazyhaar/codementor/watch"
)

// Current is the stored current problem of a page.
type Current struct {
	problem.Snapshot
	UpdatedAt int64 `json:"lastUpdate"` // epoch milliseconds
}

// UpsertProblem makes snap the current problem of its page and appends it to
// the history.
func (s *Store) UpsertProblem(ctx context.Context, snap *problem.Snapshot) error {
	if snap == nil || snap.ID == "" || snap.PageID == "" {
		return fmt.Errorf("store: upsert problem: id and page_id required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: upsert problem: %w", err)
	}
	now := time.Now().UnixMilli()

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO current_problem
				(page_id, snapshot_id, url, title, difficulty, language, data, updated_at)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT(page_id) DO UPDATE SET
				snapshot_id = excluded.snapshot_id,
				url         = excluded.url,
				title       = excluded.title,
				difficulty  = excluded.difficulty,
				language    = excluded.language,
				data        = excluded.data,
				updated_at  = excluded.updated_at`,
			snap.PageID, snap.ID, snap.URL, snap.Title, string(snap.Difficulty), snap.Language,
			string(data), now,
		); err != nil {
			return fmt.Errorf("store: upsert current: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO snapshots (id, page_id, url, title, language, data, captured_at)
			VALUES (?,?,?,?,?,?,?)`,
			snap.ID, snap.PageID, snap.URL, snap.Title, snap.Language, string(data), snap.CapturedAt,
		); err != nil {
			return fmt.Errorf("store: append history: %w", err)
		}
		return watch.Bump(ctx, tx)
	})
}

// ClearProblem removes the current problem of pageID. It reports whether a
// row was removed. History is kept.
func (s *Store) ClearProblem(ctx context.Context, pageID string) (bool, error) {
	var removed bool
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM current_problem WHERE page_id = ?`, pageID)
		if err != nil {
			return fmt.Errorf("store: clear problem: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil
		}
		removed = true
		return watch.Bump(ctx, tx)
	})
	return removed, err
}

// CurrentProblem returns the current problem of pageID. An empty pageID
// selects the most recently updated page.
func (s *Store) CurrentProblem(ctx context.Context, pageID string) (*Current, error) {
	var row *sql.Row
	if pageID == "" {
		row = s.DB.QueryRowContext(ctx, `
			SELECT data, updated_at FROM current_problem
			ORDER BY updated_at DESC LIMIT 1`)
	} else {
		row = s.DB.QueryRowContext(ctx, `
			SELECT data, updated_at FROM current_problem WHERE page_id = ?`, pageID)
	}

	var data string
	c := &Current{}
	err := row.Scan(&data, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: current problem: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &c.Snapshot); err != nil {
		return nil, fmt.Errorf("store: decode current problem: %w", err)
	}
	return c, nil
}

// ListCurrent returns the current problem of every page, most recent first.
func (s *Store) ListCurrent(ctx context.Context) ([]*Current, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT data, updated_at FROM current_problem ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list current: %w", err)
	}
	defer rows.Close()

	var out []*Current
	for rows.Next() {
		var data string
		c := &Current{}
		if err := rows.Scan(&data, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &c.Snapshot); err != nil {
			return nil, fmt.Errorf("store: decode current problem: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// History returns up to limit snapshots of pageID, newest first. An empty
// pageID covers every page.
func (s *Store) History(ctx context.Context, pageID string, limit int) ([]*problem.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT data FROM snapshots`
	var args []any
	if pageID != "" {
		q += ` WHERE page_id = ?`
		args = append(args, pageID)
	}
	q += ` ORDER BY captured_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []*problem.Snapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		snap := &problem.Snapshot{}
		if err := json.Unmarshal([]byte(data), snap); err != nil {
			return nil, fmt.Errorf("store: decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneHistory deletes snapshots captured before the cutoff (epoch ms).
func (s *Store) PruneHistory(ctx context.Context, before int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM snapshots WHERE captured_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("store: prune history: %w", err)
	}
	return res.RowsAffected()
}
