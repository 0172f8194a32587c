// Package store provides the SQLite persistence layer for the mentor:
// current problem per page, snapshot history, sealed API keys and vault
// metadata. Every write bumps PRAGMA user_version in the same transaction so
// watch.Watcher sees it.
package store

import (
	"database/sql"
	"errors"

	"github.com/hazyhaar/codementor/dbopen"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the mentor database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the mentor SQLite database at path and applies
// the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
