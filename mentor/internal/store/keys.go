package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/codementor/dbopen"
	"github.com/hazyhaar/codementor/watch"
)

// SealedKey is an encrypted provider API key as stored.
type SealedKey struct {
	Provider   string
	Nonce      []byte
	Ciphertext []byte
	UpdatedAt  int64
}

// KeyInfo describes a stored key without its material.
type KeyInfo struct {
	Provider  string `json:"provider"`
	UpdatedAt int64  `json:"updated_at"`
}

// VaultMeta is the single vault_meta row.
type VaultMeta struct {
	Salt          []byte
	VerifierNonce []byte
	Verifier      []byte
	CreatedAt     int64
}

// PutKey inserts or replaces the sealed key of a provider.
func (s *Store) PutKey(ctx context.Context, k *SealedKey) error {
	if k.UpdatedAt == 0 {
		k.UpdatedAt = time.Now().UnixMilli()
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO api_keys (provider, nonce, ciphertext, updated_at) VALUES (?,?,?,?)
			ON CONFLICT(provider) DO UPDATE SET
				nonce = excluded.nonce,
				ciphertext = excluded.ciphertext,
				updated_at = excluded.updated_at`,
			k.Provider, k.Nonce, k.Ciphertext, k.UpdatedAt,
		); err != nil {
			return fmt.Errorf("store: put key: %w", err)
		}
		return watch.Bump(ctx, tx)
	})
}

// GetKey returns the sealed key of a provider or ErrNotFound.
func (s *Store) GetKey(ctx context.Context, provider string) (*SealedKey, error) {
	k := &SealedKey{Provider: provider}
	err := s.DB.QueryRowContext(ctx, `
		SELECT nonce, ciphertext, updated_at FROM api_keys WHERE provider = ?`, provider,
	).Scan(&k.Nonce, &k.Ciphertext, &k.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get key: %w", err)
	}
	return k, nil
}

// DeleteKey removes the key of a provider. An empty provider removes every
// key. It returns the number of keys removed.
func (s *Store) DeleteKey(ctx context.Context, provider string) (int64, error) {
	var n int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if provider == "" {
			res, err = tx.ExecContext(ctx, `DELETE FROM api_keys`)
		} else {
			res, err = tx.ExecContext(ctx, `DELETE FROM api_keys WHERE provider = ?`, provider)
		}
		if err != nil {
			return fmt.Errorf("store: delete key: %w", err)
		}
		n, _ = res.RowsAffected()
		if n == 0 {
			return nil
		}
		return watch.Bump(ctx, tx)
	})
	return n, err
}

// ListKeys returns the providers that have a stored key, by name.
func (s *Store) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT provider, updated_at FROM api_keys ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("store: list keys: %w", err)
	}
	defer rows.Close()

	var out []KeyInfo
	for rows.Next() {
		var k KeyInfo
		if err := rows.Scan(&k.Provider, &k.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetVaultMeta returns the vault metadata or ErrNotFound.
func (s *Store) GetVaultMeta(ctx context.Context) (*VaultMeta, error) {
	m := &VaultMeta{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT salt, verifier_nonce, verifier, created_at FROM vault_meta WHERE id = 1`,
	).Scan(&m.Salt, &m.VerifierNonce, &m.Verifier, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get vault meta: %w", err)
	}
	return m, nil
}

// InitVaultMeta stores m unless metadata already exists, and returns the
// row that is in effect afterwards.
func (s *Store) InitVaultMeta(ctx context.Context, m *VaultMeta) (*VaultMeta, error) {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO vault_meta (id, salt, verifier_nonce, verifier, created_at)
		VALUES (1,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		m.Salt, m.VerifierNonce, m.Verifier, m.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("store: init vault meta: %w", err)
	}
	return s.GetVaultMeta(ctx)
}

// ResetVault removes the vault metadata and every sealed key.
func (s *Store) ResetVault(ctx context.Context) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys`); err != nil {
			return fmt.Errorf("store: reset vault: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vault_meta`); err != nil {
			return fmt.Errorf("store: reset vault: %w", err)
		}
		return watch.Bump(ctx, tx)
	})
}
