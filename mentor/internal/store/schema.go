package store

// Schema contains the DDL for the mentor tables.
const Schema = `
-- Latest snapshot per observed page. Removed when the page leaves the problem.
CREATE TABLE IF NOT EXISTS current_problem (
    page_id     TEXT PRIMARY KEY,
    snapshot_id TEXT NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    difficulty  TEXT NOT NULL DEFAULT 'Unknown',
    language    TEXT NOT NULL DEFAULT '',
    data        TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);

-- Every forwarded snapshot, pruned by retention.
CREATE TABLE IF NOT EXISTS snapshots (
    id          TEXT PRIMARY KEY,
    page_id     TEXT NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    data        TEXT NOT NULL,
    captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_page ON snapshots(page_id, captured_at DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured ON snapshots(captured_at);

-- Provider API keys, sealed by the vault.
CREATE TABLE IF NOT EXISTS api_keys (
    provider   TEXT PRIMARY KEY,
    nonce      BLOB NOT NULL,
    ciphertext BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Single row: key-derivation salt and a sealed verifier for the passphrase.
CREATE TABLE IF NOT EXISTS vault_meta (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    salt           BLOB NOT NULL,
    verifier_nonce BLOB NOT NULL,
    verifier       BLOB NOT NULL,
    created_at     INTEGER NOT NULL
);
`
