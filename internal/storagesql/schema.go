// Package storagesql is the SQLite-backed repository: one table per
// entity plus the snapshots ledger, profiles, and approval_requests
// tables, hydration into a store.Store, and the read-only EngineQuery
// dispatcher (spec.md §4.10). Grounded on the teacher's
// internal/storage/sqlite error-wrapping idiom
// (adapted into errors.go) and on
// KittClouds-Go-Machine-n/GoKitt's ncruces/go-sqlite3 driver usage for
// opening the database/sql handle.
package storagesql

import (
	"database/sql"

	_ "github.com/ncruces/go-sqlite3/driver"
)

const schema = `
CREATE TABLE IF NOT EXISTS ettles (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	parent_id TEXT,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	deleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ettles_parent ON ettles(parent_id);

CREATE TABLE IF NOT EXISTS eps (
	id TEXT PRIMARY KEY,
	ettle_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	normative INTEGER NOT NULL,
	why TEXT NOT NULL,
	what TEXT NOT NULL,
	how TEXT NOT NULL,
	child_ettle_id TEXT,
	deleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_eps_ettle ON eps(ettle_id);
CREATE INDEX IF NOT EXISTS idx_eps_child ON eps(child_ettle_id);

CREATE TABLE IF NOT EXISTS constraints (
	constraint_id TEXT PRIMARY KEY,
	family TEXT NOT NULL,
	kind TEXT NOT NULL,
	scope TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	payload_digest TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_constraints_family ON constraints(family);

CREATE TABLE IF NOT EXISTS ep_constraint_refs (
	ep_id TEXT NOT NULL,
	constraint_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (ep_id, constraint_id)
);
CREATE INDEX IF NOT EXISTS idx_ep_constraint_refs_constraint ON ep_constraint_refs(constraint_id);

CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	decision_text TEXT NOT NULL,
	rationale TEXT NOT NULL,
	alternatives_text TEXT,
	consequences_text TEXT,
	evidence_kind TEXT NOT NULL,
	evidence_excerpt TEXT,
	evidence_file_path TEXT,
	evidence_capture_id TEXT,
	evidence_hash TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	tombstoned_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_evidence_capture ON decisions(evidence_capture_id);

CREATE TABLE IF NOT EXISTS decision_evidence_items (
	evidence_capture_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_links (
	decision_id TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation_kind TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	tombstoned_at TEXT,
	PRIMARY KEY (decision_id, target_kind, target_id, relation_kind)
);
CREATE INDEX IF NOT EXISTS idx_decision_links_target ON decision_links(target_kind, target_id);

CREATE TABLE IF NOT EXISTS profiles (
	profile_ref TEXT PRIMARY KEY,
	payload_json TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	profile_digest TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_requests (
	approval_token TEXT PRIMARY KEY,
	reason_code TEXT NOT NULL,
	candidate_set_json TEXT NOT NULL,
	semantic_request_digest TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	request_digest TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id TEXT PRIMARY KEY,
	root_ettle_id TEXT NOT NULL,
	manifest_digest TEXT NOT NULL,
	semantic_manifest_digest TEXT NOT NULL,
	parent_snapshot_id TEXT,
	policy_ref TEXT NOT NULL,
	profile_ref TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_root ON snapshots(root_ettle_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_semantic_digest ON snapshots(semantic_manifest_digest);
`

// Repo is the SQLite-backed repository over an open *sql.DB.
type Repo struct {
	db *sql.DB
}

// Open creates (or attaches to) a SQLite database at dsn and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
//
// The connection pool is pinned to a single connection, matching
// internal/storage/ephemeral/store.go's SetMaxOpenConns(1): SQLite
// doesn't support concurrent writers, a bare ":memory:" DSN gives each
// pooled connection its own private database (losing data across
// connections), and database/sql checks out the one connection
// exclusively for the lifetime of a transaction — which is what makes
// Ledger.CommitSnapshot's BeginTx/Commit an actual serialization point
// against any other query, not just against other transactions.
func Open(dsn string) (*Repo, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, wrapDBError("open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, wrapDBError("create_schema", err)
	}
	return &Repo{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repo) Close() error {
	return wrapDBError("close", r.db.Close())
}
