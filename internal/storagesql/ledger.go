package storagesql

import (
	"context"
	"database/sql"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
)

// Ledger adapts *Repo to the commit.Ledger capability the commit pipeline's
// tail stages need.
type Ledger struct {
	repo *Repo
}

// NewLedger wraps r as a commit.Ledger.
func NewLedger(r *Repo) *Ledger { return &Ledger{repo: r} }

// CurrentHead returns the manifest digest of the most recently committed
// snapshot for rootEttleID, or nil if none has been committed yet.
func (l *Ledger) CurrentHead(rootEttleID string) (*string, error) {
	var digest string
	err := l.repo.db.QueryRow(`
		SELECT manifest_digest FROM snapshots
		WHERE root_ettle_id = ?
		ORDER BY created_at DESC, snapshot_id DESC
		LIMIT 1
	`, rootEttleID).Scan(&digest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("current_head", err)
	}
	return &digest, nil
}

// BySemanticDigest looks up a previously committed snapshot by its
// semantic manifest digest, for the commit pipeline's idempotency check.
func (l *Ledger) BySemanticDigest(digest string) (*model.SnapshotRow, error) {
	var row model.SnapshotRow
	err := l.repo.db.QueryRow(`
		SELECT snapshot_id, root_ettle_id, manifest_digest, semantic_manifest_digest,
			parent_snapshot_id, policy_ref, profile_ref, status, created_at
		FROM snapshots WHERE semantic_manifest_digest = ?
	`, digest).Scan(&row.SnapshotID, &row.RootEttleID, &row.ManifestDigest, &row.SemanticManifestDigest,
		&row.ParentSnapshotID, &row.PolicyRef, &row.ProfileRef, &row.Status, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("by_semantic_digest", err)
	}
	return &row, nil
}

// Insert records a newly committed snapshot row.
func (l *Ledger) Insert(row model.SnapshotRow) error {
	_, err := l.repo.db.Exec(`
		INSERT INTO snapshots (snapshot_id, root_ettle_id, manifest_digest, semantic_manifest_digest,
			parent_snapshot_id, policy_ref, profile_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.SnapshotID, row.RootEttleID, row.ManifestDigest, row.SemanticManifestDigest,
		row.ParentSnapshotID, row.PolicyRef, row.ProfileRef, row.Status, row.CreatedAt)
	return wrapDBError("insert_snapshot", err)
}

// CommitSnapshot performs the commit pipeline's head check, idempotency
// check, and insert inside a single transaction (spec.md §4.8's "begin a
// transaction ... commit the transaction"). Repo.Open pins the pool to
// one connection, so BeginTx holds that connection exclusively until
// Commit/Rollback and any other goroutine's query blocks behind it —
// that, not the (deferred-by-default) SQLite isolation level, is what
// makes two concurrent commits against the same rootEttleID unable to
// both observe a stale head and fork the ledger. It re-verifies
// expectedHead against the head as seen inside the transaction, fills in
// row.ParentSnapshotID from that same read, and returns the existing row
// instead of inserting if semanticDigest was already committed by a
// writer that won the race.
func (l *Ledger) CommitSnapshot(ctx context.Context, rootEttleID string, expectedHead *string, semanticDigest string, row model.SnapshotRow) (existing *model.SnapshotRow, err error) {
	tx, err := l.repo.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("commit_snapshot.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentHead *string
	var headDigest string
	switch herr := tx.QueryRowContext(ctx, `
		SELECT manifest_digest FROM snapshots
		WHERE root_ettle_id = ?
		ORDER BY created_at DESC, snapshot_id DESC
		LIMIT 1
	`, rootEttleID).Scan(&headDigest); {
	case herr == sql.ErrNoRows:
		currentHead = nil
	case herr != nil:
		return nil, wrapDBError("commit_snapshot.head_check", herr)
	default:
		currentHead = &headDigest
	}
	if expectedHead != nil {
		if currentHead == nil || *currentHead != *expectedHead {
			return nil, exerr.New(exerr.KindHeadMismatch, "commit.head_check").WithEttle(rootEttleID)
		}
	}

	var existingRow model.SnapshotRow
	switch derr := tx.QueryRowContext(ctx, `
		SELECT snapshot_id, root_ettle_id, manifest_digest, semantic_manifest_digest,
			parent_snapshot_id, policy_ref, profile_ref, status, created_at
		FROM snapshots WHERE semantic_manifest_digest = ?
	`, semanticDigest).Scan(&existingRow.SnapshotID, &existingRow.RootEttleID, &existingRow.ManifestDigest,
		&existingRow.SemanticManifestDigest, &existingRow.ParentSnapshotID, &existingRow.PolicyRef,
		&existingRow.ProfileRef, &existingRow.Status, &existingRow.CreatedAt); {
	case derr == nil:
		return &existingRow, nil
	case derr != sql.ErrNoRows:
		return nil, wrapDBError("commit_snapshot.idempotency_check", derr)
	}

	row.ParentSnapshotID = currentHead
	if _, ierr := tx.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, root_ettle_id, manifest_digest, semantic_manifest_digest,
			parent_snapshot_id, policy_ref, profile_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.SnapshotID, row.RootEttleID, row.ManifestDigest, row.SemanticManifestDigest,
		row.ParentSnapshotID, row.PolicyRef, row.ProfileRef, row.Status, row.CreatedAt); ierr != nil {
		return nil, wrapDBError("commit_snapshot.insert", ierr)
	}
	if cerr := tx.Commit(); cerr != nil {
		return nil, wrapDBError("commit_snapshot.commit", cerr)
	}
	return nil, nil
}
