// Package storagesql's query.go implements the read-only EngineQuery
// closed union (spec.md §4.10), grounded on
// original_source/ettlex-engine/src/commands/engine_query.rs's match arms.
// Every query is served straight from SQL rather than via Hydrate, so a
// read against a large store does not pay the cost of loading everything
// into memory.
package storagesql

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/manifest"
	"github.com/nickout/ettlex/internal/model"
)

const defaultPageLimit = 100

// Page is a cursor-paginated result slice. Cursor is the opaque
// base64-encoded last-sort-key to pass as ListOptions.After for the next
// page; it is empty when HasMore is false.
type Page[T any] struct {
	Items   []T
	Cursor  string
	HasMore bool
}

// ListOptions controls cursor pagination for list queries. Limit
// defaults to defaultPageLimit when zero or negative; After is the
// opaque cursor returned as the previous page's Cursor.
type ListOptions struct {
	Limit int
	After string
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return defaultPageLimit
	}
	return o.Limit
}

func (o ListOptions) afterKey() (string, error) {
	if o.After == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(o.After)
	if err != nil {
		return "", exerr.New(exerr.KindMissingField, "storagesql.cursor").WithMessage("invalid cursor")
	}
	return string(raw), nil
}

func encodeCursor(key string) string {
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// paginate over-fetches limit+1 sort keys and splits off the page,
// producing the next cursor from the last returned key.
func paginate[T any](rows []T, keyOf func(T) string, limit int) Page[T] {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	var cursor string
	if hasMore && len(rows) > 0 {
		cursor = encodeCursor(keyOf(rows[len(rows)-1]))
	}
	return Page[T]{Items: rows, Cursor: cursor, HasMore: hasMore}
}

// StateVersion reports the schema version and the digest of the current
// head snapshot, if any, for change-detection polling.
type StateVersion struct {
	StoreSchemaVersion int
	HeadManifestDigest *string
}

// GetStateVersion returns the store schema version and, when rootEttleID
// has a committed snapshot, its current head manifest digest.
func (r *Repo) GetStateVersion(rootEttleID string) (StateVersion, error) {
	l := NewLedger(r)
	head, err := l.CurrentHead(rootEttleID)
	if err != nil {
		return StateVersion{}, err
	}
	return StateVersion{StoreSchemaVersion: 1, HeadManifestDigest: head}, nil
}

// GetEttle looks up a single Ettle by ID, tombstoned or not.
func (r *Repo) GetEttle(id string) (*model.Ettle, error) {
	var e model.Ettle
	var metaJSON string
	var deleted int
	err := r.db.QueryRow(`SELECT id, title, parent_id, metadata_json, deleted, created_at, updated_at FROM ettles WHERE id = ?`, id).
		Scan(&e.ID, &e.Title, &e.ParentID, &metaJSON, &deleted, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindEttleNotFound, "storagesql.get_ettle").WithEttle(id)
	}
	if err != nil {
		return nil, wrapDBError("get_ettle", err)
	}
	e.Deleted = deleted != 0
	if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
		return nil, exerr.Wrap("storagesql.get_ettle_metadata", err)
	}
	return &e, nil
}

// ListEttles pages through Ettles ordered by ID.
func (r *Repo) ListEttles(opts ListOptions) (Page[*model.Ettle], error) {
	after, err := opts.afterKey()
	if err != nil {
		return Page[*model.Ettle]{}, err
	}
	rows, err := r.db.Query(`
		SELECT id, title, parent_id, metadata_json, deleted, created_at, updated_at
		FROM ettles WHERE id > ? ORDER BY id LIMIT ?
	`, after, opts.limit()+1)
	if err != nil {
		return Page[*model.Ettle]{}, wrapDBError("list_ettles", err)
	}
	defer rows.Close()
	var out []*model.Ettle
	for rows.Next() {
		var e model.Ettle
		var metaJSON string
		var deleted int
		if err := rows.Scan(&e.ID, &e.Title, &e.ParentID, &metaJSON, &deleted, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return Page[*model.Ettle]{}, wrapDBError("list_ettles_scan", err)
		}
		e.Deleted = deleted != 0
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return Page[*model.Ettle]{}, wrapDBError("list_ettles_rows", err)
	}
	return paginate(out, func(e *model.Ettle) string { return e.ID }, opts.limit()), nil
}

// ListEttleEPs returns every EP (active and tombstoned) owned by
// ettleID, ordered by ordinal.
func (r *Repo) ListEttleEPs(ettleID string) ([]*model.EP, error) {
	rows, err := r.db.Query(`
		SELECT id, ettle_id, ordinal, normative, why, what, how, child_ettle_id, deleted, created_at, updated_at
		FROM eps WHERE ettle_id = ? ORDER BY ordinal
	`, ettleID)
	if err != nil {
		return nil, wrapDBError("list_ettle_eps", err)
	}
	defer rows.Close()
	var out []*model.EP
	for rows.Next() {
		var e model.EP
		var normative, deleted int
		if err := rows.Scan(&e.ID, &e.EttleID, &e.Ordinal, &normative, &e.Why, &e.What, &e.How,
			&e.ChildEttleID, &deleted, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, wrapDBError("list_ettle_eps_scan", err)
		}
		e.Normative = normative != 0
		e.Deleted = deleted != 0
		out = append(out, &e)
	}
	return out, wrapDBError("list_ettle_eps_rows", rows.Err())
}

// GetEP looks up a single EP by ID, tombstoned or not.
func (r *Repo) GetEP(id string) (*model.EP, error) {
	var e model.EP
	var normative, deleted int
	err := r.db.QueryRow(`
		SELECT id, ettle_id, ordinal, normative, why, what, how, child_ettle_id, deleted, created_at, updated_at
		FROM eps WHERE id = ?
	`, id).Scan(&e.ID, &e.EttleID, &e.Ordinal, &normative, &e.Why, &e.What, &e.How,
		&e.ChildEttleID, &deleted, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindEpNotFound, "storagesql.get_ep").WithEP(id)
	}
	if err != nil {
		return nil, wrapDBError("get_ep", err)
	}
	e.Normative = normative != 0
	e.Deleted = deleted != 0
	return &e, nil
}

// ListEPChildren returns the EPs whose child_ettle_id equals ettleID (at
// most one under R4, but the query itself does not assume that).
func (r *Repo) ListEPChildren(ettleID string) ([]*model.EP, error) {
	rows, err := r.db.Query(`
		SELECT id, ettle_id, ordinal, normative, why, what, how, child_ettle_id, deleted, created_at, updated_at
		FROM eps WHERE child_ettle_id = ? ORDER BY id
	`, ettleID)
	if err != nil {
		return nil, wrapDBError("list_ep_children", err)
	}
	defer rows.Close()
	var out []*model.EP
	for rows.Next() {
		var e model.EP
		var normative, deleted int
		if err := rows.Scan(&e.ID, &e.EttleID, &e.Ordinal, &normative, &e.Why, &e.What, &e.How,
			&e.ChildEttleID, &deleted, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, wrapDBError("list_ep_children_scan", err)
		}
		e.Normative = normative != 0
		e.Deleted = deleted != 0
		out = append(out, &e)
	}
	return out, wrapDBError("list_ep_children_rows", rows.Err())
}

// ListEPConstraints returns the Constraints attached to epID, ordered by
// attachment ordinal.
func (r *Repo) ListEPConstraints(epID string) ([]*model.Constraint, error) {
	rows, err := r.db.Query(`
		SELECT c.constraint_id, c.family, c.kind, c.scope, c.payload_json, c.payload_digest,
			c.created_at, c.updated_at, c.deleted_at
		FROM ep_constraint_refs ref
		JOIN constraints c ON c.constraint_id = ref.constraint_id
		WHERE ref.ep_id = ? ORDER BY ref.ordinal
	`, epID)
	if err != nil {
		return nil, wrapDBError("list_ep_constraints", err)
	}
	defer rows.Close()
	var out []*model.Constraint
	for rows.Next() {
		var c model.Constraint
		var payloadJSON string
		if err := rows.Scan(&c.ConstraintID, &c.Family, &c.Kind, &c.Scope, &payloadJSON,
			&c.PayloadDigest, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return nil, wrapDBError("list_ep_constraints_scan", err)
		}
		c.PayloadJSON = []byte(payloadJSON)
		out = append(out, &c)
	}
	return out, wrapDBError("list_ep_constraints_rows", rows.Err())
}

// GetConstraint looks up a single Constraint by ID.
func (r *Repo) GetConstraint(id string) (*model.Constraint, error) {
	var c model.Constraint
	var payloadJSON string
	err := r.db.QueryRow(`
		SELECT constraint_id, family, kind, scope, payload_json, payload_digest, created_at, updated_at, deleted_at
		FROM constraints WHERE constraint_id = ?
	`, id).Scan(&c.ConstraintID, &c.Family, &c.Kind, &c.Scope, &payloadJSON, &c.PayloadDigest, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindConstraintNotFound, "storagesql.get_constraint").WithMessage(id)
	}
	if err != nil {
		return nil, wrapDBError("get_constraint", err)
	}
	c.PayloadJSON = []byte(payloadJSON)
	return &c, nil
}

// ListConstraintsByFamily pages through Constraints of a given family.
func (r *Repo) ListConstraintsByFamily(family string, opts ListOptions) (Page[*model.Constraint], error) {
	after, err := opts.afterKey()
	if err != nil {
		return Page[*model.Constraint]{}, err
	}
	rows, err := r.db.Query(`
		SELECT constraint_id, family, kind, scope, payload_json, payload_digest, created_at, updated_at, deleted_at
		FROM constraints WHERE family = ? AND constraint_id > ? ORDER BY constraint_id LIMIT ?
	`, family, after, opts.limit()+1)
	if err != nil {
		return Page[*model.Constraint]{}, wrapDBError("list_constraints_by_family", err)
	}
	defer rows.Close()
	var out []*model.Constraint
	for rows.Next() {
		var c model.Constraint
		var payloadJSON string
		if err := rows.Scan(&c.ConstraintID, &c.Family, &c.Kind, &c.Scope, &payloadJSON, &c.PayloadDigest, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return Page[*model.Constraint]{}, wrapDBError("list_constraints_by_family_scan", err)
		}
		c.PayloadJSON = []byte(payloadJSON)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return Page[*model.Constraint]{}, wrapDBError("list_constraints_by_family_rows", err)
	}
	return paginate(out, func(c *model.Constraint) string { return c.ConstraintID }, opts.limit()), nil
}

// GetDecision looks up a single Decision by ID.
func (r *Repo) GetDecision(id string) (*model.Decision, error) {
	var d model.Decision
	var evidenceKind string
	err := r.db.QueryRow(`
		SELECT decision_id, title, status, decision_text, rationale, alternatives_text, consequences_text,
			evidence_kind, evidence_excerpt, evidence_file_path, evidence_capture_id, evidence_hash,
			created_at, updated_at, tombstoned_at
		FROM decisions WHERE decision_id = ?
	`, id).Scan(&d.DecisionID, &d.Title, &d.Status, &d.DecisionText, &d.Rationale, &d.AlternativesText, &d.ConsequencesText,
		&evidenceKind, &d.EvidenceExcerpt, &d.EvidenceFilePath, &d.EvidenceCaptureID, &d.EvidenceHash,
		&d.CreatedAt, &d.UpdatedAt, &d.TombstonedAt)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindDecisionNotFound, "storagesql.get_decision").WithMessage(id)
	}
	if err != nil {
		return nil, wrapDBError("get_decision", err)
	}
	d.EvidenceKind = model.EvidenceKind(evidenceKind)
	return &d, nil
}

// ListDecisions pages through every Decision ordered by ID.
func (r *Repo) ListDecisions(opts ListOptions) (Page[*model.Decision], error) {
	after, err := opts.afterKey()
	if err != nil {
		return Page[*model.Decision]{}, err
	}
	rows, err := r.db.Query(`
		SELECT decision_id, title, status, decision_text, rationale, alternatives_text, consequences_text,
			evidence_kind, evidence_excerpt, evidence_file_path, evidence_capture_id, evidence_hash,
			created_at, updated_at, tombstoned_at
		FROM decisions WHERE decision_id > ? ORDER BY decision_id LIMIT ?
	`, after, opts.limit()+1)
	if err != nil {
		return Page[*model.Decision]{}, wrapDBError("list_decisions", err)
	}
	defer rows.Close()
	var out []*model.Decision
	for rows.Next() {
		var d model.Decision
		var evidenceKind string
		if err := rows.Scan(&d.DecisionID, &d.Title, &d.Status, &d.DecisionText, &d.Rationale, &d.AlternativesText, &d.ConsequencesText,
			&evidenceKind, &d.EvidenceExcerpt, &d.EvidenceFilePath, &d.EvidenceCaptureID, &d.EvidenceHash,
			&d.CreatedAt, &d.UpdatedAt, &d.TombstonedAt); err != nil {
			return Page[*model.Decision]{}, wrapDBError("list_decisions_scan", err)
		}
		d.EvidenceKind = model.EvidenceKind(evidenceKind)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return Page[*model.Decision]{}, wrapDBError("list_decisions_rows", err)
	}
	return paginate(out, func(d *model.Decision) string { return d.DecisionID }, opts.limit()), nil
}

// ListDecisionsByTarget returns the Decisions linked to (targetKind,
// targetID), ordered by link ordinal.
func (r *Repo) ListDecisionsByTarget(targetKind model.DecisionTargetKind, targetID string) ([]*model.Decision, error) {
	rows, err := r.db.Query(`
		SELECT d.decision_id, d.title, d.status, d.decision_text, d.rationale, d.alternatives_text, d.consequences_text,
			d.evidence_kind, d.evidence_excerpt, d.evidence_file_path, d.evidence_capture_id, d.evidence_hash,
			d.created_at, d.updated_at, d.tombstoned_at
		FROM decision_links l
		JOIN decisions d ON d.decision_id = l.decision_id
		WHERE l.target_kind = ? AND l.target_id = ? ORDER BY l.ordinal
	`, string(targetKind), targetID)
	if err != nil {
		return nil, wrapDBError("list_decisions_by_target", err)
	}
	defer rows.Close()
	var out []*model.Decision
	for rows.Next() {
		var d model.Decision
		var evidenceKind string
		if err := rows.Scan(&d.DecisionID, &d.Title, &d.Status, &d.DecisionText, &d.Rationale, &d.AlternativesText, &d.ConsequencesText,
			&evidenceKind, &d.EvidenceExcerpt, &d.EvidenceFilePath, &d.EvidenceCaptureID, &d.EvidenceHash,
			&d.CreatedAt, &d.UpdatedAt, &d.TombstonedAt); err != nil {
			return nil, wrapDBError("list_decisions_by_target_scan", err)
		}
		d.EvidenceKind = model.EvidenceKind(evidenceKind)
		out = append(out, &d)
	}
	return out, wrapDBError("list_decisions_by_target_rows", rows.Err())
}

// GetProfile looks up a Profile by ref.
func (r *Repo) GetProfile(ref string) (*model.Profile, error) {
	var p model.Profile
	var payloadJSON string
	var isDefault int
	err := r.db.QueryRow(`SELECT profile_ref, payload_json, is_default, profile_digest, created_at FROM profiles WHERE profile_ref = ?`, ref).
		Scan(&p.ProfileRef, &payloadJSON, &isDefault, &p.ProfileDigest, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindProfileNotFound, "storagesql.get_profile").WithMessage(ref)
	}
	if err != nil {
		return nil, wrapDBError("get_profile", err)
	}
	p.PayloadJSON = []byte(payloadJSON)
	p.IsDefault = isDefault != 0
	return &p, nil
}

// GetDefaultProfile looks up the single Profile with is_default set,
// failing with ProfileDefaultMissing if none exists.
func (r *Repo) GetDefaultProfile() (*model.Profile, error) {
	var p model.Profile
	var payloadJSON string
	var isDefault int
	err := r.db.QueryRow(`SELECT profile_ref, payload_json, is_default, profile_digest, created_at FROM profiles WHERE is_default = 1 LIMIT 1`).
		Scan(&p.ProfileRef, &payloadJSON, &isDefault, &p.ProfileDigest, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindProfileDefaultMissing, "storagesql.get_default_profile")
	}
	if err != nil {
		return nil, wrapDBError("get_default_profile", err)
	}
	p.PayloadJSON = []byte(payloadJSON)
	p.IsDefault = isDefault != 0
	return &p, nil
}

// GetApprovalRequest looks up an ApprovalRequest by token.
func (r *Repo) GetApprovalRequest(token string) (*model.ApprovalRequest, error) {
	var a model.ApprovalRequest
	var candidateJSON, status string
	err := r.db.QueryRow(`
		SELECT approval_token, reason_code, candidate_set_json, semantic_request_digest, status, created_at, request_digest
		FROM approval_requests WHERE approval_token = ?
	`, token).Scan(&a.ApprovalToken, &a.ReasonCode, &candidateJSON, &a.SemanticRequestDigest, &status, &a.CreatedAt, &a.RequestDigest)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindApprovalNotFound, "storagesql.get_approval_request").WithMessage(token)
	}
	if err != nil {
		return nil, wrapDBError("get_approval_request", err)
	}
	a.CandidateSetJSON = []byte(candidateJSON)
	a.Status = model.ApprovalStatus(status)
	return &a, nil
}

// GetSnapshot looks up a single snapshot ledger row by ID.
func (r *Repo) GetSnapshot(id string) (*model.SnapshotRow, error) {
	var row model.SnapshotRow
	err := r.db.QueryRow(`
		SELECT snapshot_id, root_ettle_id, manifest_digest, semantic_manifest_digest,
			parent_snapshot_id, policy_ref, profile_ref, status, created_at
		FROM snapshots WHERE snapshot_id = ?
	`, id).Scan(&row.SnapshotID, &row.RootEttleID, &row.ManifestDigest, &row.SemanticManifestDigest,
		&row.ParentSnapshotID, &row.PolicyRef, &row.ProfileRef, &row.Status, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, exerr.New(exerr.KindSnapshotNotFound, "storagesql.get_snapshot").WithMessage(id)
	}
	if err != nil {
		return nil, wrapDBError("get_snapshot", err)
	}
	return &row, nil
}

// snapshotCursorSep separates the compound (created_at, snapshot_id) sort
// key encoded into ListSnapshots' opaque cursor. Snapshot IDs are UUIDv7
// strings and created_at is RFC3339Nano, so this byte never appears in
// either half.
const snapshotCursorSep = "\x00"

// ListSnapshots pages through the committed snapshots for rootEttleID,
// newest first. The sort key is the pair (created_at, snapshot_id), both
// descending, since multiple snapshots can share a created_at timestamp
// under tight commit loops or coarse clock resolution; a single-column
// cursor would silently drop same-timestamp rows at a page boundary.
func (r *Repo) ListSnapshots(rootEttleID string, opts ListOptions) (Page[*model.SnapshotRow], error) {
	after, err := opts.afterKey()
	if err != nil {
		return Page[*model.SnapshotRow]{}, err
	}
	cond := "1 = 1"
	args := []any{rootEttleID}
	if after != "" {
		afterCreatedAt, afterSnapshotID, ok := strings.Cut(after, snapshotCursorSep)
		if !ok {
			return Page[*model.SnapshotRow]{}, exerr.New(exerr.KindMissingField, "storagesql.cursor").WithMessage("invalid cursor")
		}
		cond = "(created_at < ? OR (created_at = ? AND snapshot_id < ?))"
		args = append(args, afterCreatedAt, afterCreatedAt, afterSnapshotID)
	}
	args = append(args, opts.limit()+1)
	rows, err := r.db.Query(`
		SELECT snapshot_id, root_ettle_id, manifest_digest, semantic_manifest_digest,
			parent_snapshot_id, policy_ref, profile_ref, status, created_at
		FROM snapshots WHERE root_ettle_id = ? AND `+cond+`
		ORDER BY created_at DESC, snapshot_id DESC LIMIT ?
	`, args...)
	if err != nil {
		return Page[*model.SnapshotRow]{}, wrapDBError("list_snapshots", err)
	}
	defer rows.Close()
	var out []*model.SnapshotRow
	for rows.Next() {
		var row model.SnapshotRow
		if err := rows.Scan(&row.SnapshotID, &row.RootEttleID, &row.ManifestDigest, &row.SemanticManifestDigest,
			&row.ParentSnapshotID, &row.PolicyRef, &row.ProfileRef, &row.Status, &row.CreatedAt); err != nil {
			return Page[*model.SnapshotRow]{}, wrapDBError("list_snapshots_scan", err)
		}
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return Page[*model.SnapshotRow]{}, wrapDBError("list_snapshots_rows", err)
	}
	return paginate(out, func(row *model.SnapshotRow) string {
		return row.CreatedAt + snapshotCursorSep + row.SnapshotID
	}, opts.limit()), nil
}

// GetManifestBySnapshot reads a snapshot's manifest bytes back out of
// CAS by its recorded manifest digest.
func (r *Repo) GetManifestBySnapshot(snapshotID string, casRead func(digest string) ([]byte, error)) (*manifest.SnapshotManifest, error) {
	row, err := r.GetSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}
	return r.getManifestByDigest(row.ManifestDigest, casRead)
}

// GetManifestByDigest reads a manifest directly out of CAS by its
// manifest digest (not the semantic digest, which is not a CAS key).
func (r *Repo) GetManifestByDigest(digest string, casRead func(digest string) ([]byte, error)) (*manifest.SnapshotManifest, error) {
	return r.getManifestByDigest(digest, casRead)
}

func (r *Repo) getManifestByDigest(digest string, casRead func(digest string) ([]byte, error)) (*manifest.SnapshotManifest, error) {
	data, err := casRead(digest)
	if err != nil {
		return nil, err
	}
	var m manifest.SnapshotManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, exerr.Wrap("storagesql.get_manifest_by_digest", err)
	}
	return &m, nil
}
