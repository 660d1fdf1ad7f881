package storagesql

import (
	"database/sql"
	"encoding/json"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every persistX
// helper below run either standalone (each call auto-committing) or inside
// PersistAll's single transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
}

// PersistEttle upserts a single Ettle row.
func (r *Repo) PersistEttle(e *model.Ettle) error { return persistEttle(r.db, e) }

func persistEttle(db execer, e *model.Ettle) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return exerr.Wrap("storagesql.persist_ettle", err)
	}
	_, err = db.Exec(`
		INSERT INTO ettles (id, title, parent_id, metadata_json, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, parent_id = excluded.parent_id,
			metadata_json = excluded.metadata_json, deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`, e.ID, e.Title, e.ParentID, string(meta), boolToInt(e.Deleted), e.CreatedAt, e.UpdatedAt)
	return wrapDBError("persist_ettle", err)
}

// PersistEP upserts a single EP row.
func (r *Repo) PersistEP(e *model.EP) error { return persistEP(r.db, e) }

func persistEP(db execer, e *model.EP) error {
	_, err := db.Exec(`
		INSERT INTO eps (id, ettle_id, ordinal, normative, why, what, how, child_ettle_id, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ettle_id = excluded.ettle_id, ordinal = excluded.ordinal,
			normative = excluded.normative, why = excluded.why, what = excluded.what,
			how = excluded.how, child_ettle_id = excluded.child_ettle_id,
			deleted = excluded.deleted, updated_at = excluded.updated_at
	`, e.ID, e.EttleID, e.Ordinal, boolToInt(e.Normative), e.Why, e.What, e.How,
		e.ChildEttleID, boolToInt(e.Deleted), e.CreatedAt, e.UpdatedAt)
	return wrapDBError("persist_ep", err)
}

// PersistConstraint upserts a single Constraint row.
func (r *Repo) PersistConstraint(c *model.Constraint) error { return persistConstraint(r.db, c) }

func persistConstraint(db execer, c *model.Constraint) error {
	_, err := db.Exec(`
		INSERT INTO constraints (constraint_id, family, kind, scope, payload_json, payload_digest, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (constraint_id) DO UPDATE SET
			family = excluded.family, kind = excluded.kind, scope = excluded.scope,
			payload_json = excluded.payload_json, payload_digest = excluded.payload_digest,
			updated_at = excluded.updated_at, deleted_at = excluded.deleted_at
	`, c.ConstraintID, c.Family, c.Kind, c.Scope, string(c.PayloadJSON), c.PayloadDigest,
		c.CreatedAt, c.UpdatedAt, c.DeletedAt)
	return wrapDBError("persist_constraint", err)
}

// PersistEPConstraintRef upserts an EP-constraint attachment.
func (r *Repo) PersistEPConstraintRef(ref model.EPConstraintRef) error {
	return persistEPConstraintRef(r.db, ref)
}

func persistEPConstraintRef(db execer, ref model.EPConstraintRef) error {
	_, err := db.Exec(`
		INSERT INTO ep_constraint_refs (ep_id, constraint_id, ordinal, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ep_id, constraint_id) DO UPDATE SET ordinal = excluded.ordinal
	`, ref.EPID, ref.ConstraintID, ref.Ordinal, ref.CreatedAt)
	return wrapDBError("persist_ep_constraint_ref", err)
}

// PersistDecision upserts a single Decision row.
func (r *Repo) PersistDecision(d *model.Decision) error { return persistDecision(r.db, d) }

func persistDecision(db execer, d *model.Decision) error {
	_, err := db.Exec(`
		INSERT INTO decisions (decision_id, title, status, decision_text, rationale,
			alternatives_text, consequences_text, evidence_kind, evidence_excerpt,
			evidence_file_path, evidence_capture_id, evidence_hash, created_at, updated_at, tombstoned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_id) DO UPDATE SET
			title = excluded.title, status = excluded.status,
			decision_text = excluded.decision_text, rationale = excluded.rationale,
			alternatives_text = excluded.alternatives_text,
			consequences_text = excluded.consequences_text,
			evidence_kind = excluded.evidence_kind, evidence_excerpt = excluded.evidence_excerpt,
			evidence_file_path = excluded.evidence_file_path,
			evidence_capture_id = excluded.evidence_capture_id,
			evidence_hash = excluded.evidence_hash, updated_at = excluded.updated_at,
			tombstoned_at = excluded.tombstoned_at
	`, d.DecisionID, d.Title, d.Status, d.DecisionText, d.Rationale,
		d.AlternativesText, d.ConsequencesText, string(d.EvidenceKind), d.EvidenceExcerpt,
		d.EvidenceFilePath, d.EvidenceCaptureID, d.EvidenceHash, d.CreatedAt, d.UpdatedAt, d.TombstonedAt)
	return wrapDBError("persist_decision", err)
}

// PersistEvidenceItem upserts a single captured evidence blob.
func (r *Repo) PersistEvidenceItem(e *model.DecisionEvidenceItem) error {
	return persistEvidenceItem(r.db, e)
}

func persistEvidenceItem(db execer, e *model.DecisionEvidenceItem) error {
	_, err := db.Exec(`
		INSERT INTO decision_evidence_items (evidence_capture_id, source, content, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (evidence_capture_id) DO UPDATE SET
			source = excluded.source, content = excluded.content, content_hash = excluded.content_hash
	`, e.EvidenceCaptureID, e.Source, e.Content, e.ContentHash, e.CreatedAt)
	return wrapDBError("persist_evidence_item", err)
}

// PersistDecisionLink upserts a decision-to-entity link.
func (r *Repo) PersistDecisionLink(l model.DecisionLink) error { return persistDecisionLink(r.db, l) }

func persistDecisionLink(db execer, l model.DecisionLink) error {
	_, err := db.Exec(`
		INSERT INTO decision_links (decision_id, target_kind, target_id, relation_kind, ordinal, created_at, tombstoned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_id, target_kind, target_id, relation_kind) DO UPDATE SET
			ordinal = excluded.ordinal, tombstoned_at = excluded.tombstoned_at
	`, l.DecisionID, string(l.TargetKind), l.TargetID, l.RelationKind, l.Ordinal, l.CreatedAt, l.TombstonedAt)
	return wrapDBError("persist_decision_link", err)
}

// PersistProfile upserts a single Profile row.
func (r *Repo) PersistProfile(p *model.Profile) error { return persistProfile(r.db, p) }

func persistProfile(db execer, p *model.Profile) error {
	_, err := db.Exec(`
		INSERT INTO profiles (profile_ref, payload_json, is_default, profile_digest, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (profile_ref) DO UPDATE SET
			payload_json = excluded.payload_json, is_default = excluded.is_default,
			profile_digest = excluded.profile_digest
	`, p.ProfileRef, string(p.PayloadJSON), boolToInt(p.IsDefault), p.ProfileDigest, p.CreatedAt)
	return wrapDBError("persist_profile", err)
}

// PersistApprovalRequest upserts a single ApprovalRequest row.
func (r *Repo) PersistApprovalRequest(a *model.ApprovalRequest) error {
	return persistApprovalRequest(r.db, a)
}

func persistApprovalRequest(db execer, a *model.ApprovalRequest) error {
	_, err := db.Exec(`
		INSERT INTO approval_requests (approval_token, reason_code, candidate_set_json, semantic_request_digest, status, created_at, request_digest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (approval_token) DO UPDATE SET status = excluded.status
	`, a.ApprovalToken, a.ReasonCode, string(a.CandidateSetJSON), a.SemanticRequestDigest,
		string(a.Status), a.CreatedAt, a.RequestDigest)
	return wrapDBError("persist_approval_request", err)
}

// reconcileEPs deletes eps rows whose id no longer appears in s.EPs.
// Every other entity is only ever tombstoned (Deleted/DeletedAt flipped,
// row retained) and reaches storage fine through the upsert below; EPs
// are the one entity ops.HardDeleteEP removes from the in-memory map
// outright, so without this the row would survive in SQLite forever and
// Hydrate would resurrect it on the next read.
func reconcileEPs(db execer, s *store.Store) error {
	rows, err := db.Query(`SELECT id FROM eps`)
	if err != nil {
		return wrapDBError("reconcile_eps.select", err)
	}
	defer rows.Close()
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return wrapDBError("reconcile_eps.scan", err)
		}
		if _, ok := s.EPs[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapDBError("reconcile_eps.rows", err)
	}
	for _, id := range stale {
		if _, err := db.Exec(`DELETE FROM eps WHERE id = ?`, id); err != nil {
			return wrapDBError("reconcile_eps.delete", err)
		}
	}
	return nil
}

// reconcileEPConstraintRefs deletes ep_constraint_refs rows no longer
// present in s.EPConstraintRefs, handling ops.DetachConstraintFromEP's
// RemoveConstraintRef the same way reconcileEPs handles hard-deleted EPs.
func reconcileEPConstraintRefs(db execer, s *store.Store) error {
	rows, err := db.Query(`SELECT ep_id, constraint_id FROM ep_constraint_refs`)
	if err != nil {
		return wrapDBError("reconcile_ep_constraint_refs.select", err)
	}
	defer rows.Close()
	type attachment struct{ epID, constraintID string }
	var stale []attachment
	for rows.Next() {
		var a attachment
		if err := rows.Scan(&a.epID, &a.constraintID); err != nil {
			return wrapDBError("reconcile_ep_constraint_refs.scan", err)
		}
		if !s.IsConstraintAttachedToEP(a.epID, a.constraintID) {
			stale = append(stale, a)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapDBError("reconcile_ep_constraint_refs.rows", err)
	}
	for _, a := range stale {
		if _, err := db.Exec(`DELETE FROM ep_constraint_refs WHERE ep_id = ? AND constraint_id = ?`, a.epID, a.constraintID); err != nil {
			return wrapDBError("reconcile_ep_constraint_refs.delete", err)
		}
	}
	return nil
}

// PersistAll upserts every entity in s, in dependency order: ettles and
// eps before the refinement/attachment tables that reference them, and
// evidence items before the decisions that reference their capture ID.
// Reconciles the two tables that can actually shrink (eps via hard
// delete, ep_constraint_refs via detach) before upserting what remains.
//
// The whole sequence runs inside one transaction, the same
// BeginTx/defer-Rollback/Commit idiom CommitSnapshot uses: without it a
// failure partway through (say the decisions upsert erroring after
// ettles and eps already wrote) would leave SQLite holding a mix of old
// and new rows that never corresponds to any single version of s, and
// Hydrate would read that mix back as if it were valid. Repo.Open's
// single-connection pool pins the transaction to the one connection for
// its lifetime, so nothing else observes the partial write either.
func (r *Repo) PersistAll(s *store.Store) error {
	tx, err := r.db.Begin()
	if err != nil {
		return wrapDBError("persist_all.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := reconcileEPs(tx, s); err != nil {
		return err
	}
	if err := reconcileEPConstraintRefs(tx, s); err != nil {
		return err
	}
	for _, e := range s.ListEttles() {
		if err := persistEttle(tx, e); err != nil {
			return err
		}
	}
	for _, e := range s.ListEPs() {
		if err := persistEP(tx, e); err != nil {
			return err
		}
	}
	for _, c := range s.Constraints {
		if err := persistConstraint(tx, c); err != nil {
			return err
		}
	}
	for _, ref := range s.EPConstraintRefs {
		if err := persistEPConstraintRef(tx, ref); err != nil {
			return err
		}
	}
	for _, e := range s.EvidenceItems {
		if err := persistEvidenceItem(tx, e); err != nil {
			return err
		}
	}
	for _, d := range s.Decisions {
		if err := persistDecision(tx, d); err != nil {
			return err
		}
	}
	for _, l := range s.DecisionLinks {
		if err := persistDecisionLink(tx, l); err != nil {
			return err
		}
	}
	for _, p := range s.Profiles {
		if err := persistProfile(tx, p); err != nil {
			return err
		}
	}
	for _, a := range s.ApprovalRequests {
		if err := persistApprovalRequest(tx, a); err != nil {
			return err
		}
	}
	return wrapDBError("persist_all.commit", tx.Commit())
}
