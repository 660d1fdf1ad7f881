package storagesql

import (
	"encoding/json"
	"sort"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
)

// Hydrate loads every table into a fresh store.Store, in deterministic
// order: entities sorted by ID, constraint attachments by (ep_id,
// ordinal), decision links by (decision_id, ordinal). Each
// ettle's EPIDs list is reconstructed by ordering its EPs by ordinal.
func (r *Repo) Hydrate() (*store.Store, error) {
	s := store.New()

	if err := r.hydrateEttles(s); err != nil {
		return nil, err
	}
	if err := r.hydrateEPs(s); err != nil {
		return nil, err
	}
	if err := r.hydrateConstraints(s); err != nil {
		return nil, err
	}
	if err := r.hydrateEPConstraintRefs(s); err != nil {
		return nil, err
	}
	if err := r.hydrateEvidenceItems(s); err != nil {
		return nil, err
	}
	if err := r.hydrateDecisions(s); err != nil {
		return nil, err
	}
	if err := r.hydrateDecisionLinks(s); err != nil {
		return nil, err
	}
	if err := r.hydrateProfiles(s); err != nil {
		return nil, err
	}
	if err := r.hydrateApprovalRequests(s); err != nil {
		return nil, err
	}

	assignEPIDs(s)
	return s, nil
}

// assignEPIDs rebuilds each Ettle's EPIDs list from the hydrated EPs,
// ordered by ordinal (R3).
func assignEPIDs(s *store.Store) {
	byEttle := make(map[string][]*model.EP)
	for _, ep := range s.EPs {
		byEttle[ep.EttleID] = append(byEttle[ep.EttleID], ep)
	}
	for ettleID, eps := range byEttle {
		sort.Slice(eps, func(i, j int) bool { return eps[i].Ordinal < eps[j].Ordinal })
		e, ok := s.Ettles[ettleID]
		if !ok {
			continue
		}
		ids := make([]string, len(eps))
		for i, ep := range eps {
			ids[i] = ep.ID
		}
		e.EPIDs = ids
	}
}

func (r *Repo) hydrateEttles(s *store.Store) error {
	rows, err := r.db.Query(`SELECT id, title, parent_id, metadata_json, deleted, created_at, updated_at FROM ettles ORDER BY id`)
	if err != nil {
		return wrapDBError("hydrate_ettles", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.Ettle
		var metaJSON string
		var deleted int
		if err := rows.Scan(&e.ID, &e.Title, &e.ParentID, &metaJSON, &deleted, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return wrapDBError("hydrate_ettles_scan", err)
		}
		e.Deleted = deleted != 0
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			return exerr.Wrap("storagesql.hydrate_ettles_metadata", err)
		}
		s.Ettles[e.ID] = &e
	}
	return wrapDBError("hydrate_ettles_rows", rows.Err())
}

func (r *Repo) hydrateEPs(s *store.Store) error {
	rows, err := r.db.Query(`SELECT id, ettle_id, ordinal, normative, why, what, how, child_ettle_id, deleted, created_at, updated_at FROM eps ORDER BY id`)
	if err != nil {
		return wrapDBError("hydrate_eps", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.EP
		var normative, deleted int
		if err := rows.Scan(&e.ID, &e.EttleID, &e.Ordinal, &normative, &e.Why, &e.What, &e.How,
			&e.ChildEttleID, &deleted, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return wrapDBError("hydrate_eps_scan", err)
		}
		e.Normative = normative != 0
		e.Deleted = deleted != 0
		s.EPs[e.ID] = &e
	}
	return wrapDBError("hydrate_eps_rows", rows.Err())
}

func (r *Repo) hydrateConstraints(s *store.Store) error {
	rows, err := r.db.Query(`SELECT constraint_id, family, kind, scope, payload_json, payload_digest, created_at, updated_at, deleted_at FROM constraints ORDER BY constraint_id`)
	if err != nil {
		return wrapDBError("hydrate_constraints", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c model.Constraint
		var payloadJSON string
		if err := rows.Scan(&c.ConstraintID, &c.Family, &c.Kind, &c.Scope, &payloadJSON,
			&c.PayloadDigest, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return wrapDBError("hydrate_constraints_scan", err)
		}
		c.PayloadJSON = json.RawMessage(payloadJSON)
		s.Constraints[c.ConstraintID] = &c
	}
	return wrapDBError("hydrate_constraints_rows", rows.Err())
}

func (r *Repo) hydrateEPConstraintRefs(s *store.Store) error {
	rows, err := r.db.Query(`SELECT ep_id, constraint_id, ordinal, created_at FROM ep_constraint_refs ORDER BY ep_id, ordinal`)
	if err != nil {
		return wrapDBError("hydrate_ep_constraint_refs", err)
	}
	defer rows.Close()
	var out []model.EPConstraintRef
	for rows.Next() {
		var ref model.EPConstraintRef
		if err := rows.Scan(&ref.EPID, &ref.ConstraintID, &ref.Ordinal, &ref.CreatedAt); err != nil {
			return wrapDBError("hydrate_ep_constraint_refs_scan", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return wrapDBError("hydrate_ep_constraint_refs_rows", err)
	}
	s.EPConstraintRefs = out
	return nil
}

func (r *Repo) hydrateEvidenceItems(s *store.Store) error {
	rows, err := r.db.Query(`SELECT evidence_capture_id, source, content, content_hash, created_at FROM decision_evidence_items ORDER BY evidence_capture_id`)
	if err != nil {
		return wrapDBError("hydrate_evidence_items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.DecisionEvidenceItem
		if err := rows.Scan(&e.EvidenceCaptureID, &e.Source, &e.Content, &e.ContentHash, &e.CreatedAt); err != nil {
			return wrapDBError("hydrate_evidence_items_scan", err)
		}
		s.EvidenceItems[e.EvidenceCaptureID] = &e
	}
	return wrapDBError("hydrate_evidence_items_rows", rows.Err())
}

func (r *Repo) hydrateDecisions(s *store.Store) error {
	rows, err := r.db.Query(`SELECT decision_id, title, status, decision_text, rationale,
		alternatives_text, consequences_text, evidence_kind, evidence_excerpt,
		evidence_file_path, evidence_capture_id, evidence_hash, created_at, updated_at, tombstoned_at
		FROM decisions ORDER BY decision_id`)
	if err != nil {
		return wrapDBError("hydrate_decisions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d model.Decision
		var evidenceKind string
		if err := rows.Scan(&d.DecisionID, &d.Title, &d.Status, &d.DecisionText, &d.Rationale,
			&d.AlternativesText, &d.ConsequencesText, &evidenceKind, &d.EvidenceExcerpt,
			&d.EvidenceFilePath, &d.EvidenceCaptureID, &d.EvidenceHash, &d.CreatedAt, &d.UpdatedAt, &d.TombstonedAt); err != nil {
			return wrapDBError("hydrate_decisions_scan", err)
		}
		d.EvidenceKind = model.EvidenceKind(evidenceKind)
		s.Decisions[d.DecisionID] = &d
	}
	return wrapDBError("hydrate_decisions_rows", rows.Err())
}

func (r *Repo) hydrateDecisionLinks(s *store.Store) error {
	rows, err := r.db.Query(`SELECT decision_id, target_kind, target_id, relation_kind, ordinal, created_at, tombstoned_at FROM decision_links ORDER BY decision_id, ordinal`)
	if err != nil {
		return wrapDBError("hydrate_decision_links", err)
	}
	defer rows.Close()
	var out []model.DecisionLink
	for rows.Next() {
		var l model.DecisionLink
		var targetKind string
		if err := rows.Scan(&l.DecisionID, &targetKind, &l.TargetID, &l.RelationKind, &l.Ordinal, &l.CreatedAt, &l.TombstonedAt); err != nil {
			return wrapDBError("hydrate_decision_links_scan", err)
		}
		l.TargetKind = model.DecisionTargetKind(targetKind)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return wrapDBError("hydrate_decision_links_rows", err)
	}
	s.DecisionLinks = out
	return nil
}

func (r *Repo) hydrateProfiles(s *store.Store) error {
	rows, err := r.db.Query(`SELECT profile_ref, payload_json, is_default, profile_digest, created_at FROM profiles ORDER BY profile_ref`)
	if err != nil {
		return wrapDBError("hydrate_profiles", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Profile
		var payloadJSON string
		var isDefault int
		if err := rows.Scan(&p.ProfileRef, &payloadJSON, &isDefault, &p.ProfileDigest, &p.CreatedAt); err != nil {
			return wrapDBError("hydrate_profiles_scan", err)
		}
		p.PayloadJSON = json.RawMessage(payloadJSON)
		p.IsDefault = isDefault != 0
		s.Profiles[p.ProfileRef] = &p
	}
	return wrapDBError("hydrate_profiles_rows", rows.Err())
}

func (r *Repo) hydrateApprovalRequests(s *store.Store) error {
	rows, err := r.db.Query(`SELECT approval_token, reason_code, candidate_set_json, semantic_request_digest, status, created_at, request_digest FROM approval_requests ORDER BY approval_token`)
	if err != nil {
		return wrapDBError("hydrate_approval_requests", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.ApprovalRequest
		var candidateJSON, status string
		if err := rows.Scan(&a.ApprovalToken, &a.ReasonCode, &candidateJSON, &a.SemanticRequestDigest, &status, &a.CreatedAt, &a.RequestDigest); err != nil {
			return wrapDBError("hydrate_approval_requests_scan", err)
		}
		a.CandidateSetJSON = json.RawMessage(candidateJSON)
		a.Status = model.ApprovalStatus(status)
		s.ApprovalRequests[a.ApprovalToken] = &a
	}
	return wrapDBError("hydrate_approval_requests_rows", rows.Err())
}
