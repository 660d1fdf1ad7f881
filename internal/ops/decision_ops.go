package ops

import (
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
)

// computeEvidenceHash hashes evidence_kind concatenated directly with the
// optional excerpt and file_path bytes, with no separators. Grounded
// byte-for-byte on original_source's model/decision.rs::
// compute_evidence_hash.
func computeEvidenceHash(kind model.EvidenceKind, excerpt, filePath *string) string {
	buf := []byte(string(kind))
	if excerpt != nil {
		buf = append(buf, []byte(*excerpt)...)
	}
	if filePath != nil {
		buf = append(buf, []byte(*filePath)...)
	}
	return idgen.Sha256Hex(buf)
}

// validateEvidence enforces the evidence-kind rules referenced by
// spec.md §3/§4.7: excerpt requires EvidenceExcerpt text, file requires
// a path, capture requires a capture ID that resolves to a stored
// DecisionEvidenceItem.
func validateEvidence(s *store.Store, kind model.EvidenceKind, excerpt, filePath, captureID *string) error {
	switch kind {
	case model.EvidenceNone:
		return nil
	case model.EvidenceExcerpt:
		if excerpt == nil || trimmedEmpty(*excerpt) {
			return exerr.New(exerr.KindInvalidEvidence, "create_decision")
		}
	case model.EvidenceFile:
		if filePath == nil || trimmedEmpty(*filePath) {
			return exerr.New(exerr.KindInvalidEvidencePath, "create_decision")
		}
	case model.EvidenceCapture:
		if captureID == nil {
			return exerr.New(exerr.KindInvalidEvidence, "create_decision")
		}
		if _, ok := s.EvidenceItems[*captureID]; !ok {
			return exerr.New(exerr.KindInvalidEvidence, "create_decision")
		}
	default:
		return exerr.New(exerr.KindInvalidEvidence, "create_decision")
	}
	return nil
}

// CreateDecisionInput carries the required and optional fields for
// CreateDecision.
type CreateDecisionInput struct {
	Title             string
	Status            string
	DecisionText      string
	Rationale         string
	AlternativesText  *string
	ConsequencesText  *string
	EvidenceKind      model.EvidenceKind
	EvidenceExcerpt   *string
	EvidenceFilePath  *string
	EvidenceCaptureID *string
}

// CreateDecision creates a new Decision, validating the required
// non-empty fields and the evidence-kind rules, and computing
// evidence_hash.
func CreateDecision(s *store.Store, in CreateDecisionInput) (string, error) {
	if trimmedEmpty(in.Title) || trimmedEmpty(in.Status) || trimmedEmpty(in.DecisionText) || trimmedEmpty(in.Rationale) {
		return "", exerr.New(exerr.KindInvalidDecision, "create_decision")
	}
	if err := validateEvidence(s, in.EvidenceKind, in.EvidenceExcerpt, in.EvidenceFilePath, in.EvidenceCaptureID); err != nil {
		return "", err
	}
	now := nowRFC3339()
	id := idgen.NewUUIDv7()
	d := &model.Decision{
		DecisionID:        id,
		Title:             in.Title,
		Status:            in.Status,
		DecisionText:      in.DecisionText,
		Rationale:         in.Rationale,
		AlternativesText:  in.AlternativesText,
		ConsequencesText:  in.ConsequencesText,
		EvidenceKind:      in.EvidenceKind,
		EvidenceExcerpt:   in.EvidenceExcerpt,
		EvidenceFilePath:  in.EvidenceFilePath,
		EvidenceCaptureID: in.EvidenceCaptureID,
		EvidenceHash:      computeEvidenceHash(in.EvidenceKind, in.EvidenceExcerpt, in.EvidenceFilePath),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.InsertDecision(d)
	return id, nil
}

// UpdateDecisionInput carries partial-update fields: nil means "don't
// change". The evidence fields (kind, excerpt, file path) are only
// validated and replaced when a non-nil EvidenceKind is given;
// EvidenceExcerpt and EvidenceFilePath are ignored otherwise.
// evidence_hash is recomputed unconditionally on every update.
type UpdateDecisionInput struct {
	Status           *string
	DecisionText     *string
	Rationale        *string
	AlternativesText *string
	ConsequencesText *string
	EvidenceKind     *model.EvidenceKind
	EvidenceExcerpt  *string
	EvidenceFilePath *string
}

// UpdateDecision partially updates a Decision, recomputing evidence_hash
// from the resulting evidence fields on every call.
func UpdateDecision(s *store.Store, id string, in UpdateDecisionInput) error {
	d, ok := s.Decisions[id]
	if !ok {
		return exerr.Newf(exerr.KindDecisionNotFound, "update_decision", "decision %s not found", id)
	}
	if d.IsTombstoned() {
		return exerr.New(exerr.KindDecisionTombstoned, "update_decision")
	}
	updated := *d
	if in.Status != nil {
		updated.Status = *in.Status
	}
	if in.DecisionText != nil {
		updated.DecisionText = *in.DecisionText
	}
	if in.Rationale != nil {
		updated.Rationale = *in.Rationale
	}
	if in.AlternativesText != nil {
		updated.AlternativesText = in.AlternativesText
	}
	if in.ConsequencesText != nil {
		updated.ConsequencesText = in.ConsequencesText
	}
	if in.EvidenceKind != nil {
		if err := validateEvidence(s, *in.EvidenceKind, in.EvidenceExcerpt, in.EvidenceFilePath, updated.EvidenceCaptureID); err != nil {
			return err
		}
		updated.EvidenceKind = *in.EvidenceKind
		updated.EvidenceExcerpt = in.EvidenceExcerpt
		updated.EvidenceFilePath = in.EvidenceFilePath
	}
	updated.EvidenceHash = computeEvidenceHash(updated.EvidenceKind, updated.EvidenceExcerpt, updated.EvidenceFilePath)
	updated.UpdatedAt = nowRFC3339()
	s.InsertDecision(&updated)
	return nil
}

// TombstoneDecision marks a decision tombstoned.
func TombstoneDecision(s *store.Store, id string) error {
	d, ok := s.Decisions[id]
	if !ok {
		return exerr.Newf(exerr.KindDecisionNotFound, "tombstone_decision", "decision %s not found", id)
	}
	now := nowRFC3339()
	updated := *d
	updated.TombstonedAt = &now
	updated.UpdatedAt = now
	s.InsertDecision(&updated)
	return nil
}

// CreateEvidenceItem stores a full captured evidence blob and returns its
// ID, hashing the raw content bytes.
func CreateEvidenceItem(s *store.Store, source, content string) string {
	id := idgen.NewUUIDv7()
	item := &model.DecisionEvidenceItem{
		EvidenceCaptureID: id,
		Source:            source,
		Content:           content,
		ContentHash:       idgen.Sha256Hex([]byte(content)),
		CreatedAt:         nowRFC3339(),
	}
	s.EvidenceItems[id] = item
	return id
}

// CreateDecisionLink relates decisionID to a target, rejecting an
// invalid target kind or a duplicate (decision, target, relation) link.
func CreateDecisionLink(s *store.Store, decisionID string, targetKind model.DecisionTargetKind, targetID, relationKind string, ordinal int) error {
	if _, ok := s.Decisions[decisionID]; !ok {
		return exerr.Newf(exerr.KindDecisionNotFound, "create_decision_link", "decision %s not found", decisionID)
	}
	switch targetKind {
	case model.TargetEP, model.TargetEttle, model.TargetConstraint, model.TargetDecision:
	default:
		return exerr.New(exerr.KindInvalidTargetKind, "create_decision_link")
	}
	for _, l := range s.DecisionLinks {
		if l.TombstonedAt != nil {
			continue
		}
		if l.DecisionID == decisionID && l.TargetKind == targetKind && l.TargetID == targetID && l.RelationKind == relationKind {
			return exerr.New(exerr.KindDuplicateDecisionLink, "create_decision_link")
		}
	}
	s.DecisionLinks = append(s.DecisionLinks, model.DecisionLink{
		DecisionID:   decisionID,
		TargetKind:   targetKind,
		TargetID:     targetID,
		RelationKind: relationKind,
		Ordinal:      ordinal,
		CreatedAt:    nowRFC3339(),
	})
	return nil
}
