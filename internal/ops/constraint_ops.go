package ops

import (
	"encoding/json"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
)

// CreateConstraint creates a new Constraint. Infallible: family/kind/
// scope are open strings with no enum validation, matching
// original_source's constraint_ops.rs::create_constraint.
func CreateConstraint(s *store.Store, family, kind, scope string, payload json.RawMessage) string {
	now := nowRFC3339()
	id := idgen.NewUUIDv7()
	c := &model.Constraint{
		ConstraintID:  id,
		Family:        family,
		Kind:          kind,
		Scope:         scope,
		PayloadJSON:   payload,
		PayloadDigest: idgen.Sha256Hex(canonicalPayload(payload)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.InsertConstraint(c)
	return id
}

// canonicalPayload normalizes arbitrary JSON into a stable byte
// representation so identical (family, kind, scope, payload) constraints
// always produce identical payload_digest (testable property 11).
func canonicalPayload(payload json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}

// GetConstraint returns the Constraint by ID, failing with
// ConstraintDeleted if tombstoned or a not-found error if absent.
func GetConstraint(s *store.Store, id string) (*model.Constraint, error) {
	c, ok := s.Constraints[id]
	if !ok {
		return nil, exerr.Newf(exerr.KindConstraintNotFound, "get_constraint", "constraint %s not found", id)
	}
	if c.DeletedAt != nil {
		return nil, exerr.New(exerr.KindConstraintDeleted, "get_constraint")
	}
	return c, nil
}

// UpdateConstraint partially updates a constraint's kind/scope/payload.
func UpdateConstraint(s *store.Store, id string, kind, scope *string, payload json.RawMessage) error {
	c, err := GetConstraint(s, id)
	if err != nil {
		return err
	}
	updated := *c
	if kind != nil {
		updated.Kind = *kind
	}
	if scope != nil {
		updated.Scope = *scope
	}
	if payload != nil {
		updated.PayloadJSON = payload
		updated.PayloadDigest = idgen.Sha256Hex(canonicalPayload(payload))
	}
	updated.UpdatedAt = nowRFC3339()
	s.InsertConstraint(&updated)
	return nil
}

// TombstoneConstraint marks a constraint deleted without removing it
// from storage.
func TombstoneConstraint(s *store.Store, id string) error {
	c, err := GetConstraint(s, id)
	if err != nil {
		return err
	}
	now := nowRFC3339()
	updated := *c
	updated.DeletedAt = &now
	updated.UpdatedAt = now
	s.InsertConstraint(&updated)
	return nil
}

// AttachConstraintToEP attaches constraintID to epID at the given
// ordinal, rejecting a deleted constraint, an unknown EP, or a duplicate
// attachment.
func AttachConstraintToEP(s *store.Store, epID, constraintID string, ordinal int) error {
	if _, err := GetConstraint(s, constraintID); err != nil {
		return err
	}
	if _, err := s.GetEP(epID); err != nil {
		return err
	}
	if s.IsConstraintAttachedToEP(epID, constraintID) {
		return exerr.Newf(exerr.KindConstraintAlreadyAttached, "attach_constraint_to_ep", "constraint %s already attached to ep %s", constraintID, epID).WithEP(epID)
	}
	s.AddConstraintRef(model.EPConstraintRef{
		EPID:         epID,
		ConstraintID: constraintID,
		Ordinal:      ordinal,
		CreatedAt:    nowRFC3339(),
	})
	return nil
}

// DetachConstraintFromEP removes the attachment, failing if it did not
// exist.
func DetachConstraintFromEP(s *store.Store, epID, constraintID string) error {
	if !s.IsConstraintAttachedToEP(epID, constraintID) {
		return exerr.Newf(exerr.KindConstraintNotAttached, "detach_constraint_from_ep", "constraint %s not attached to ep %s", constraintID, epID).WithEP(epID)
	}
	s.RemoveConstraintRef(epID, constraintID)
	return nil
}

// ListConstraintsForEP returns the constraints attached to epID in
// attachment-ordinal order, silently skipping any ref whose constraint
// lookup fails (mirrors original_source's tolerant lookup).
func ListConstraintsForEP(s *store.Store, epID string) []*model.Constraint {
	refs := s.ConstraintRefsForEP(epID)
	out := make([]*model.Constraint, 0, len(refs))
	for _, r := range refs {
		if c, ok := s.Constraints[r.ConstraintID]; ok {
			out = append(out, c)
		}
	}
	return out
}
