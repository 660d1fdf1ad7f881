package ops

import (
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
)

// CreateEP creates a new, non-EP0 EP under ettleID. Ordinal 0 is
// reserved for create_ettle's EP0 mint; duplicate or tombstoned-reused
// ordinals are rejected, as is an empty-after-trim what/how.
func CreateEP(s *store.Store, ettleID string, ordinal int, normative bool, why, what, how string) (string, error) {
	e, err := s.GetEttle(ettleID)
	if err != nil {
		return "", err
	}
	if ordinal == 0 {
		return "", exerr.New(exerr.KindOrdinalAlreadyExists, "create_ep").WithEttle(ettleID).WithOrdinal(0)
	}
	if trimmedEmpty(what) {
		return "", exerr.New(exerr.KindInvalidWhat, "create_ep").WithEttle(ettleID)
	}
	if trimmedEmpty(how) {
		return "", exerr.New(exerr.KindInvalidHow, "create_ep").WithEttle(ettleID)
	}
	for _, id := range e.EPIDs {
		existing, ok := s.EPs[id]
		if !ok {
			continue
		}
		if existing.Ordinal != ordinal {
			continue
		}
		if existing.Deleted {
			return "", exerr.New(exerr.KindEpOrdinalReuseForbidden, "create_ep").WithEttle(ettleID).WithOrdinal(ordinal)
		}
		return "", exerr.New(exerr.KindDuplicateEpOrdinal, "create_ep").WithEttle(ettleID).WithOrdinal(ordinal)
	}

	now := nowRFC3339()
	epID := idgen.NewUUIDv7()
	ep := &model.EP{
		ID:        epID,
		EttleID:   ettleID,
		Ordinal:   ordinal,
		Normative: normative,
		Why:       why,
		What:      what,
		How:       how,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.InsertEP(ep)

	updatedEttle := *e
	updatedEttle.EPIDs = append(append([]string(nil), e.EPIDs...), epID)
	updatedEttle.UpdatedAt = now
	s.InsertEttle(&updatedEttle)
	return epID, nil
}

// UpdateEP partially updates an EP: nil means "don't change". Ordinal is
// never updatable via this path.
func UpdateEP(s *store.Store, id string, why, what, how *string, normative *bool) error {
	ep, err := s.GetEP(id)
	if err != nil {
		return err
	}
	updated := *ep
	if ep.Ordinal != 0 {
		if what != nil && trimmedEmpty(*what) {
			return exerr.New(exerr.KindInvalidWhat, "update_ep").WithEP(id)
		}
		if how != nil && trimmedEmpty(*how) {
			return exerr.New(exerr.KindInvalidHow, "update_ep").WithEP(id)
		}
	}
	if why != nil {
		updated.Why = *why
	}
	if what != nil {
		updated.What = *what
	}
	if how != nil {
		updated.How = *how
	}
	if normative != nil {
		updated.Normative = *normative
	}
	updated.UpdatedAt = nowRFC3339()
	s.InsertEP(&updated)
	return nil
}

// AttemptOrdinalChange always fails with OrdinalImmutable; it exists so
// apply.Apply has an explicit call site to reject any command payload
// that tries to carry a new ordinal through EpUpdate, rather than
// silently ignoring the field.
func AttemptOrdinalChange(id string) error {
	return exerr.New(exerr.KindOrdinalImmutable, "update_ep").WithEP(id)
}

// DeleteEPTombstone tombstones an EP (sets deleted = true), enforcing R5:
// EP0 may never be deleted, and an EP that is the sole active mapping to
// a child may not be deleted.
func DeleteEPTombstone(s *store.Store, id string) error {
	ep, err := s.GetEP(id)
	if err != nil {
		return err
	}
	if ep.Ordinal == 0 {
		return exerr.New(exerr.KindCannotDeleteEp0, "delete_ep").WithEP(id)
	}
	if ep.ChildEttleID != nil {
		count := mappingCount(s, ep.EttleID, *ep.ChildEttleID)
		if count <= 1 {
			return exerr.New(exerr.KindTombstoneStrandsChild, "delete_ep").WithEP(id)
		}
	}
	updated := *ep
	updated.Deleted = true
	updated.UpdatedAt = nowRFC3339()
	s.InsertEP(&updated)

	if owner, ok := s.Ettles[ep.EttleID]; ok {
		updatedOwner := *owner
		updatedOwner.UpdatedAt = nowRFC3339()
		s.InsertEttle(&updatedOwner)
	}
	return nil
}

// HardDeleteEP removes the EP from storage entirely and from the owning
// ettle's EPIDs slice, enforcing the same R5 safety checks as the
// tombstone path. Grounded 1:1 on original_source's apply.rs::
// hard_delete_ep.
func HardDeleteEP(s *store.Store, id string) error {
	ep, err := s.GetEP(id)
	if err != nil {
		return err
	}
	if ep.Ordinal == 0 {
		return exerr.New(exerr.KindCannotDeleteEp0, "delete_ep").WithEP(id)
	}
	if ep.ChildEttleID != nil {
		count := mappingCount(s, ep.EttleID, *ep.ChildEttleID)
		if count <= 1 {
			return exerr.New(exerr.KindTombstoneStrandsChild, "delete_ep").WithEP(id)
		}
	}

	owner, err := s.GetEttleRaw(ep.EttleID)
	if err != nil {
		return err
	}
	idx := -1
	for i, existing := range owner.EPIDs {
		if existing == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return exerr.New(exerr.KindDeleteReferencesMissingEpInOwningEttle, "delete_ep").WithEP(id).WithEttle(owner.ID)
	}

	delete(s.EPs, id)

	newIDs := make([]string, 0, len(owner.EPIDs)-1)
	newIDs = append(newIDs, owner.EPIDs[:idx]...)
	newIDs = append(newIDs, owner.EPIDs[idx+1:]...)
	updatedOwner := *owner
	updatedOwner.EPIDs = newIDs
	updatedOwner.UpdatedAt = nowRFC3339()
	s.InsertEttle(&updatedOwner)
	return nil
}

// mappingCount counts how many active EPs of parentEttleID point at
// childEttleID. Used to decide whether deleting a mapping EP would
// strand its child (R5).
func mappingCount(s *store.Store, parentEttleID, childEttleID string) int {
	count := 0
	for _, ep := range s.ActiveEPs(parentEttleID) {
		if ep.ChildEttleID != nil && *ep.ChildEttleID == childEttleID {
			count++
		}
	}
	return count
}
