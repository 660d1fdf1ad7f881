package ops

import (
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/store"
)

// LinkChild sets child_ettle_id on parentEPID and parent_id on
// childEttleID. Rejects if the parent EP is inactive, the child already
// has a parent, the EP already has a child, or it would form a cycle.
// Grounded 1:1 on original_source's refinement_ops.rs::link_child.
func LinkChild(s *store.Store, parentEPID, childEttleID string) error {
	parentEP, err := s.GetEP(parentEPID)
	if err != nil {
		return err
	}
	active := false
	for _, ep := range s.ActiveEPs(parentEP.EttleID) {
		if ep.ID == parentEPID {
			active = true
			break
		}
	}
	if !active {
		return exerr.New(exerr.KindEpDeleted, "link_child").WithEP(parentEPID)
	}
	if parentEP.ChildEttleID != nil {
		return exerr.New(exerr.KindEpAlreadyHasChild, "link_child").WithEP(parentEPID)
	}
	child, err := s.GetEttle(childEttleID)
	if err != nil {
		return err
	}
	if child.ParentID != nil {
		return exerr.New(exerr.KindChildAlreadyHasParent, "link_child").WithEttle(childEttleID)
	}
	if parentEP.EttleID == childEttleID {
		return exerr.New(exerr.KindCycleDetected, "link_child").WithEttle(childEttleID)
	}
	cycle, err := wouldCreateCycle(s, parentEP.EttleID, childEttleID)
	if err != nil {
		return err
	}
	if cycle {
		return exerr.New(exerr.KindCycleDetected, "link_child").WithEttle(childEttleID)
	}

	now := nowRFC3339()

	updatedParentEP := *parentEP
	childID := childEttleID
	updatedParentEP.ChildEttleID = &childID
	updatedParentEP.UpdatedAt = now
	s.InsertEP(&updatedParentEP)

	updatedChild := *child
	parentEttleID := parentEP.EttleID
	updatedChild.ParentID = &parentEttleID
	updatedChild.UpdatedAt = now
	s.InsertEttle(&updatedChild)
	return nil
}

// UnlinkChild clears child_ettle_id on parentEPID and, if the child is
// still present, clears its parent_id too. Idempotent: a no-op returning
// nil if the EP has no child. Grounded 1:1 on refinement_ops.rs::
// unlink_child, including tolerance for the child having vanished.
func UnlinkChild(s *store.Store, parentEPID string) error {
	parentEP, err := s.GetEP(parentEPID)
	if err != nil {
		return err
	}
	if parentEP.ChildEttleID == nil {
		return nil
	}
	childID := *parentEP.ChildEttleID
	now := nowRFC3339()

	updatedParentEP := *parentEP
	updatedParentEP.ChildEttleID = nil
	updatedParentEP.UpdatedAt = now
	s.InsertEP(&updatedParentEP)

	if child, ok := s.Ettles[childID]; ok {
		updatedChild := *child
		updatedChild.ParentID = nil
		updatedChild.UpdatedAt = now
		s.InsertEttle(&updatedChild)
	}
	return nil
}

// SetParent performs raw reparenting of childID to parentID (or clears
// the parent if parentID is nil), with cycle detection via DFS up the
// parent chain. Grounded 1:1 on refinement_ops.rs::set_parent, including
// the EttleNotFound→ParentNotFound error remap when the parent argument
// (not the child) cannot be resolved.
func SetParent(s *store.Store, childID string, parentID *string) error {
	child, err := s.GetEttle(childID)
	if err != nil {
		return err
	}
	if parentID != nil {
		if _, err := s.GetEttle(*parentID); err != nil {
			if ae, ok := err.(*exerr.Error); ok && ae.Kind == exerr.KindEttleNotFound {
				return exerr.New(exerr.KindParentNotFound, "set_parent").WithEttle(*parentID)
			}
			return err
		}
		if *parentID == childID {
			return exerr.New(exerr.KindCycleDetected, "set_parent").WithEttle(childID)
		}
		cycle, err := wouldCreateCycle(s, *parentID, childID)
		if err != nil {
			return err
		}
		if cycle {
			return exerr.New(exerr.KindCycleDetected, "set_parent").WithEttle(childID)
		}
	}

	updated := *child
	updated.ParentID = parentID
	updated.UpdatedAt = nowRFC3339()
	s.InsertEttle(&updated)
	return nil
}

// ListChildren returns the child Ettle IDs of parentEttleID in ordinal
// order, derived from its active EPs' child_ettle_id pointers. Not named
// explicitly in spec.md's operation list but present in the original and
// needed by the query surface's relational listings.
func ListChildren(s *store.Store, parentEttleID string) ([]string, error) {
	if _, err := s.GetEttle(parentEttleID); err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, ep := range s.ActiveEPs(parentEttleID) {
		if ep.ChildEttleID != nil {
			out = append(out, *ep.ChildEttleID)
		}
	}
	return out, nil
}

// wouldCreateCycle walks from parentID upward via parent_id, returning
// true if it reaches childID. If it detects a pre-existing cycle not
// caused by this operation, it returns false silently (the cycle already
// existed and is not this operation's concern) rather than erroring.
func wouldCreateCycle(s *store.Store, parentID, childID string) (bool, error) {
	visited := map[string]bool{}
	current := parentID
	for {
		if current == childID {
			return true, nil
		}
		if visited[current] {
			return false, nil
		}
		visited[current] = true
		node, ok := s.Ettles[current]
		if !ok || node.ParentID == nil {
			return false, nil
		}
		current = *node.ParentID
	}
}
