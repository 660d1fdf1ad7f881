// Package rules implements the structural validators and invariant
// detectors that run over a store.Store: the seven-check validate_tree
// combinator (spec.md §4.4) and the individual detector functions it is
// built from, each grounded on original_source's rules/invariants.rs.
package rules

import "github.com/nickout/ettlex/internal/store"

// HasCycle walks the parent chain upward from every ettle via a DFS and
// reports whether a cycle exists anywhere in the parent relation. It
// stops silently (treats the chain as acyclic from that point) if it
// encounters a missing ancestor, matching original_source's tolerant
// walk — broken chains are a separate detector's concern (FindOrphans).
func HasCycle(s *store.Store) bool {
	for _, e := range s.ListEttles() {
		visited := map[string]bool{e.ID: true}
		current := e.ParentID
		for current != nil {
			if visited[*current] {
				return true
			}
			visited[*current] = true
			node, ok := s.Ettles[*current]
			if !ok {
				break
			}
			current = node.ParentID
		}
	}
	return false
}

// FindOrphans returns the IDs of ettles whose parent_id points at a
// non-existent ettle.
func FindOrphans(s *store.Store) []string {
	var out []string
	for _, e := range s.ListEttles() {
		if e.ParentID == nil {
			continue
		}
		if _, ok := s.Ettles[*e.ParentID]; !ok {
			out = append(out, e.ID)
		}
	}
	return out
}

// FindChildrenWithoutEPMapping returns the IDs of ettles that declare a
// parent_id but for which no active EP of that parent points back at
// them (a broken R4 back-link).
func FindChildrenWithoutEPMapping(s *store.Store) []string {
	var out []string
	for _, e := range s.ListEttles() {
		if e.ParentID == nil {
			continue
		}
		mapped := false
		for _, ep := range s.ActiveEPs(*e.ParentID) {
			if ep.ChildEttleID != nil && *ep.ChildEttleID == e.ID {
				mapped = true
				break
			}
		}
		if !mapped {
			out = append(out, e.ID)
		}
	}
	return out
}

// OrdinalPair identifies a duplicate-ordinal offense.
type OrdinalPair struct {
	EttleID string
	Ordinal int
}

// FindDuplicateOrdinals returns (ettle, ordinal) pairs where more than
// one active EP of that ettle shares the ordinal (R2 violation).
func FindDuplicateOrdinals(s *store.Store) []OrdinalPair {
	var out []OrdinalPair
	for _, e := range s.ListEttles() {
		seen := map[int]int{}
		for _, ep := range s.ActiveEPs(e.ID) {
			seen[ep.Ordinal]++
		}
		for ord, count := range seen {
			if count > 1 {
				out = append(out, OrdinalPair{EttleID: e.ID, Ordinal: ord})
			}
		}
	}
	return out
}

// FindDuplicateChildMappings returns child ettle IDs pointed at by more
// than one active EP (R4: at most one active EP may point at any given
// child).
func FindDuplicateChildMappings(s *store.Store) []string {
	counts := map[string]int{}
	for _, ep := range s.ListEPs() {
		if ep.Deleted || ep.ChildEttleID == nil {
			continue
		}
		counts[*ep.ChildEttleID]++
	}
	var out []string
	for child, n := range counts {
		if n > 1 {
			out = append(out, child)
		}
	}
	return out
}

// FindEPsWithNonexistentChildren returns EP IDs whose child_ettle_id
// points at an ettle that does not exist in storage at all.
func FindEPsWithNonexistentChildren(s *store.Store) []string {
	var out []string
	for _, ep := range s.ListEPs() {
		if ep.ChildEttleID == nil {
			continue
		}
		if !s.EttleExistsInStorage(*ep.ChildEttleID) {
			out = append(out, ep.ID)
		}
	}
	return out
}

// FindMembershipInconsistencies returns EP IDs for which R1 fails: the EP
// claims ettle_id = X but X.ep_ids does not list it, or vice versa.
func FindMembershipInconsistencies(s *store.Store) []string {
	var out []string
	for _, ep := range s.ListEPs() {
		owner, ok := s.Ettles[ep.EttleID]
		if !ok {
			continue // covered by FindEPsWithUnknownEttle
		}
		found := false
		for _, id := range owner.EPIDs {
			if id == ep.ID {
				found = true
				break
			}
		}
		if !found {
			out = append(out, ep.ID)
		}
	}
	for _, e := range s.ListEttles() {
		for _, epID := range e.EPIDs {
			ep, ok := s.EPs[epID]
			if !ok {
				continue // covered by FindUnknownEPRefs
			}
			if ep.EttleID != e.ID {
				out = append(out, ep.ID)
			}
		}
	}
	return out
}

// FindEPOrphans returns EP IDs whose owning ettle does not exist at all.
func FindEPOrphans(s *store.Store) []string {
	var out []string
	for _, ep := range s.ListEPs() {
		if !s.EttleExistsInStorage(ep.EttleID) {
			out = append(out, ep.ID)
		}
	}
	return out
}

// FindUnknownEPRefs returns (ettle, ep_id) references in an ettle's
// ep_ids slice that do not resolve to any EP in storage.
func FindUnknownEPRefs(s *store.Store) []OrdinalPair {
	var out []OrdinalPair
	for _, e := range s.ListEttles() {
		for i, epID := range e.EPIDs {
			if !s.EPExistsInStorage(epID) {
				out = append(out, OrdinalPair{EttleID: e.ID, Ordinal: i})
			}
		}
	}
	return out
}

// FindEPsWithUnknownEttle is an alias detector name from the original for
// the EP→ettle direction of FindEPOrphans, kept distinct because the
// seven-check validator references both directions independently.
func FindEPsWithUnknownEttle(s *store.Store) []string { return FindEPOrphans(s) }

// FindDeletedEPMappings returns EP IDs that are tombstoned but still
// carry a non-nil child_ettle_id (R5: a tombstoned mapping EP must not
// still have a mapping).
func FindDeletedEPMappings(s *store.Store) []string {
	var out []string
	for _, ep := range s.ListEPs() {
		if ep.Deleted && ep.ChildEttleID != nil {
			out = append(out, ep.ID)
		}
	}
	return out
}

// FindDeletedChildMappings returns EP IDs whose child_ettle_id points at
// a child ettle that is itself tombstoned (R5: no active EP may map to a
// deleted child).
func FindDeletedChildMappings(s *store.Store) []string {
	var out []string
	for _, ep := range s.ListEPs() {
		if ep.Deleted || ep.ChildEttleID == nil {
			continue
		}
		child, ok := s.Ettles[*ep.ChildEttleID]
		if ok && child.Deleted {
			out = append(out, ep.ID)
		}
	}
	return out
}
