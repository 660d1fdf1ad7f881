package rules

import (
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/store"
)

// FindMultipleParents returns child ettle IDs pointed at by active EPs
// belonging to more than one distinct owning (parent) ettle — the case
// spec.md's check 5 calls "no ettle mapped by two active EPs of different
// parents", distinct from FindDuplicateChildMappings' same-or-different-
// parent count.
func FindMultipleParents(s *store.Store) []string {
	owners := map[string]map[string]bool{}
	for _, ep := range s.ListEPs() {
		if ep.Deleted || ep.ChildEttleID == nil {
			continue
		}
		if owners[*ep.ChildEttleID] == nil {
			owners[*ep.ChildEttleID] = map[string]bool{}
		}
		owners[*ep.ChildEttleID][ep.EttleID] = true
	}
	var out []string
	for child, set := range owners {
		if len(set) > 1 {
			out = append(out, child)
		}
	}
	return out
}

// ValidateTree runs the seven fixed-order structural checks over store s
// and returns the first failure as a typed *exerr.Error, or nil if every
// check passes. Grounded on spec.md §4.4; the combining order itself is
// authored from the spec's explicit seven-step list since the filtered
// original_source set did not retain the Rust combinator function, only
// the individual detectors it calls.
func ValidateTree(s *store.Store) error {
	// 1. Referential: every EP ID in any ep_ids exists, and every EP's
	// ettle_id exists.
	if refs := FindUnknownEPRefs(s); len(refs) > 0 {
		return exerr.New(exerr.KindEpListContainsUnknownId, "validate_tree").WithEttle(refs[0].EttleID)
	}
	if orphans := FindEPOrphans(s); len(orphans) > 0 {
		return exerr.New(exerr.KindEpOwnershipPointsToUnknownEttle, "validate_tree").WithEP(orphans[0])
	}

	// 2. Bidirectional membership (R1).
	if bad := FindMembershipInconsistencies(s); len(bad) > 0 {
		return exerr.New(exerr.KindMembershipInconsistent, "validate_tree").WithEP(bad[0])
	}

	// 3. Deterministic active-EP ordering (R3): ordinals of active EPs
	// within one ettle must be unique.
	if dups := FindDuplicateOrdinals(s); len(dups) > 0 {
		return exerr.New(exerr.KindDuplicateEpOrdinal, "validate_tree").WithEttle(dups[0].EttleID).WithOrdinal(dups[0].Ordinal)
	}

	// 4. Parent-chain integrity: no broken links, no orphans.
	if orphans := FindOrphans(s); len(orphans) > 0 {
		return exerr.New(exerr.KindOrphanedEttle, "validate_tree").WithEttle(orphans[0])
	}
	if HasCycle(s) {
		return exerr.New(exerr.KindCycleDetected, "validate_tree")
	}

	// 5. Single-parent: no ettle mapped by two active EPs of different
	// parents.
	if multi := FindMultipleParents(s); len(multi) > 0 {
		return exerr.New(exerr.KindMultipleParents, "validate_tree").WithEttle(multi[0])
	}

	// 6. Refinement mapping (R4): children without a back-mapping,
	// duplicate mappings to one child, EPs pointing at a nonexistent
	// child.
	if missing := FindChildrenWithoutEPMapping(s); len(missing) > 0 {
		return exerr.New(exerr.KindChildWithoutEpMapping, "validate_tree").WithEttle(missing[0])
	}
	if dup := FindDuplicateChildMappings(s); len(dup) > 0 {
		return exerr.New(exerr.KindChildReferencedByMultipleEps, "validate_tree").WithEttle(dup[0])
	}
	if bad := FindEPsWithNonexistentChildren(s); len(bad) > 0 {
		return exerr.New(exerr.KindEpReferencesNonExistentChild, "validate_tree").WithEP(bad[0])
	}

	// 7. Deletion safety: no active EP maps to a tombstoned child; no
	// tombstoned EP still has a mapping.
	if bad := FindDeletedChildMappings(s); len(bad) > 0 {
		return exerr.New(exerr.KindMappingReferencesDeletedChild, "validate_tree").WithEP(bad[0])
	}
	if bad := FindDeletedEPMappings(s); len(bad) > 0 {
		return exerr.New(exerr.KindMappingReferencesDeletedEp, "validate_tree").WithEP(bad[0])
	}

	return nil
}
