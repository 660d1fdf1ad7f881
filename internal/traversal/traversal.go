// Package traversal computes the Refinement Traversal (RT) and EP
// Traversal (EPT) over a store.Store, per spec.md §4.5.
package traversal

import (
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/store"
)

// RT walks parent_id upward from leafEttleID and returns the chain
// [root, ..., leaf]. Fails with RtParentChainBroken on a missing or
// tombstoned ancestor.
func RT(s *store.Store, leafEttleID string) ([]string, error) {
	chain := []string{}
	current := leafEttleID
	for {
		if _, err := s.GetEttle(current); err != nil {
			return nil, exerr.New(exerr.KindRtParentChainBroken, "rt").WithEttle(current)
		}
		chain = append(chain, current)
		node := s.Ettles[current]
		if node.ParentID == nil {
			break
		}
		current = *node.ParentID
	}
	// reverse into root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// EPT computes the ordered EP chain along the RT from root to
// leafEttleID: the mapping EP of each parent along the RT, root first,
// then the leaf's sole active EP (its EP0) or the EP at the explicitly
// selected leafOrdinal. For each hop, the parent's mapping EP
// is found by scanning its active EPs for child_ettle_id == next ettle;
// zero matches is EptMissingMapping, more than one is
// EptDuplicateMapping. If the leaf has more than one active EP and no
// ordinal was given, EptAmbiguousLeafEp; a given ordinal not present on
// the leaf is EptLeafEpNotFound.
func EPT(s *store.Store, leafEttleID string, leafOrdinal *int) ([]string, error) {
	rt, err := RT(s, leafEttleID)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rt))
	for i := 0; i < len(rt)-1; i++ {
		parentID, childID := rt[i], rt[i+1]
		active := s.ActiveEPs(parentID)
		var matches []string
		for _, ep := range active {
			if ep.ChildEttleID != nil && *ep.ChildEttleID == childID {
				matches = append(matches, ep.ID)
			}
		}
		switch len(matches) {
		case 0:
			return nil, exerr.New(exerr.KindEptMissingMapping, "ept").WithEttle(parentID)
		case 1:
			out = append(out, matches[0])
		default:
			return nil, exerr.New(exerr.KindEptDuplicateMapping, "ept").WithEttle(parentID)
		}
	}

	leafActive := s.ActiveEPs(leafEttleID)
	if leafOrdinal == nil {
		if len(leafActive) == 0 {
			return nil, exerr.New(exerr.KindEptMissingMapping, "ept").WithEttle(leafEttleID)
		}
		if len(leafActive) > 1 {
			return nil, exerr.New(exerr.KindEptAmbiguousLeafEp, "ept").WithEttle(leafEttleID)
		}
		out = append(out, leafActive[0].ID)
		return out, nil
	}

	for _, ep := range leafActive {
		if ep.Ordinal == *leafOrdinal {
			out = append(out, ep.ID)
			return out, nil
		}
	}
	return nil, exerr.New(exerr.KindEptLeafEpNotFound, "ept").WithEttle(leafEttleID).WithOrdinal(*leafOrdinal)
}
