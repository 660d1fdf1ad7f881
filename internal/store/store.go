// Package store implements the process-local, value-semantic Store
// aggregate that holds every EttleX entity in memory, addressed by
// stable ID. Callers pass a Store by ownership into apply.Apply and
// receive a new Store on success; the old value is left untouched.
package store

import (
	"sort"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
)

// Store is the in-memory aggregate of all EttleX entities. The zero value
// is not usable; construct with New.
//
// Clone copies each map and each entity value one level deep, and
// mutators replace map entries rather than mutating entity values in
// place. Store is exclusively owned by its current holder
// from the outside: a failed apply.Apply call never observes a mutated
// Store, because apply.Apply always mutates a Clone and only returns it
// on success.
type Store struct {
	Ettles             map[string]*model.Ettle
	EPs                map[string]*model.EP
	Constraints        map[string]*model.Constraint
	EPConstraintRefs    []model.EPConstraintRef
	Decisions          map[string]*model.Decision
	EvidenceItems      map[string]*model.DecisionEvidenceItem
	DecisionLinks      []model.DecisionLink
	Profiles           map[string]*model.Profile
	ApprovalRequests   map[string]*model.ApprovalRequest
}

// New returns an empty Store ready for use.
func New() *Store {
	return &Store{
		Ettles:           make(map[string]*model.Ettle),
		EPs:              make(map[string]*model.EP),
		Constraints:      make(map[string]*model.Constraint),
		Decisions:        make(map[string]*model.Decision),
		EvidenceItems:    make(map[string]*model.DecisionEvidenceItem),
		Profiles:         make(map[string]*model.Profile),
		ApprovalRequests: make(map[string]*model.ApprovalRequest),
	}
}

// Clone returns a copy of the Store: the entity maps and attachment
// slices are new containers, every entity struct is copied, and each
// Ettle's EPIDs slice is copied too. Pointer and map fields inside an
// entity (ParentID, Metadata and the like) still share their targets
// with the original. This gives apply.Apply "copy before mutate"
// semantics.
func (s *Store) Clone() *Store {
	c := &Store{
		Ettles:           make(map[string]*model.Ettle, len(s.Ettles)),
		EPs:              make(map[string]*model.EP, len(s.EPs)),
		Constraints:      make(map[string]*model.Constraint, len(s.Constraints)),
		Decisions:        make(map[string]*model.Decision, len(s.Decisions)),
		EvidenceItems:    make(map[string]*model.DecisionEvidenceItem, len(s.EvidenceItems)),
		Profiles:         make(map[string]*model.Profile, len(s.Profiles)),
		ApprovalRequests: make(map[string]*model.ApprovalRequest, len(s.ApprovalRequests)),
	}
	for k, v := range s.Ettles {
		ettle := *v
		ettle.EPIDs = append([]string(nil), v.EPIDs...)
		c.Ettles[k] = &ettle
	}
	for k, v := range s.EPs {
		ep := *v
		c.EPs[k] = &ep
	}
	for k, v := range s.Constraints {
		cc := *v
		c.Constraints[k] = &cc
	}
	for k, v := range s.Decisions {
		d := *v
		c.Decisions[k] = &d
	}
	for k, v := range s.EvidenceItems {
		e := *v
		c.EvidenceItems[k] = &e
	}
	for k, v := range s.Profiles {
		p := *v
		c.Profiles[k] = &p
	}
	for k, v := range s.ApprovalRequests {
		a := *v
		c.ApprovalRequests[k] = &a
	}
	c.EPConstraintRefs = append([]model.EPConstraintRef(nil), s.EPConstraintRefs...)
	c.DecisionLinks = append([]model.DecisionLink(nil), s.DecisionLinks...)
	return c
}

// GetEttle returns the Ettle by ID, failing with EttleDeleted if
// tombstoned or EttleNotFound if absent.
func (s *Store) GetEttle(id string) (*model.Ettle, error) {
	e, ok := s.Ettles[id]
	if !ok {
		return nil, exerr.New(exerr.KindEttleNotFound, "get_ettle").WithEttle(id)
	}
	if e.Deleted {
		return nil, exerr.New(exerr.KindEttleDeleted, "get_ettle").WithEttle(id)
	}
	return e, nil
}

// GetEttleRaw returns the Ettle regardless of tombstone state, for use by
// validators; it still fails with EttleNotFound if the ID is unknown.
func (s *Store) GetEttleRaw(id string) (*model.Ettle, error) {
	e, ok := s.Ettles[id]
	if !ok {
		return nil, exerr.New(exerr.KindEttleNotFound, "get_ettle_raw").WithEttle(id)
	}
	return e, nil
}

// EttleExistsInStorage reports whether an Ettle with the given ID exists
// at all, tombstoned or not.
func (s *Store) EttleExistsInStorage(id string) bool {
	_, ok := s.Ettles[id]
	return ok
}

// GetEP returns the EP by ID, failing with EpDeleted if tombstoned or
// EpNotFound if absent.
func (s *Store) GetEP(id string) (*model.EP, error) {
	e, ok := s.EPs[id]
	if !ok {
		return nil, exerr.New(exerr.KindEpNotFound, "get_ep").WithEP(id)
	}
	if e.Deleted {
		return nil, exerr.New(exerr.KindEpDeleted, "get_ep").WithEP(id)
	}
	return e, nil
}

// GetEPRaw returns the EP regardless of tombstone state, for use by
// validators.
func (s *Store) GetEPRaw(id string) (*model.EP, error) {
	e, ok := s.EPs[id]
	if !ok {
		return nil, exerr.New(exerr.KindEpNotFound, "get_ep_raw").WithEP(id)
	}
	return e, nil
}

// EPExistsInStorage reports whether an EP with the given ID exists at
// all, tombstoned or not.
func (s *Store) EPExistsInStorage(id string) bool {
	_, ok := s.EPs[id]
	return ok
}

// InsertEttle inserts or replaces an Ettle by ID.
func (s *Store) InsertEttle(e *model.Ettle) { s.Ettles[e.ID] = e }

// InsertEP inserts or replaces an EP by ID.
func (s *Store) InsertEP(e *model.EP) { s.EPs[e.ID] = e }

// InsertConstraint inserts or replaces a Constraint by ID.
func (s *Store) InsertConstraint(c *model.Constraint) { s.Constraints[c.ConstraintID] = c }

// InsertDecision inserts or replaces a Decision by ID.
func (s *Store) InsertDecision(d *model.Decision) { s.Decisions[d.DecisionID] = d }

// InsertProfile inserts or replaces a Profile by ref.
func (s *Store) InsertProfile(p *model.Profile) { s.Profiles[p.ProfileRef] = p }

// InsertApprovalRequest inserts or replaces an ApprovalRequest by token.
func (s *Store) InsertApprovalRequest(a *model.ApprovalRequest) {
	s.ApprovalRequests[a.ApprovalToken] = a
}

// ListEttles returns every Ettle sorted by ID for determinism.
func (s *Store) ListEttles() []*model.Ettle {
	out := make([]*model.Ettle, 0, len(s.Ettles))
	for _, e := range s.Ettles {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEPs returns every EP sorted by ID for determinism.
func (s *Store) ListEPs() []*model.EP {
	out := make([]*model.EP, 0, len(s.EPs))
	for _, e := range s.EPs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveEPs returns the active (non-tombstoned) EPs owned by the given
// ettle, ordered by ordinal ascending (R3). Ordinals are unique among
// active EPs of one ettle, so this ordering is tie-free and deterministic.
func (s *Store) ActiveEPs(ettleID string) []*model.EP {
	e, ok := s.Ettles[ettleID]
	if !ok {
		return nil
	}
	out := make([]*model.EP, 0, len(e.EPIDs))
	for _, id := range e.EPIDs {
		ep, ok := s.EPs[id]
		if !ok || ep.Deleted {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// ConstraintRefsForEP returns the attachment refs for the given EP sorted by
// ordinal.
func (s *Store) ConstraintRefsForEP(epID string) []model.EPConstraintRef {
	out := make([]model.EPConstraintRef, 0)
	for _, r := range s.EPConstraintRefs {
		if r.EPID == epID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// IsConstraintAttachedToEP reports whether the given constraint is
// already attached to the given EP.
func (s *Store) IsConstraintAttachedToEP(epID, constraintID string) bool {
	for _, r := range s.EPConstraintRefs {
		if r.EPID == epID && r.ConstraintID == constraintID {
			return true
		}
	}
	return false
}

// AddConstraintRef appends an attachment ref.
func (s *Store) AddConstraintRef(r model.EPConstraintRef) {
	s.EPConstraintRefs = append(s.EPConstraintRefs, r)
}

// RemoveConstraintRef removes the attachment ref for (epID, constraintID),
// if present.
func (s *Store) RemoveConstraintRef(epID, constraintID string) {
	out := s.EPConstraintRefs[:0]
	for _, r := range s.EPConstraintRefs {
		if r.EPID == epID && r.ConstraintID == constraintID {
			continue
		}
		out = append(out, r)
	}
	s.EPConstraintRefs = out
}
