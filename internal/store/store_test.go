package store_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// property 4: active EPs of one ettle are returned in deterministic
// ordinal order regardless of insertion order, with tombstoned EPs
// excluded.
func TestActiveEPsIsOrdinalOrderedAndExcludesTombstoned(t *testing.T) {
	s := store.New()
	s.InsertEttle(&model.Ettle{ID: "root", Title: "root", EPIDs: []string{"ep-2", "ep-0", "ep-1"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-0", EttleID: "root", Ordinal: 0, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-1", EttleID: "root", Ordinal: 1, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-2", EttleID: "root", Ordinal: 2, Deleted: true, CreatedAt: "t", UpdatedAt: "t"})

	active := s.ActiveEPs("root")
	require.Len(t, active, 2)
	assert.Equal(t, "ep-0", active[0].ID)
	assert.Equal(t, "ep-1", active[1].ID)
}

// Clone must produce an independent copy: mutating the clone's entities
// (via InsertEttle/InsertEP, the only mutation path ops uses) must never
// be observed on the original.
func TestCloneIsIndependentOfOriginal(t *testing.T) {
	s := store.New()
	s.InsertEttle(&model.Ettle{ID: "root", Title: "original", EPIDs: []string{"ep-0"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-0", EttleID: "root", Ordinal: 0, CreatedAt: "t", UpdatedAt: "t"})

	clone := s.Clone()
	clone.InsertEttle(&model.Ettle{ID: "root", Title: "mutated", EPIDs: []string{"ep-0", "ep-1"}, CreatedAt: "t", UpdatedAt: "t2"})
	clone.InsertEP(&model.EP{ID: "ep-1", EttleID: "root", Ordinal: 1, CreatedAt: "t", UpdatedAt: "t"})

	assert.Equal(t, "original", s.Ettles["root"].Title)
	assert.Len(t, s.Ettles["root"].EPIDs, 1)
	assert.Len(t, s.EPs, 1)

	assert.Equal(t, "mutated", clone.Ettles["root"].Title)
	assert.Len(t, clone.EPs, 2)
}

func TestConstraintRefsForEPIsOrdinalOrdered(t *testing.T) {
	s := store.New()
	s.AddConstraintRef(model.EPConstraintRef{EPID: "ep-0", ConstraintID: "c-2", Ordinal: 2, CreatedAt: "t"})
	s.AddConstraintRef(model.EPConstraintRef{EPID: "ep-0", ConstraintID: "c-0", Ordinal: 0, CreatedAt: "t"})
	s.AddConstraintRef(model.EPConstraintRef{EPID: "ep-0", ConstraintID: "c-1", Ordinal: 1, CreatedAt: "t"})

	refs := s.ConstraintRefsForEP("ep-0")
	require.Len(t, refs, 3)
	assert.Equal(t, []string{"c-0", "c-1", "c-2"}, []string{refs[0].ConstraintID, refs[1].ConstraintID, refs[2].ConstraintID})
}

func TestRemoveConstraintRefRemovesOnlyMatchingPair(t *testing.T) {
	s := store.New()
	s.AddConstraintRef(model.EPConstraintRef{EPID: "ep-0", ConstraintID: "c-0", Ordinal: 0, CreatedAt: "t"})
	s.AddConstraintRef(model.EPConstraintRef{EPID: "ep-1", ConstraintID: "c-0", Ordinal: 0, CreatedAt: "t"})

	s.RemoveConstraintRef("ep-0", "c-0")
	assert.False(t, s.IsConstraintAttachedToEP("ep-0", "c-0"))
	assert.True(t, s.IsConstraintAttachedToEP("ep-1", "c-0"))
}

func TestGetEttleDistinguishesNotFoundFromDeleted(t *testing.T) {
	s := store.New()
	s.InsertEttle(&model.Ettle{ID: "root", Title: "root", Deleted: true, CreatedAt: "t", UpdatedAt: "t"})

	_, err := s.GetEttle("missing")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEttleNotFound, exErr.Kind)

	_, err = s.GetEttle("root")
	require.Error(t, err)
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEttleDeleted, exErr.Kind)

	_, err = s.GetEttleRaw("root")
	require.NoError(t, err)
}
