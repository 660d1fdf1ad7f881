package traversal_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
	"github.com/nickout/ettlex/internal/traversal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func seedChain(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	s.InsertEttle(&model.Ettle{ID: "root", Title: "root", EPIDs: []string{"root-ep0", "root-ep1"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "root-ep0", EttleID: "root", Ordinal: 0, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "root-ep1", EttleID: "root", Ordinal: 1, Why: "w", What: "w", How: "w", ChildEttleID: strPtr("child"), CreatedAt: "t", UpdatedAt: "t"})

	s.InsertEttle(&model.Ettle{ID: "child", Title: "child", ParentID: strPtr("root"), EPIDs: []string{"child-ep0"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "child-ep0", EttleID: "child", Ordinal: 0, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})
	return s
}

func TestRTReturnsRootFirstChain(t *testing.T) {
	s := seedChain(t)
	chain, err := traversal.RT(s, "child")
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "child"}, chain)
}

func TestRTFailsOnBrokenParentChain(t *testing.T) {
	s := seedChain(t)
	child := s.Ettles["child"]
	child.ParentID = strPtr("ghost")

	_, err := traversal.RT(s, "child")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindRtParentChainBroken, exErr.Kind)
}

func TestEPTWalksMappingEPsThenLeafEP0(t *testing.T) {
	s := seedChain(t)
	ept, err := traversal.EPT(s, "child", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"root-ep1", "child-ep0"}, ept)
}

func TestEPTFailsOnMissingMapping(t *testing.T) {
	s := seedChain(t)
	root := s.Ettles["root"]
	rootEP1 := *s.EPs["root-ep1"]
	rootEP1.ChildEttleID = nil
	s.InsertEP(&rootEP1)
	_ = root

	_, err := traversal.EPT(s, "child", nil)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEptMissingMapping, exErr.Kind)
}

func TestEPTFailsOnAmbiguousLeafEPWithoutOrdinal(t *testing.T) {
	s := seedChain(t)
	s.InsertEP(&model.EP{ID: "child-ep1", EttleID: "child", Ordinal: 1, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})
	child := s.Ettles["child"]
	child.EPIDs = append(child.EPIDs, "child-ep1")

	_, err := traversal.EPT(s, "child", nil)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEptAmbiguousLeafEp, exErr.Kind)
}

func TestEPTSelectsExplicitLeafOrdinal(t *testing.T) {
	s := seedChain(t)
	s.InsertEP(&model.EP{ID: "child-ep1", EttleID: "child", Ordinal: 1, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})
	child := s.Ettles["child"]
	child.EPIDs = append(child.EPIDs, "child-ep1")

	ordinal := 1
	ept, err := traversal.EPT(s, "child", &ordinal)
	require.NoError(t, err)
	assert.Equal(t, []string{"root-ep1", "child-ep1"}, ept)
}

func TestEPTFailsOnUnknownExplicitLeafOrdinal(t *testing.T) {
	s := seedChain(t)
	missing := 99
	_, err := traversal.EPT(s, "child", &missing)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEptLeafEpNotFound, exErr.Kind)
}
