package rules_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/rules"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedValidTree(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	s.InsertEttle(&model.Ettle{ID: "root", Title: "root", EPIDs: []string{"ep-0"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-0", EttleID: "root", Ordinal: 0, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})
	return s
}

func TestValidateTreeAcceptsMinimalValidStore(t *testing.T) {
	s := seedValidTree(t)
	assert.NoError(t, rules.ValidateTree(s))
}

// R1: an EP claiming ettle_id = X must appear in X.EPIDs and vice versa.
func TestValidateTreeDetectsMembershipInconsistency(t *testing.T) {
	s := seedValidTree(t)
	s.InsertEP(&model.EP{ID: "ep-stray", EttleID: "root", Ordinal: 1, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})

	err := rules.ValidateTree(s)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindMembershipInconsistent, exErr.Kind)
}

// R2: ordinals must be unique among a single ettle's active EPs.
func TestValidateTreeDetectsDuplicateOrdinal(t *testing.T) {
	s := seedValidTree(t)
	root := s.Ettles["root"]
	root.EPIDs = append(root.EPIDs, "ep-dup")
	s.InsertEP(&model.EP{ID: "ep-dup", EttleID: "root", Ordinal: 0, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})

	err := rules.ValidateTree(s)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindDuplicateEpOrdinal, exErr.Kind)
}

func TestValidateTreeDetectsCycle(t *testing.T) {
	s := seedValidTree(t)
	childID := "child"
	s.InsertEttle(&model.Ettle{ID: childID, Title: "child", ParentID: strPtr("root"), EPIDs: []string{"ep-child"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-child", EttleID: childID, Ordinal: 0, Why: "w", What: "w", How: "w", ChildEttleID: strPtr("root"), CreatedAt: "t", UpdatedAt: "t"})
	rootEttle := s.Ettles["root"]
	rootEttle.ParentID = strPtr(childID)

	err := rules.ValidateTree(s)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindCycleDetected, exErr.Kind)
}

// R4: a child ettle's parent_id must be backed by exactly one active EP
// mapping that points at it.
func TestValidateTreeDetectsChildWithoutEPMapping(t *testing.T) {
	s := seedValidTree(t)
	s.InsertEttle(&model.Ettle{ID: "orphan-child", Title: "oc", ParentID: strPtr("root"), EPIDs: nil, CreatedAt: "t", UpdatedAt: "t"})

	err := rules.ValidateTree(s)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindChildWithoutEpMapping, exErr.Kind)
}

// R5: a tombstoned EP must not still carry a child mapping. childB has no
// parent_id declared, so its existence alone doesn't trip the separate
// back-mapping check (R4) — only the tombstoned-EP-with-mapping detector
// should fire.
func TestValidateTreeDetectsDeletedEPMapping(t *testing.T) {
	s := seedValidTree(t)
	s.InsertEttle(&model.Ettle{ID: "childB", Title: "childB", EPIDs: nil, CreatedAt: "t", UpdatedAt: "t"})
	root := s.Ettles["root"]
	root.EPIDs = append(root.EPIDs, "ep-mapping")
	s.InsertEP(&model.EP{ID: "ep-mapping", EttleID: "root", Ordinal: 1, Why: "w", What: "w", How: "w", ChildEttleID: strPtr("childB"), Deleted: true, CreatedAt: "t", UpdatedAt: "t"})

	err := rules.ValidateTree(s)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindMappingReferencesDeletedEp, exErr.Kind)
}

func strPtr(s string) *string { return &s }
