package ops_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/ops"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkChildSetsBothSides(t *testing.T) {
	s := store.New()
	parentID := seedEttle(t, s)
	parentEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	childID, err := ops.CreateEttle(s, "child", nil, "w", "w", "w")
	require.NoError(t, err)

	require.NoError(t, ops.LinkChild(s, parentEPID, childID))
	assert.Equal(t, childID, *s.EPs[parentEPID].ChildEttleID)
	assert.Equal(t, parentID, *s.Ettles[childID].ParentID)
}

func TestLinkChildRejectsWhenEPAlreadyHasChild(t *testing.T) {
	s := store.New()
	parentID := seedEttle(t, s)
	parentEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	firstChild, err := ops.CreateEttle(s, "child-1", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, parentEPID, firstChild))

	secondChild, err := ops.CreateEttle(s, "child-2", nil, "w", "w", "w")
	require.NoError(t, err)
	err = ops.LinkChild(s, parentEPID, secondChild)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEpAlreadyHasChild, exErr.Kind)
}

func TestLinkChildRejectsWhenChildAlreadyHasParent(t *testing.T) {
	s := store.New()
	parentAID := seedEttle(t, s)
	parentAEPID, err := ops.CreateEP(s, parentAID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	childID, err := ops.CreateEttle(s, "child", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, parentAEPID, childID))

	parentBID, err := ops.CreateEttle(s, "parent-b", nil, "w", "w", "w")
	require.NoError(t, err)
	parentBEPID, err := ops.CreateEP(s, parentBID, 1, false, "w", "w", "w")
	require.NoError(t, err)

	err = ops.LinkChild(s, parentBEPID, childID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindChildAlreadyHasParent, exErr.Kind)
}

func TestLinkChildDetectsCycle(t *testing.T) {
	s := store.New()
	aID := seedEttle(t, s)
	aEPID, err := ops.CreateEP(s, aID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	bID, err := ops.CreateEttle(s, "b", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, aEPID, bID))

	bEPID, err := ops.CreateEP(s, bID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	err = ops.LinkChild(s, bEPID, aID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindCycleDetected, exErr.Kind)
}

func TestLinkChildRejectsSelfParent(t *testing.T) {
	s := store.New()
	aID := seedEttle(t, s)
	aEPID, err := ops.CreateEP(s, aID, 1, false, "w", "w", "w")
	require.NoError(t, err)

	err = ops.LinkChild(s, aEPID, aID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindCycleDetected, exErr.Kind)
}

func TestUnlinkChildIsIdempotent(t *testing.T) {
	s := store.New()
	parentID := seedEttle(t, s)
	parentEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)

	require.NoError(t, ops.UnlinkChild(s, parentEPID))

	childID, err := ops.CreateEttle(s, "child", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, parentEPID, childID))
	require.NoError(t, ops.UnlinkChild(s, parentEPID))
	assert.Nil(t, s.EPs[parentEPID].ChildEttleID)
	assert.Nil(t, s.Ettles[childID].ParentID)

	require.NoError(t, ops.UnlinkChild(s, parentEPID))
}

func TestSetParentDetectsCycle(t *testing.T) {
	s := store.New()
	aID := seedEttle(t, s)
	bID, err := ops.CreateEttle(s, "b", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.SetParent(s, bID, &aID))

	err = ops.SetParent(s, aID, &bID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindCycleDetected, exErr.Kind)
}

func TestSetParentRejectsSelfParent(t *testing.T) {
	s := store.New()
	aID := seedEttle(t, s)

	err := ops.SetParent(s, aID, &aID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindCycleDetected, exErr.Kind)
}

func TestSetParentRemapsUnknownParentError(t *testing.T) {
	s := store.New()
	aID := seedEttle(t, s)
	missing := "does-not-exist"

	err := ops.SetParent(s, aID, &missing)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindParentNotFound, exErr.Kind)
}

func TestListChildrenReturnsOrdinalOrder(t *testing.T) {
	s := store.New()
	parentID := seedEttle(t, s)
	firstEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	secondEPID, err := ops.CreateEP(s, parentID, 2, false, "w", "w", "w")
	require.NoError(t, err)

	firstChild, err := ops.CreateEttle(s, "first", nil, "w", "w", "w")
	require.NoError(t, err)
	secondChild, err := ops.CreateEttle(s, "second", nil, "w", "w", "w")
	require.NoError(t, err)

	require.NoError(t, ops.LinkChild(s, secondEPID, secondChild))
	require.NoError(t, ops.LinkChild(s, firstEPID, firstChild))

	children, err := ops.ListChildren(s, parentID)
	require.NoError(t, err)
	assert.Equal(t, []string{firstChild, secondChild}, children)
}
