package ops_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/ops"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEttleMintsEP0(t *testing.T) {
	s := store.New()
	id, err := ops.CreateEttle(s, "root", nil, "why", "what", "how")
	require.NoError(t, err)

	ettle, ok := s.Ettles[id]
	require.True(t, ok)
	require.Len(t, ettle.EPIDs, 1)
	ep0, ok := s.EPs[ettle.EPIDs[0]]
	require.True(t, ok)
	assert.Equal(t, 0, ep0.Ordinal)
	assert.False(t, ep0.Normative)
}

func TestCreateEttleRejectsBlankTitle(t *testing.T) {
	s := store.New()
	_, err := ops.CreateEttle(s, "   ", nil, "w", "w", "w")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindInvalidTitle, exErr.Kind)
}

func TestUpdateEttleRejectsBlankTitle(t *testing.T) {
	s := store.New()
	id, err := ops.CreateEttle(s, "root", nil, "w", "w", "w")
	require.NoError(t, err)

	blank := "   "
	err = ops.UpdateEttle(s, id, &blank, nil)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindInvalidTitle, exErr.Kind)
}

func TestDeleteEttleRejectsWhenChildLinked(t *testing.T) {
	s := store.New()
	parentID, err := ops.CreateEttle(s, "parent", nil, "w", "w", "w")
	require.NoError(t, err)
	parentEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	childID, err := ops.CreateEttle(s, "child", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, parentEPID, childID))

	err = ops.DeleteEttle(s, parentID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindDeleteWithChildren, exErr.Kind)
}

func TestDeleteEttleAllowsDeletingTheChildItself(t *testing.T) {
	s := store.New()
	parentID, err := ops.CreateEttle(s, "parent", nil, "w", "w", "w")
	require.NoError(t, err)
	parentEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	childID, err := ops.CreateEttle(s, "child", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, parentEPID, childID))

	require.NoError(t, ops.DeleteEttle(s, childID))
	assert.True(t, s.Ettles[childID].Deleted)
}

func TestDeleteEttleTombstonesWhenChildless(t *testing.T) {
	s := store.New()
	id, err := ops.CreateEttle(s, "root", nil, "w", "w", "w")
	require.NoError(t, err)

	require.NoError(t, ops.DeleteEttle(s, id))
	_, err = s.GetEttle(id)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEttleDeleted, exErr.Kind)
}
