package ops_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/ops"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEttle(t *testing.T, s *store.Store) string {
	t.Helper()
	id, err := ops.CreateEttle(s, "root", nil, "w", "w", "w")
	require.NoError(t, err)
	return id
}

func TestCreateEPRejectsOrdinalZero(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)

	_, err := ops.CreateEP(s, ettleID, 0, false, "w", "w", "w")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindOrdinalAlreadyExists, exErr.Kind)
}

func TestCreateEPRejectsDuplicateOrdinal(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	_, err := ops.CreateEP(s, ettleID, 1, false, "w", "w", "w")
	require.NoError(t, err)

	_, err = ops.CreateEP(s, ettleID, 1, false, "w2", "w2", "w2")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindDuplicateEpOrdinal, exErr.Kind)
}

// R2: a tombstoned ordinal can never be reused by a later CreateEP call.
func TestCreateEPRejectsTombstonedOrdinalReuse(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	epID, err := ops.CreateEP(s, ettleID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.DeleteEPTombstone(s, epID))

	_, err = ops.CreateEP(s, ettleID, 1, false, "w2", "w2", "w2")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindEpOrdinalReuseForbidden, exErr.Kind)
}

func TestCreateEPRejectsBlankWhatOrHow(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)

	_, err := ops.CreateEP(s, ettleID, 1, false, "w", "  ", "how")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindInvalidWhat, exErr.Kind)

	_, err = ops.CreateEP(s, ettleID, 1, false, "w", "what", "  ")
	require.Error(t, err)
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindInvalidHow, exErr.Kind)
}

func TestAttemptOrdinalChangeAlwaysFails(t *testing.T) {
	err := ops.AttemptOrdinalChange("ep-1")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindOrdinalImmutable, exErr.Kind)
}

func TestDeleteEPTombstoneRejectsEP0(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	ep0ID := s.Ettles[ettleID].EPIDs[0]

	err := ops.DeleteEPTombstone(s, ep0ID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindCannotDeleteEp0, exErr.Kind)
}

// S2: hard delete removes the EP from storage and from the owning
// ettle's EPIDs; tombstone delete retains both, only flipping Deleted.
func TestHardDeleteEPRemovesFromStorageAndEPIDs(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	epID, err := ops.CreateEP(s, ettleID, 1, false, "w", "w", "w")
	require.NoError(t, err)

	require.NoError(t, ops.HardDeleteEP(s, epID))
	_, ok := s.EPs[epID]
	assert.False(t, ok)
	assert.NotContains(t, s.Ettles[ettleID].EPIDs, epID)
}

func TestDeleteEPTombstoneRetainsRecordAndMembership(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	epID, err := ops.CreateEP(s, ettleID, 1, false, "w", "w", "w")
	require.NoError(t, err)

	require.NoError(t, ops.DeleteEPTombstone(s, epID))
	ep, ok := s.EPs[epID]
	require.True(t, ok)
	assert.True(t, ep.Deleted)
	assert.Contains(t, s.Ettles[ettleID].EPIDs, epID)
}

// S3: the sole active mapping EP for a linked child cannot be removed,
// by either deletion path, since it would strand the child.
func TestDeleteEPRejectsWhenItWouldStrandChild(t *testing.T) {
	s := store.New()
	parentID := seedEttle(t, s)
	mappingEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	childID, err := ops.CreateEttle(s, "child", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, mappingEPID, childID))

	err = ops.DeleteEPTombstone(s, mappingEPID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindTombstoneStrandsChild, exErr.Kind)

	err = ops.HardDeleteEP(s, mappingEPID)
	require.Error(t, err)
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindTombstoneStrandsChild, exErr.Kind)
}

// A second mapping EP to the same child means deleting one no longer
// strands it.
func TestDeleteEPAllowedWhenAnotherMappingRemains(t *testing.T) {
	s := store.New()
	parentID := seedEttle(t, s)
	firstEPID, err := ops.CreateEP(s, parentID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	secondEPID, err := ops.CreateEP(s, parentID, 2, false, "w", "w", "w")
	require.NoError(t, err)
	childID, err := ops.CreateEttle(s, "child", nil, "w", "w", "w")
	require.NoError(t, err)
	require.NoError(t, ops.LinkChild(s, firstEPID, childID))

	// Manually attach a second mapping without going through LinkChild's
	// "child already has a parent" guard, mirroring a pre-existing
	// multi-mapping state the validator would independently police.
	ep := *s.EPs[secondEPID]
	ep.ChildEttleID = &childID
	s.InsertEP(&ep)

	require.NoError(t, ops.DeleteEPTombstone(s, firstEPID))
}

func TestUpdateEPAppliesPartialFields(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	epID, err := ops.CreateEP(s, ettleID, 1, false, "why", "what", "how")
	require.NoError(t, err)

	newWhat := "new-what"
	require.NoError(t, ops.UpdateEP(s, epID, nil, &newWhat, nil, nil))
	ep := s.EPs[epID]
	assert.Equal(t, "new-what", ep.What)
	assert.Equal(t, "why", ep.Why)
	assert.Equal(t, "how", ep.How)
}
