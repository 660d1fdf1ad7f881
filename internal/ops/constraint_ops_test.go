package ops_test

import (
	"encoding/json"
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/ops"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// property 11: identical (family, kind, scope, payload) inputs always
// produce the same payload_digest, regardless of key order in the raw
// JSON.
func TestCreateConstraintPayloadDigestIsCanonical(t *testing.T) {
	s := store.New()
	idA := ops.CreateConstraint(s, "safety", "rule", "ep", json.RawMessage(`{"a":1,"b":2}`))
	idB := ops.CreateConstraint(s, "safety", "rule", "ep", json.RawMessage(`{"b":2,"a":1}`))

	assert.Equal(t, s.Constraints[idA].PayloadDigest, s.Constraints[idB].PayloadDigest)
}

func TestAttachConstraintToEPRejectsDuplicateAttachment(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	epID, err := ops.CreateEP(s, ettleID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	constraintID := ops.CreateConstraint(s, "safety", "rule", "ep", json.RawMessage(`{}`))

	require.NoError(t, ops.AttachConstraintToEP(s, epID, constraintID, 0))
	err = ops.AttachConstraintToEP(s, epID, constraintID, 1)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindConstraintAlreadyAttached, exErr.Kind)
}

func TestGetConstraintReturnsNotFoundKindForUnknownID(t *testing.T) {
	s := store.New()
	_, err := ops.GetConstraint(s, "no-such-constraint")
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindConstraintNotFound, exErr.Kind)
}

func TestDetachConstraintFromEPFailsWithNotAttachedKindWhenAbsent(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	epID, err := ops.CreateEP(s, ettleID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	constraintID := ops.CreateConstraint(s, "safety", "rule", "ep", json.RawMessage(`{}`))

	err = ops.DetachConstraintFromEP(s, epID, constraintID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindConstraintNotAttached, exErr.Kind)
}

func TestGetConstraintFailsOnceTombstoned(t *testing.T) {
	s := store.New()
	constraintID := ops.CreateConstraint(s, "safety", "rule", "ep", json.RawMessage(`{}`))
	require.NoError(t, ops.TombstoneConstraint(s, constraintID))

	_, err := ops.GetConstraint(s, constraintID)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindConstraintDeleted, exErr.Kind)
}

func TestDetachConstraintFromEPRemovesRef(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	epID, err := ops.CreateEP(s, ettleID, 1, false, "w", "w", "w")
	require.NoError(t, err)
	constraintID := ops.CreateConstraint(s, "safety", "rule", "ep", json.RawMessage(`{}`))
	require.NoError(t, ops.AttachConstraintToEP(s, epID, constraintID, 0))

	require.NoError(t, ops.DetachConstraintFromEP(s, epID, constraintID))
	assert.Empty(t, ops.ListConstraintsForEP(s, epID))
}
