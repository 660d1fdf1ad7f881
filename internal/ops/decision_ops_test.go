package ops_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/ops"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDecisionRejectsBlankRequiredFields(t *testing.T) {
	s := store.New()
	_, err := ops.CreateDecision(s, ops.CreateDecisionInput{
		Title: "", Status: "proposed", DecisionText: "x", Rationale: "y",
		EvidenceKind: model.EvidenceNone,
	})
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindInvalidDecision, exErr.Kind)
}

func TestCreateDecisionRequiresExcerptForEvidenceExcerpt(t *testing.T) {
	s := store.New()
	_, err := ops.CreateDecision(s, ops.CreateDecisionInput{
		Title: "t", Status: "proposed", DecisionText: "x", Rationale: "y",
		EvidenceKind: model.EvidenceExcerpt,
	})
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindInvalidEvidence, exErr.Kind)
}

func TestCreateDecisionWithCaptureEvidenceRequiresStoredItem(t *testing.T) {
	s := store.New()
	missing := "does-not-exist"
	_, err := ops.CreateDecision(s, ops.CreateDecisionInput{
		Title: "t", Status: "proposed", DecisionText: "x", Rationale: "y",
		EvidenceKind: model.EvidenceCapture, EvidenceCaptureID: &missing,
	})
	require.Error(t, err)

	captureID := ops.CreateEvidenceItem(s, "chat", "some captured text")
	id, err := ops.CreateDecision(s, ops.CreateDecisionInput{
		Title: "t", Status: "proposed", DecisionText: "x", Rationale: "y",
		EvidenceKind: model.EvidenceCapture, EvidenceCaptureID: &captureID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, s.Decisions[id].EvidenceHash)
}

func TestUpdateDecisionRejectsOnceTombstoned(t *testing.T) {
	s := store.New()
	id, err := ops.CreateDecision(s, ops.CreateDecisionInput{
		Title: "t", Status: "proposed", DecisionText: "x", Rationale: "y",
		EvidenceKind: model.EvidenceNone,
	})
	require.NoError(t, err)
	require.NoError(t, ops.TombstoneDecision(s, id))

	newStatus := "accepted"
	err = ops.UpdateDecision(s, id, ops.UpdateDecisionInput{Status: &newStatus})
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindDecisionTombstoned, exErr.Kind)
}

func TestCreateDecisionLinkRejectsDuplicate(t *testing.T) {
	s := store.New()
	ettleID := seedEttle(t, s)
	id, err := ops.CreateDecision(s, ops.CreateDecisionInput{
		Title: "t", Status: "proposed", DecisionText: "x", Rationale: "y",
		EvidenceKind: model.EvidenceNone,
	})
	require.NoError(t, err)

	require.NoError(t, ops.CreateDecisionLink(s, id, model.TargetEttle, ettleID, "relates_to", 0))
	err = ops.CreateDecisionLink(s, id, model.TargetEttle, ettleID, "relates_to", 1)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindDuplicateDecisionLink, exErr.Kind)
}

func TestUpdateDecisionReturnsNotFoundKindForUnknownID(t *testing.T) {
	s := store.New()
	newStatus := "accepted"
	err := ops.UpdateDecision(s, "no-such-decision", ops.UpdateDecisionInput{Status: &newStatus})
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindDecisionNotFound, exErr.Kind)
}

func TestCreateDecisionLinkRejectsInvalidTargetKind(t *testing.T) {
	s := store.New()
	id, err := ops.CreateDecision(s, ops.CreateDecisionInput{
		Title: "t", Status: "proposed", DecisionText: "x", Rationale: "y",
		EvidenceKind: model.EvidenceNone,
	})
	require.NoError(t, err)

	err = ops.CreateDecisionLink(s, id, model.DecisionTargetKind("bogus"), "x", "relates_to", 0)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindInvalidTargetKind, exErr.Kind)
}
