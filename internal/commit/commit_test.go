package commit_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nickout/ettlex/internal/cas"
	"github.com/nickout/ettlex/internal/commit"
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	head    map[string]*string
	bySem   map[string]*model.SnapshotRow
	inserts []model.SnapshotRow
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{head: map[string]*string{}, bySem: map[string]*model.SnapshotRow{}}
}

func (l *fakeLedger) CurrentHead(rootEttleID string) (*string, error) { return l.head[rootEttleID], nil }
func (l *fakeLedger) BySemanticDigest(digest string) (*model.SnapshotRow, error) {
	return l.bySem[digest], nil
}
func (l *fakeLedger) Insert(row model.SnapshotRow) error {
	l.inserts = append(l.inserts, row)
	digest := row.ManifestDigest
	l.head[row.RootEttleID] = &digest
	l.bySem[row.SemanticManifestDigest] = &row
	return nil
}

func (l *fakeLedger) CommitSnapshot(_ context.Context, rootEttleID string, expectedHead *string, semanticDigest string, row model.SnapshotRow) (*model.SnapshotRow, error) {
	if existing := l.bySem[semanticDigest]; existing != nil {
		return existing, nil
	}
	currentHead := l.head[rootEttleID]
	if expectedHead != nil {
		if currentHead == nil || *currentHead != *expectedHead {
			return nil, exerr.New(exerr.KindHeadMismatch, "commit.head_check").WithEttle(rootEttleID)
		}
	}
	row.ParentSnapshotID = currentHead
	if err := l.Insert(row); err != nil {
		return nil, err
	}
	return nil, nil
}

func seedCommitStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	s.InsertEttle(&model.Ettle{ID: "root", Title: "root", EPIDs: []string{"ep-0"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-0", EttleID: "root", Ordinal: 0, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})
	s.InsertProfile(&model.Profile{ProfileRef: "default", IsDefault: true, PayloadJSON: json.RawMessage(`{"ambiguity_policy":"fail_fast"}`), CreatedAt: "t"})
	return s
}

func newDeps(t *testing.T, s *store.Store, ledger commit.Ledger) commit.Deps {
	t.Helper()
	casStore, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return commit.Deps{
		Store:     s,
		Ledger:    ledger,
		CAS:       casStore,
		Policy:    commit.NoopCommitPolicyHook{},
		PolicyRef: "policy-1",
	}
}

func TestCommitPersistsANewSnapshot(t *testing.T) {
	s := seedCommitStore(t)
	ledger := newFakeLedger()
	deps := newDeps(t, s, ledger)

	result, err := commit.Commit(deps, "ep-0", nil, commit.Options{})
	require.NoError(t, err)
	assert.False(t, result.WasDuplicate)
	assert.NotEmpty(t, result.SnapshotID)
	assert.NotEmpty(t, result.ManifestDigest)
	assert.Len(t, ledger.inserts, 1)
}

// resolveProfile must deterministically pick the same default profile
// across repeated calls even when more than one profile is marked
// default (a state nothing else in the store prevents), since map
// iteration order is otherwise randomized per process.
func TestCommitDefaultProfileSelectionIsDeterministic(t *testing.T) {
	var digests []string
	for i := 0; i < 5; i++ {
		s := seedCommitStore(t)
		s.InsertProfile(&model.Profile{ProfileRef: "another-default", IsDefault: true, PayloadJSON: json.RawMessage(`{"ambiguity_policy":"fail_fast"}`), CreatedAt: "t"})
		ledger := newFakeLedger()
		deps := newDeps(t, s, ledger)

		result, err := commit.Commit(deps, "ep-0", nil, commit.Options{})
		require.NoError(t, err)
		digests = append(digests, result.SemanticManifestDigest)
	}
	for _, d := range digests[1:] {
		assert.Equal(t, digests[0], d)
	}
}

func TestCommitIsIdempotentOnSemanticDigest(t *testing.T) {
	s := seedCommitStore(t)
	ledger := newFakeLedger()
	deps := newDeps(t, s, ledger)

	first, err := commit.Commit(deps, "ep-0", nil, commit.Options{})
	require.NoError(t, err)

	second, err := commit.Commit(deps, "ep-0", nil, commit.Options{})
	require.NoError(t, err)
	assert.True(t, second.WasDuplicate)
	assert.Equal(t, first.SnapshotID, second.SnapshotID)
	assert.Len(t, ledger.inserts, 1)
}

func TestCommitDryRunDoesNotPersist(t *testing.T) {
	s := seedCommitStore(t)
	ledger := newFakeLedger()
	deps := newDeps(t, s, ledger)

	result, err := commit.Commit(deps, "ep-0", nil, commit.Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, result.SnapshotID)
	assert.NotEmpty(t, result.ManifestDigest)
	assert.Len(t, ledger.inserts, 0)
}

func TestCommitPolicyHookVetoesBeforeAnyOtherStage(t *testing.T) {
	s := seedCommitStore(t)
	ledger := newFakeLedger()
	deps := newDeps(t, s, ledger)
	deps.Policy = commit.DenyAllCommitPolicyHook{}

	_, err := commit.Commit(deps, "ep-0", nil, commit.Options{})
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindPolicyDenied, exErr.Kind)
	assert.Len(t, ledger.inserts, 0)
}

func TestCommitRejectsNonLeafEP(t *testing.T) {
	s := seedCommitStore(t)
	childID := "child"
	s.InsertEttle(&model.Ettle{ID: childID, Title: "child", EPIDs: []string{"ep-child-0"}, CreatedAt: "t", UpdatedAt: "t"})
	s.InsertEP(&model.EP{ID: "ep-child-0", EttleID: childID, Ordinal: 0, Why: "w", What: "w", How: "w", CreatedAt: "t", UpdatedAt: "t"})
	ep0 := s.EPs["ep-0"]
	ep0.ChildEttleID = &childID

	ledger := newFakeLedger()
	deps := newDeps(t, s, ledger)

	_, err := commit.Commit(deps, "ep-0", nil, commit.Options{})
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindNotALeaf, exErr.Kind)
}

func TestCommitHeadMismatchRejected(t *testing.T) {
	s := seedCommitStore(t)
	ledger := newFakeLedger()
	deps := newDeps(t, s, ledger)

	wrongHead := "not-the-real-head"
	_, err := commit.Commit(deps, "ep-0", nil, commit.Options{ExpectedHead: &wrongHead})
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindHeadMismatch, exErr.Kind)
}
