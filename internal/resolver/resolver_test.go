package resolver_test

import (
	"testing"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveZeroOrOneCandidateAlwaysResolves(t *testing.T) {
	res, err := resolver.Resolve(nil, resolver.FailFast, "family", nil)
	require.NoError(t, err)
	assert.Equal(t, resolver.StatusResolved, res.Status)
	assert.Empty(t, res.SelectedID)

	res, err = resolver.Resolve([]string{"c1"}, resolver.FailFast, "family", nil)
	require.NoError(t, err)
	assert.Equal(t, resolver.StatusResolved, res.Status)
	assert.Equal(t, "c1", res.SelectedID)
}

func TestResolveFailFastOnAmbiguity(t *testing.T) {
	_, err := resolver.Resolve([]string{"c2", "c1"}, resolver.FailFast, "family", nil)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindAmbiguousSelection, exErr.Kind)
}

func TestResolveChooseDeterministicPicksLexicographicallySmallest(t *testing.T) {
	res, err := resolver.Resolve([]string{"c2", "c1", "c3"}, resolver.ChooseDeterministic, "family", nil)
	require.NoError(t, err)
	assert.Equal(t, resolver.StatusResolved, res.Status)
	assert.Equal(t, "c1", res.SelectedID)
}

func TestResolveRouteForApprovalWithoutRouterFails(t *testing.T) {
	_, err := resolver.Resolve([]string{"c1", "c2"}, resolver.RouteForApproval, "family", nil)
	require.Error(t, err)
	var exErr *exerr.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, exerr.KindApprovalRoutingUnavailable, exErr.Kind)
}

type fakeRouter struct {
	token string
	err   error
}

func (f fakeRouter) Route(string, []string) (string, error) { return f.token, f.err }

func TestResolveRouteForApprovalDelegatesToRouter(t *testing.T) {
	res, err := resolver.Resolve([]string{"c1", "c2"}, resolver.RouteForApproval, "family", fakeRouter{token: "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, resolver.StatusRoutedForApproval, res.Status)
	assert.Equal(t, "tok-1", res.ApprovalToken)
}

func TestSQLiteApprovalRouterPersistsRowAndWritesCAS(t *testing.T) {
	var captured model.ApprovalRequest
	router := resolver.SQLiteApprovalRouter{
		CAS: fakeCAS{},
		InsertRow: func(row model.ApprovalRequest) error {
			captured = row
			return nil
		},
	}

	token, err := router.Route("constraint.family", []string{"c2", "c1"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, token, captured.ApprovalToken)
	assert.Equal(t, "constraint.family", captured.ReasonCode)
	assert.Equal(t, model.ApprovalPending, captured.Status)
	require.NotNil(t, captured.RequestDigest)
	assert.NotEmpty(t, *captured.RequestDigest)
}

type fakeCAS struct{}

func (fakeCAS) Write(data []byte, hint string) (string, error) { return "digest-" + hint, nil }
func (fakeCAS) Read(digest string) ([]byte, error)             { return nil, nil }
