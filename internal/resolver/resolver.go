// Package resolver implements candidate resolution under an
// AmbiguityPolicy (spec.md §4.7) and the ApprovalRouter capability it
// calls into on route_for_approval. Grounded on
// original_source/ettlex-store/src/profile.rs's SqliteApprovalRouter for
// the request-digest/token scheme, adapted to the narrow Go capability
// interface style internal/apply uses for AnchorPolicy.
package resolver

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/nickout/ettlex/internal/cas"
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
	"github.com/nickout/ettlex/internal/model"
)

// AmbiguityPolicy is the named strategy applied when zero, one, or many
// candidates qualify for selection.
type AmbiguityPolicy string

const (
	FailFast            AmbiguityPolicy = "fail_fast"
	ChooseDeterministic AmbiguityPolicy = "choose_deterministic"
	RouteForApproval    AmbiguityPolicy = "route_for_approval"
)

// Status is the outcome of a resolution attempt.
type Status string

const (
	StatusResolved          Status = "Resolved"
	StatusRoutedForApproval Status = "RoutedForApproval"
)

// Resolution is the result of resolving a candidate set.
type Resolution struct {
	Status        Status
	SelectedID    string // set only when Status == Resolved and len(candidates) > 0
	ApprovalToken string // set only when Status == RoutedForApproval
}

// ApprovalRouter is the single-method capability route_for_approval calls
// into. reasonCode identifies why routing was triggered (e.g. the
// constraint family); candidates is the full ambiguous set.
type ApprovalRouter interface {
	Route(reasonCode string, candidates []string) (approvalToken string, err error)
}

// NoopApprovalRouter always fails with ApprovalRoutingUnavailable, so a
// route_for_approval policy never silently succeeds when no router is
// actually wired.
type NoopApprovalRouter struct{}

func (NoopApprovalRouter) Route(string, []string) (string, error) {
	return "", exerr.New(exerr.KindApprovalRoutingUnavailable, "resolver.route")
}

// SQLiteApprovalRouter persists approval requests and, when cas is
// non-nil, writes the canonical request payload to CAS and records its
// digest. InsertRow is the persistence hook the storagesql package
// supplies; resolver itself has no SQL dependency.
type SQLiteApprovalRouter struct {
	CAS       cas.Store
	InsertRow func(row model.ApprovalRequest) error
}

// Route implements ApprovalRouter.
func (r SQLiteApprovalRouter) Route(reasonCode string, candidates []string) (string, error) {
	token := idgen.NewUUIDv7()

	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	semanticDigest := idgen.Sha256Hex([]byte(reasonCode + ":" + strings.Join(sorted, ",")))

	candidateJSON, err := json.Marshal(candidates)
	if err != nil {
		return "", exerr.Wrap("resolver.route", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	row := model.ApprovalRequest{
		ApprovalToken:         token,
		ReasonCode:            reasonCode,
		CandidateSetJSON:      candidateJSON,
		SemanticRequestDigest: semanticDigest,
		Status:                model.ApprovalPending,
		CreatedAt:             now,
	}

	if r.CAS != nil {
		payload, err := json.Marshal(map[string]any{
			"approval_token":          token,
			"reason_code":             reasonCode,
			"candidate_set_json":      string(candidateJSON),
			"semantic_request_digest": semanticDigest,
			"created_at":              now,
		})
		if err != nil {
			return "", exerr.Wrap("resolver.route", err)
		}
		digest, err := r.CAS.Write(payload, "json")
		if err != nil {
			return "", exerr.Wrap("resolver.route", err)
		}
		row.RequestDigest = &digest
	}

	if r.InsertRow != nil {
		if err := r.InsertRow(row); err != nil {
			return "", exerr.Wrap("resolver.route", err)
		}
	}

	return token, nil
}

// Resolve applies policy to candidates per spec.md §4.7's table: zero or
// one candidate always resolves without consulting policy; two or more
// requires fail_fast (error), choose_deterministic (lexicographically
// smallest), or route_for_approval (router.Route).
func Resolve(candidates []string, policy AmbiguityPolicy, reasonCode string, router ApprovalRouter) (Resolution, error) {
	switch len(candidates) {
	case 0:
		return Resolution{Status: StatusResolved}, nil
	case 1:
		return Resolution{Status: StatusResolved, SelectedID: candidates[0]}, nil
	}

	switch policy {
	case FailFast:
		return Resolution{}, exerr.New(exerr.KindAmbiguousSelection, "resolver.resolve").WithMessage(reasonCode)
	case ChooseDeterministic:
		sorted := append([]string(nil), candidates...)
		sort.Strings(sorted)
		return Resolution{Status: StatusResolved, SelectedID: sorted[0]}, nil
	case RouteForApproval:
		if router == nil {
			router = NoopApprovalRouter{}
		}
		token, err := router.Route(reasonCode, candidates)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Status: StatusRoutedForApproval, ApprovalToken: token}, nil
	default:
		return Resolution{}, exerr.Newf(exerr.KindAmbiguousSelection, "resolver.resolve", "unknown ambiguity policy %q", policy)
	}
}
