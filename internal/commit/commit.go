// Package commit implements the ten-stage snapshot commit pipeline
// (spec.md §4.8). Stages 6-10 (head check, manifest build, idempotency,
// dry-run, atomic persist) are grounded on
// original_source/ettlex-store/src/snapshot/persist.rs::commit_snapshot;
// stages 1-5 (policy hook, leaf resolution, profile resolution, EPT
// computation, constraint resolution) extend that tail with the
// upstream work the distilled Rust function assumed had already run.
package commit

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/nickout/ettlex/internal/cas"
	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
	"github.com/nickout/ettlex/internal/manifest"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/resolver"
	"github.com/nickout/ettlex/internal/store"
	"github.com/nickout/ettlex/internal/telemetry"
	"github.com/nickout/ettlex/internal/traversal"
)

// CommitPolicyHook may veto a commit before any other stage runs.
type CommitPolicyHook interface {
	Check(leafEPID string) error
}

// NoopCommitPolicyHook never vetoes.
type NoopCommitPolicyHook struct{}

func (NoopCommitPolicyHook) Check(string) error { return nil }

// DenyAllCommitPolicyHook vetoes every commit; useful for drills and
// tests that must prove stage 1 runs before any other work.
type DenyAllCommitPolicyHook struct{}

func (DenyAllCommitPolicyHook) Check(string) error {
	return exerr.New(exerr.KindPolicyDenied, "commit.policy_hook")
}

// Ledger is the narrow persistence capability the pipeline's tail stages
// need: current head lookup, idempotent-duplicate lookup, and the atomic
// insert. storagesql supplies the production implementation; tests can
// supply an in-memory fake.
type Ledger interface {
	CurrentHead(rootEttleID string) (*string, error)
	BySemanticDigest(digest string) (*model.SnapshotRow, error)
	Insert(row model.SnapshotRow) error
	// CommitSnapshot re-verifies expectedHead and the semantic-digest
	// idempotency check inside one transaction before inserting row, so
	// two racing commits against the same root can't both pass stage 6's
	// fast head check and fork the ledger. It returns the existing row
	// instead of inserting when semanticDigest was already committed.
	CommitSnapshot(ctx context.Context, rootEttleID string, expectedHead *string, semanticDigest string, row model.SnapshotRow) (*model.SnapshotRow, error)
}

// Options mirrors spec.md's snapshot_commit options.
type Options struct {
	ExpectedHead *string
	DryRun       bool
}

// ConstraintResolution describes what the ambiguity policy did for each
// constraint family encountered while walking the EPT, surfaced on both
// the dry-run path and a routed commit.
type ConstraintResolution struct {
	Family   string
	Status   resolver.Status
	Selected string
	Token    string
}

// Result mirrors spec.md's SnapshotCommitResult, extended with the
// RoutedForApproval short-circuit payload.
type Result struct {
	SnapshotID             string
	ManifestDigest         string
	SemanticManifestDigest string
	WasDuplicate           bool
	HeadAfter              string
	ConstraintResolution   []ConstraintResolution
	RoutedApprovalToken    string // set when a family routed for approval
}

// Deps bundles the pipeline's external capabilities.
type Deps struct {
	Store     *store.Store
	Ledger    Ledger
	CAS       cas.Store
	Policy    CommitPolicyHook
	Router    resolver.ApprovalRouter
	PolicyRef string
}

// Commit runs the ten ordered stages against leafEPID. profileRef of nil
// selects the default profile.
func Commit(deps Deps, leafEPID string, profileRef *string, opts Options) (result Result, err error) {
	ctx, span := telemetry.StartOp(context.Background(), "commit.commit")
	defer func() {
		telemetry.Metrics.CommitCount.Add(ctx, 1)
		telemetry.EndSpan(span, err)
	}()

	// 1. Policy hook.
	if deps.Policy != nil {
		if err := deps.Policy.Check(leafEPID); err != nil {
			return Result{}, err
		}
	}

	// 2. Leaf resolution.
	leaf, err := deps.Store.GetEP(leafEPID)
	if err != nil {
		return Result{}, err
	}
	if leaf.ChildEttleID != nil {
		if _, cerr := deps.Store.GetEttle(*leaf.ChildEttleID); cerr == nil {
			return Result{}, exerr.New(exerr.KindNotALeaf, "commit.leaf_resolution").WithEP(leafEPID)
		}
	}

	// 3. Profile resolution.
	profile, ambiguityPolicy, predicateEnabled, err := resolveProfile(deps.Store, profileRef)
	if err != nil {
		return Result{}, err
	}

	// 4. EPT computation.
	ept, err := traversal.EPT(deps.Store, leaf.EttleID, &leaf.Ordinal)
	if err != nil {
		return Result{}, err
	}

	// 5. Constraint resolution.
	resolutions, routed, err := resolveConstraints(deps.Store, ept, ambiguityPolicy, deps.Router)
	if err != nil {
		return Result{}, err
	}
	if routed != "" {
		return Result{
			ConstraintResolution: resolutions,
			RoutedApprovalToken:  routed,
		}, nil
	}

	rootID, err := rootOf(deps.Store, leaf.EttleID)
	if err != nil {
		return Result{}, err
	}

	// 6. Head check (fast path; re-verified atomically inside stage 10's
	// transaction, which is authoritative against concurrent committers).
	currentHead, err := deps.Ledger.CurrentHead(rootID)
	if err != nil {
		return Result{}, err
	}
	if opts.ExpectedHead != nil {
		if currentHead == nil || *currentHead != *opts.ExpectedHead {
			return Result{}, exerr.New(exerr.KindHeadMismatch, "commit.head_check").WithEttle(rootID)
		}
	}

	// 7. Manifest build.
	profileRefStr := ""
	if profile != nil {
		profileRefStr = profile.ProfileRef
	}
	coverage := json.RawMessage(`{}`)
	_ = predicateEnabled // reserved for future predicate evaluation (spec.md §4.6)

	m, err := manifest.Build(deps.Store, manifest.BuildInput{
		RootEttleID: rootID,
		EPTIDs:      ept,
		PolicyRef:   deps.PolicyRef,
		ProfileRef:  profileRefStr,
		Coverage:    coverage,
	})
	if err != nil {
		return Result{}, err
	}
	bytes, err := manifest.Finalize(m)
	if err != nil {
		return Result{}, err
	}

	// 8. Idempotency check (fast path; re-verified atomically in stage 10).
	if existing, err := deps.Ledger.BySemanticDigest(m.SemanticManifestDigest); err != nil {
		return Result{}, err
	} else if existing != nil {
		telemetry.Metrics.CommitDuplicates.Add(ctx, 1)
		return Result{
			SnapshotID:             existing.SnapshotID,
			ManifestDigest:         existing.ManifestDigest,
			SemanticManifestDigest: existing.SemanticManifestDigest,
			WasDuplicate:           true,
			HeadAfter:              existing.ManifestDigest,
			ConstraintResolution:   resolutions,
		}, nil
	}

	// 9. Dry-run short-circuit.
	if opts.DryRun {
		return Result{
			ManifestDigest:         m.ManifestDigest,
			SemanticManifestDigest: m.SemanticManifestDigest,
			ConstraintResolution:   resolutions,
		}, nil
	}

	// 10. Persist atomically: write the manifest blob to CAS (content-
	// addressed, safe to redo), then begin a transaction that re-checks
	// the head and the idempotency key and inserts the ledger row, so a
	// concurrent committer against the same root can't slip in between
	// stage 6's fast check and this write and fork the ledger.
	casDigest, err := deps.CAS.Write(bytes, "manifest")
	if err != nil {
		return Result{}, err
	}
	snapshotID := idgen.NewUUIDv7()
	row := model.SnapshotRow{
		SnapshotID:             snapshotID,
		RootEttleID:            rootID,
		ManifestDigest:         casDigest,
		SemanticManifestDigest: m.SemanticManifestDigest,
		PolicyRef:              deps.PolicyRef,
		ProfileRef:             profileRefStr,
		Status:                 "committed",
		CreatedAt:              m.CreatedAt,
	}
	existing, err := deps.Ledger.CommitSnapshot(ctx, rootID, opts.ExpectedHead, m.SemanticManifestDigest, row)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		telemetry.Metrics.CommitDuplicates.Add(ctx, 1)
		return Result{
			SnapshotID:             existing.SnapshotID,
			ManifestDigest:         existing.ManifestDigest,
			SemanticManifestDigest: existing.SemanticManifestDigest,
			WasDuplicate:           true,
			HeadAfter:              existing.ManifestDigest,
			ConstraintResolution:   resolutions,
		}, nil
	}

	return Result{
		SnapshotID:             snapshotID,
		ManifestDigest:         casDigest,
		SemanticManifestDigest: m.SemanticManifestDigest,
		HeadAfter:              casDigest,
		ConstraintResolution:   resolutions,
	}, nil
}

func resolveProfile(s *store.Store, profileRef *string) (*model.Profile, resolver.AmbiguityPolicy, bool, error) {
	var p *model.Profile
	if profileRef == nil {
		refs := make([]string, 0, len(s.Profiles))
		for ref := range s.Profiles {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		for _, ref := range refs {
			if candidate := s.Profiles[ref]; candidate.IsDefault {
				p = candidate
				break
			}
		}
		if p == nil {
			return nil, "", false, exerr.New(exerr.KindProfileDefaultMissing, "commit.profile_resolution")
		}
	} else {
		found, ok := s.Profiles[*profileRef]
		if !ok {
			return nil, "", false, exerr.New(exerr.KindProfileNotFound, "commit.profile_resolution").WithMessage(*profileRef)
		}
		p = found
	}

	var payload struct {
		PredicateEvaluationEnabled *bool  `json:"predicate_evaluation_enabled"`
		AmbiguityPolicy            string `json:"ambiguity_policy"`
	}
	if len(p.PayloadJSON) > 0 {
		if err := json.Unmarshal(p.PayloadJSON, &payload); err != nil {
			return nil, "", false, exerr.New(exerr.KindInternal, "commit.profile_resolution").WithMessage(err.Error()).WithCause(err)
		}
	}
	predicateEnabled := true
	if payload.PredicateEvaluationEnabled != nil {
		predicateEnabled = *payload.PredicateEvaluationEnabled
	}
	policy := resolver.FailFast
	if payload.AmbiguityPolicy != "" {
		policy = resolver.AmbiguityPolicy(payload.AmbiguityPolicy)
	}
	return p, policy, predicateEnabled, nil
}

func resolveConstraints(s *store.Store, ept []string, policy resolver.AmbiguityPolicy, router resolver.ApprovalRouter) ([]ConstraintResolution, string, error) {
	byFamily := map[string]map[string]bool{}
	for _, epID := range ept {
		for _, ref := range s.ConstraintRefsForEP(epID) {
			c, ok := s.Constraints[ref.ConstraintID]
			if !ok || c.DeletedAt != nil {
				continue
			}
			if byFamily[c.Family] == nil {
				byFamily[c.Family] = map[string]bool{}
			}
			byFamily[c.Family][c.ConstraintID] = true
		}
	}

	families := make([]string, 0, len(byFamily))
	for family := range byFamily {
		families = append(families, family)
	}
	sort.Strings(families)

	var out []ConstraintResolution
	for _, family := range families {
		set := byFamily[family]
		candidates := make([]string, 0, len(set))
		for id := range set {
			candidates = append(candidates, id)
		}
		sort.Strings(candidates)
		res, err := resolver.Resolve(candidates, policy, family, router)
		if err != nil {
			return nil, "", err
		}
		out = append(out, ConstraintResolution{
			Family:   family,
			Status:   res.Status,
			Selected: res.SelectedID,
			Token:    res.ApprovalToken,
		})
		if res.Status == resolver.StatusRoutedForApproval {
			return out, res.ApprovalToken, nil
		}
	}
	return out, "", nil
}

func rootOf(s *store.Store, ettleID string) (string, error) {
	rt, err := traversal.RT(s, ettleID)
	if err != nil {
		return "", err
	}
	return rt[0], nil
}
