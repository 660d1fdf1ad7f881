// Package manifest builds the canonical SnapshotManifest JSON record and
// computes its digests, per spec.md §4.6. Grounded on
// original_source/diff/engine.rs's recompute_constraints_digest (the
// same algorithm used here to populate constraints_digest) and on
// persist.rs for the manifest_digest/semantic_manifest_digest split.
package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nickout/ettlex/internal/idgen"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
)

const storeSchemaVersion = 1
const manifestSchemaVersion = 1

// EPTEntry is one entry of the manifest's "ept" array.
type EPTEntry struct {
	EPID      string `json:"ep_id"`
	Ordinal   int    `json:"ordinal"`
	Normative bool   `json:"normative"`
	EPDigest  string `json:"ep_digest"`
}

// FamilyEntry is one family's projection within the constraints envelope.
type FamilyEntry struct {
	Status     string   `json:"status"`
	ActiveRefs []string `json:"active_refs"`
	Outcomes   []any    `json:"outcomes"`
	Evidence   []any    `json:"evidence"`
	Digest     string   `json:"digest"`
}

// ConstraintsEnvelope is the manifest's "constraints" field.
type ConstraintsEnvelope struct {
	DeclaredRefs       []string               `json:"declared_refs"`
	Families           map[string]FamilyEntry `json:"families"`
	ApplicableABB      []string               `json:"applicable_abb"`
	ResolvedSBB        []string               `json:"resolved_sbb"`
	ResolutionEvidence []any                  `json:"resolution_evidence"`
	ConstraintsDigest  string                 `json:"constraints_digest"`
}

// SnapshotManifest is the canonical JSON manifest emitted by the commit
// pipeline, in the stable field order spec.md §4.6 specifies.
type SnapshotManifest struct {
	ManifestSchemaVersion  int                 `json:"manifest_schema_version"`
	CreatedAt              string              `json:"created_at"`
	PolicyRef              string              `json:"policy_ref"`
	ProfileRef             string              `json:"profile_ref"`
	EPT                    []EPTEntry          `json:"ept"`
	Constraints            ConstraintsEnvelope `json:"constraints"`
	Coverage               json.RawMessage     `json:"coverage"`
	Exceptions             []string            `json:"exceptions"`
	RootEttleID            string              `json:"root_ettle_id"`
	EPTDigest              string              `json:"ept_digest"`
	ManifestDigest         string              `json:"manifest_digest"`
	SemanticManifestDigest string              `json:"semantic_manifest_digest"`
	StoreSchemaVersion     int                 `json:"store_schema_version"`
	SeedDigest             *string             `json:"seed_digest"`
}

// EPDigest hashes (ep_id, ordinal, normative, why, what, how,
// child_ettle_id?) joined by the ASCII unit separator (\x1f). Grounded on
// spec.md §4.6's field list, expressed as an explicit delimiter that
// ordinary text content does not contain.
func EPDigest(ep *model.EP) string {
	child := ""
	if ep.ChildEttleID != nil {
		child = *ep.ChildEttleID
	}
	payload := strings.Join([]string{
		ep.ID,
		fmt.Sprintf("%d", ep.Ordinal),
		fmt.Sprintf("%t", ep.Normative),
		ep.Why, ep.What, ep.How, child,
	}, "\x1f")
	return idgen.Sha256Hex([]byte(payload))
}

// EPTDigest hashes the EP IDs joined by newline, per spec.md §4.6.
func EPTDigest(epIDs []string) string {
	return idgen.Sha256Hex([]byte(strings.Join(epIDs, "\n")))
}

// ConstraintsDigest hashes the canonical JSON array
// [declared_refs, [(family, family_digest), ...]] with families in
// lexicographic order. internal/diff does not import this function; its
// recomputeConstraintsDigest is a separate copy of the same algorithm.
func ConstraintsDigest(declaredRefs []string, families map[string]FamilyEntry) string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]string{name, families[name].Digest})
	}

	refs := append([]string(nil), declaredRefs...)
	sort.Strings(refs)

	buf, _ := json.Marshal([]any{refs, pairs})
	return idgen.Sha256Hex(buf)
}

// BuildInput carries everything the manifest builder needs beyond what
// it can derive from the Store itself.
type BuildInput struct {
	RootEttleID string
	EPTIDs      []string
	PolicyRef   string
	ProfileRef  string
	Coverage    json.RawMessage
	Exceptions  []string
	SeedDigest  *string
}

// Build composes a SnapshotManifest from the given EPT over store s. It
// does not set CreatedAt/ManifestDigest/SemanticManifestDigest — callers
// may set CreatedAt and then call Finalize, which stamps CreatedAt when it
// is still empty and computes both digests, since ManifestDigest depends
// on the serialized bytes including CreatedAt.
func Build(s *store.Store, in BuildInput) (*SnapshotManifest, error) {
	entries := make([]EPTEntry, 0, len(in.EPTIDs))
	declaredSet := map[string]bool{}
	families := map[string]FamilyEntry{}

	for _, epID := range in.EPTIDs {
		ep, ok := s.EPs[epID]
		if !ok {
			continue
		}
		entries = append(entries, EPTEntry{
			EPID:      ep.ID,
			Ordinal:   ep.Ordinal,
			Normative: ep.Normative,
			EPDigest:  EPDigest(ep),
		})

		for _, ref := range s.ConstraintRefsForEP(epID) {
			c, ok := s.Constraints[ref.ConstraintID]
			if !ok || c.DeletedAt != nil {
				continue
			}
			declaredSet[c.ConstraintID] = true
			fam := families[c.Family]
			fam.ActiveRefs = append(fam.ActiveRefs, c.ConstraintID)
			families[c.Family] = fam
		}
	}

	declaredRefs := make([]string, 0, len(declaredSet))
	for id := range declaredSet {
		declaredRefs = append(declaredRefs, id)
	}
	sort.Strings(declaredRefs)

	for name, fam := range families {
		sort.Strings(fam.ActiveRefs)
		fam.Status = "declared"
		if fam.Outcomes == nil {
			fam.Outcomes = []any{}
		}
		if fam.Evidence == nil {
			fam.Evidence = []any{}
		}
		digestPayload, _ := json.Marshal(fam.ActiveRefs)
		fam.Digest = idgen.Sha256Hex(digestPayload)
		families[name] = fam
	}

	exceptions := in.Exceptions
	if exceptions == nil {
		exceptions = []string{}
	}
	coverage := in.Coverage
	if coverage == nil {
		coverage = json.RawMessage(`{}`)
	}

	envelope := ConstraintsEnvelope{
		DeclaredRefs:       declaredRefs,
		Families:           families,
		ApplicableABB:      []string{},
		ResolvedSBB:        []string{},
		ResolutionEvidence: []any{},
	}
	envelope.ConstraintsDigest = ConstraintsDigest(declaredRefs, families)

	epIDs := make([]string, len(entries))
	for i, e := range entries {
		epIDs[i] = e.EPID
	}

	return &SnapshotManifest{
		ManifestSchemaVersion: manifestSchemaVersion,
		PolicyRef:             in.PolicyRef,
		ProfileRef:            in.ProfileRef,
		EPT:                   entries,
		Constraints:           envelope,
		Coverage:              coverage,
		Exceptions:            exceptions,
		RootEttleID:           in.RootEttleID,
		EPTDigest:             EPTDigest(epIDs),
		StoreSchemaVersion:    storeSchemaVersion,
		SeedDigest:            in.SeedDigest,
	}, nil
}

// Finalize stamps CreatedAt (if not already set) and computes
// SemanticManifestDigest (hash excluding created_at) then ManifestDigest
// (hash of the serialized manifest including created_at, taken while
// manifest_digest itself is still empty). The returned bytes carry that
// ManifestDigest, so they hash to a different value than ManifestDigest.
func Finalize(m *SnapshotManifest) ([]byte, error) {
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	semanticCopy := *m
	semanticCopy.CreatedAt = ""
	semanticCopy.ManifestDigest = ""
	semanticCopy.SemanticManifestDigest = ""
	semBytes, err := json.Marshal(&semanticCopy)
	if err != nil {
		return nil, err
	}
	m.SemanticManifestDigest = idgen.Sha256Hex(semBytes)

	m.ManifestDigest = ""
	full, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	m.ManifestDigest = idgen.Sha256Hex(full)

	return json.Marshal(m)
}
