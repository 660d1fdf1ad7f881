// Package diff implements the pure snapshot diff engine: ComputeDiff(a,
// b []byte) -> SnapshotDiff (spec.md §4.9). Grounded 1:1 on
// original_source/ettlex-core/src/diff/engine.rs, translated from its
// Rust struct/match idiom into Go structs and early returns.
package diff

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
)

// Classification is the top-level verdict of a diff.
type Classification string

const (
	ClassificationIdentical       Classification = "Identical"
	ClassificationNoSemanticChange Classification = "NoSemanticChange"
	ClassificationChanged         Classification = "Changed"
)

// Severity orders None < Informational < Semantic < Breaking.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInformational
	SeveritySemantic
	SeverityBreaking
)

func (s Severity) String() string {
	switch s {
	case SeverityInformational:
		return "Informational"
	case SeveritySemantic:
		return "Semantic"
	case SeverityBreaking:
		return "Breaking"
	default:
		return "None"
	}
}

// MarshalJSON renders Severity as its name, not its ordinal.
func (s Severity) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON parses the name MarshalJSON renders, the inverse of
// String(). Needed for ComputeDiff's own round-trip determinism check.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "Informational":
		*s = SeverityInformational
	case "Semantic":
		*s = SeveritySemantic
	case "Breaking":
		*s = SeverityBreaking
	default:
		*s = SeverityNone
	}
	return nil
}

var knownFields = map[string]bool{
	"manifest_schema_version": true, "created_at": true, "policy_ref": true,
	"profile_ref": true, "ept": true, "constraints": true, "coverage": true,
	"exceptions": true, "root_ettle_id": true, "ept_digest": true,
	"manifest_digest": true, "semantic_manifest_digest": true,
	"store_schema_version": true, "seed_digest": true,
}

type parsedManifest struct {
	ManifestSchemaVersion  int             `json:"manifest_schema_version"`
	PolicyRef              string          `json:"policy_ref"`
	ProfileRef             string          `json:"profile_ref"`
	EPT                    []eptEntry      `json:"ept"`
	Constraints            envelope        `json:"constraints"`
	Coverage               json.RawMessage `json:"coverage"`
	Exceptions             []string        `json:"exceptions"`
	ManifestDigest         string          `json:"manifest_digest"`
	SemanticManifestDigest string          `json:"semantic_manifest_digest"`
	EPTDigest              string          `json:"ept_digest"`
	StoreSchemaVersion     int             `json:"store_schema_version"`
}

type eptEntry struct {
	EPID     string `json:"ep_id"`
	EPDigest string `json:"ep_digest"`
}

type familyEntry struct {
	Digest string `json:"digest"`
}

type envelope struct {
	DeclaredRefs      []string               `json:"declared_refs"`
	Families          map[string]familyEntry `json:"families"`
	ApplicableABB     []string               `json:"applicable_abb"`
	ResolvedSBB       []string               `json:"resolved_sbb"`
	ConstraintsDigest string                 `json:"constraints_digest"`
}

// parseManifestBytes decodes raw manifest bytes into both a typed
// parsedManifest and the raw json.RawMessage map, so unknown top-level
// fields can be detected without a second parse.
func parseManifestBytes(data []byte) (parsedManifest, map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return parsedManifest{}, nil, exerr.New(exerr.KindInvalidManifest, "diff.parse").WithMessage(err.Error())
	}

	if sv, ok := raw["manifest_schema_version"]; ok {
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(sv))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return parsedManifest{}, nil, exerr.New(exerr.KindInvalidManifest, "diff.parse").WithMessage("manifest_schema_version must be an integer")
		}
		if _, err := n.Int64(); err != nil {
			return parsedManifest{}, nil, exerr.New(exerr.KindInvalidManifest, "diff.parse").WithMessage("manifest_schema_version must be an integer")
		}
	}

	if _, ok := raw["semantic_manifest_digest"]; !ok {
		return parsedManifest{}, nil, exerr.New(exerr.KindMissingField, "diff.parse").WithMessage("semantic_manifest_digest")
	}
	if _, ok := raw["constraints"]; !ok {
		return parsedManifest{}, nil, exerr.New(exerr.KindMissingField, "diff.parse").WithMessage("constraints")
	}

	var m parsedManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return parsedManifest{}, nil, exerr.New(exerr.KindInvalidManifest, "diff.parse").WithMessage(err.Error())
	}
	return m, raw, nil
}

// Identity carries both sides' top-level digests for quick reference.
type Identity struct {
	AManifestDigest         string `json:"a_manifest_digest"`
	ASemanticManifestDigest string `json:"a_semantic_manifest_digest"`
	AEPTDigest              string `json:"a_ept_digest"`
	BManifestDigest         string `json:"b_manifest_digest"`
	BSemanticManifestDigest string `json:"b_semantic_manifest_digest"`
	BEPTDigest              string `json:"b_ept_digest"`
}

type EPTChanges struct {
	Changed         bool     `json:"changed"`
	AddedEPs        []string `json:"added_eps"`
	RemovedEPs      []string `json:"removed_eps"`
	OrderingChanged bool     `json:"ordering_changed"`
}

type EPContentChanges struct {
	ChangedEPs []string `json:"changed_eps"`
}

type DeclaredRefChanges struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type FamilyDiffEntry struct {
	Added         bool    `json:"added"`
	Removed       bool    `json:"removed"`
	DigestChanged bool    `json:"digest_changed"`
	OldDigest     *string `json:"old_digest"`
	NewDigest     *string `json:"new_digest"`
}

type AbbSbbProjectionChanges struct {
	AbbAdded   []string `json:"abb_added"`
	AbbRemoved []string `json:"abb_removed"`
	SbbAdded   []string `json:"sbb_added"`
	SbbRemoved []string `json:"sbb_removed"`
}

type DigestChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type ConstraintChanges struct {
	DeclaredRefChanges      DeclaredRefChanges         `json:"declared_ref_changes"`
	FamilyChanges           map[string]FamilyDiffEntry `json:"family_changes"`
	AbbSbbProjectionChanges AbbSbbProjectionChanges    `json:"abb_sbb_projection_changes"`
	ConstraintsDigestChange *DigestChange              `json:"constraints_digest_change"`
}

type CoverageChanges struct {
	Changed  bool            `json:"changed"`
	OldValue json.RawMessage `json:"old_value"`
	NewValue json.RawMessage `json:"new_value"`
}

type ExceptionChanges struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type MetadataFieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

type MetadataChanges struct {
	ChangedFields map[string]MetadataFieldChange `json:"changed_fields"`
}

type UnknownChanges struct {
	AddedFields   []string `json:"added_fields"`
	RemovedFields []string `json:"removed_fields"`
	ChangedFields []string `json:"changed_fields"`
}

type InvariantViolation struct {
	Which    string `json:"which"`
	Computed string `json:"computed"`
	Recorded string `json:"recorded"`
}

// SnapshotDiff is the canonical, deterministic diff between two manifests.
type SnapshotDiff struct {
	DiffSchemaVersion    int                  `json:"diff_schema_version"`
	Identity             Identity             `json:"identity"`
	Classification       Classification       `json:"classification"`
	Severity             Severity             `json:"severity"`
	EPTChanges           EPTChanges           `json:"ept_changes"`
	EPContentChanges     EPContentChanges     `json:"ep_content_changes"`
	ConstraintChanges    ConstraintChanges    `json:"constraint_changes"`
	CoverageChanges      CoverageChanges      `json:"coverage_changes"`
	ExceptionChanges     ExceptionChanges     `json:"exception_changes"`
	MetadataChanges      MetadataChanges      `json:"metadata_changes"`
	UnknownChanges       UnknownChanges       `json:"unknown_changes"`
	InvariantViolations  []InvariantViolation `json:"invariant_violations"`
}

func identityOf(a, b parsedManifest) Identity {
	return Identity{
		AManifestDigest:         a.ManifestDigest,
		ASemanticManifestDigest: a.SemanticManifestDigest,
		AEPTDigest:              a.EPTDigest,
		BManifestDigest:         b.ManifestDigest,
		BSemanticManifestDigest: b.SemanticManifestDigest,
		BEPTDigest:              b.EPTDigest,
	}
}

func emptyDiff(classification Classification, identity Identity, aCoverage, bCoverage json.RawMessage) SnapshotDiff {
	return SnapshotDiff{
		DiffSchemaVersion: 1,
		Identity:          identity,
		Classification:    classification,
		Severity:          SeverityNone,
		EPTChanges:        EPTChanges{},
		EPContentChanges:  EPContentChanges{},
		ConstraintChanges: ConstraintChanges{
			FamilyChanges: map[string]FamilyDiffEntry{},
		},
		CoverageChanges: CoverageChanges{OldValue: aCoverage, NewValue: bCoverage},
		MetadataChanges: MetadataChanges{ChangedFields: map[string]MetadataFieldChange{}},
	}
}

func setDelta(a, b []string) (added, removed []string) {
	setA := map[string]bool{}
	for _, s := range a {
		setA[s] = true
	}
	setB := map[string]bool{}
	for _, s := range b {
		setB[s] = true
	}
	for _, s := range b {
		if !setA[s] {
			added = append(added, s)
		}
	}
	for _, s := range a {
		if !setB[s] {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// recomputeConstraintsDigest mirrors manifest.ConstraintsDigest so the
// diff engine can detect envelope/digest disagreements without importing
// the manifest package (which would create a build dependency the pure
// diff function doesn't otherwise need); the algorithm is intentionally
// identical.
func recomputeConstraintsDigest(env envelope) string {
	names := make([]string, 0, len(env.Families))
	for name := range env.Families {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([][2]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]string{name, env.Families[name].Digest})
	}
	refs := append([]string(nil), env.DeclaredRefs...)
	sort.Strings(refs)
	buf, _ := json.Marshal([]any{refs, pairs})
	return idgen.Sha256Hex(buf)
}

func checkEnvelopeInvariants(which string, m parsedManifest, violations *[]InvariantViolation) {
	computed := recomputeConstraintsDigest(m.Constraints)
	if computed != m.Constraints.ConstraintsDigest {
		*violations = append(*violations, InvariantViolation{
			Which: which, Computed: computed, Recorded: m.Constraints.ConstraintsDigest,
		})
	}
}

func maxSeverity(sevs ...Severity) Severity {
	max := SeverityNone
	for _, s := range sevs {
		if s > max {
			max = s
		}
	}
	return max
}

// ComputeDiff is the pure entry point: compute_diff(a_bytes, b_bytes).
func ComputeDiff(aBytes, bBytes []byte) (SnapshotDiff, error) {
	a, aRaw, err := parseManifestBytes(aBytes)
	if err != nil {
		return SnapshotDiff{}, err
	}
	b, bRaw, err := parseManifestBytes(bBytes)
	if err != nil {
		return SnapshotDiff{}, err
	}

	identity := identityOf(a, b)

	if bytes.Equal(aBytes, bBytes) {
		return emptyDiff(ClassificationIdentical, identity, a.Coverage, a.Coverage), nil
	}
	if a.SemanticManifestDigest == b.SemanticManifestDigest {
		return emptyDiff(ClassificationNoSemanticChange, identity, a.Coverage, b.Coverage), nil
	}

	var violations []InvariantViolation
	checkEnvelopeInvariants("a", a, &violations)
	checkEnvelopeInvariants("b", b, &violations)

	aEPIDs := make([]string, len(a.EPT))
	for i, e := range a.EPT {
		aEPIDs[i] = e.EPID
	}
	bEPIDs := make([]string, len(b.EPT))
	for i, e := range b.EPT {
		bEPIDs[i] = e.EPID
	}
	eptAdded, eptRemoved := setDelta(aEPIDs, bEPIDs)

	sameSet := len(eptAdded) == 0 && len(eptRemoved) == 0
	orderingChanged := sameSet && !stringsEqual(aEPIDs, bEPIDs)
	eptStructurallyChanged := len(eptAdded) > 0 || len(eptRemoved) > 0

	eptChanges := EPTChanges{
		Changed:         eptStructurallyChanged || orderingChanged,
		AddedEPs:        eptAdded,
		RemovedEPs:      eptRemoved,
		OrderingChanged: orderingChanged,
	}

	aDigests := map[string]string{}
	for _, e := range a.EPT {
		aDigests[e.EPID] = e.EPDigest
	}
	bDigests := map[string]string{}
	for _, e := range b.EPT {
		bDigests[e.EPID] = e.EPDigest
	}
	var changedEPs []string
	for epID, aDigest := range aDigests {
		if bDigest, ok := bDigests[epID]; ok && bDigest != aDigest {
			changedEPs = append(changedEPs, epID)
		}
	}
	sort.Strings(changedEPs)
	epContentChanges := EPContentChanges{ChangedEPs: changedEPs}

	declAdded, declRemoved := setDelta(a.Constraints.DeclaredRefs, b.Constraints.DeclaredRefs)

	familyChanges := map[string]FamilyDiffEntry{}
	allFamilies := map[string]bool{}
	for name := range a.Constraints.Families {
		allFamilies[name] = true
	}
	for name := range b.Constraints.Families {
		allFamilies[name] = true
	}
	for family := range allFamilies {
		af, aOK := a.Constraints.Families[family]
		bf, bOK := b.Constraints.Families[family]
		switch {
		case !aOK && bOK:
			d := bf.Digest
			familyChanges[family] = FamilyDiffEntry{Added: true, DigestChanged: true, NewDigest: &d}
		case aOK && !bOK:
			d := af.Digest
			familyChanges[family] = FamilyDiffEntry{Removed: true, DigestChanged: true, OldDigest: &d}
		case aOK && bOK:
			if af.Digest != bf.Digest {
				oldD, newD := af.Digest, bf.Digest
				familyChanges[family] = FamilyDiffEntry{DigestChanged: true, OldDigest: &oldD, NewDigest: &newD}
			}
		}
	}

	abbAdded, abbRemoved := setDelta(a.Constraints.ApplicableABB, b.Constraints.ApplicableABB)
	sbbAdded, sbbRemoved := setDelta(a.Constraints.ResolvedSBB, b.Constraints.ResolvedSBB)

	var constraintsDigestChange *DigestChange
	if a.Constraints.ConstraintsDigest != b.Constraints.ConstraintsDigest {
		constraintsDigestChange = &DigestChange{Old: a.Constraints.ConstraintsDigest, New: b.Constraints.ConstraintsDigest}
	}

	constraintChanges := ConstraintChanges{
		DeclaredRefChanges: DeclaredRefChanges{Added: declAdded, Removed: declRemoved},
		FamilyChanges:      familyChanges,
		AbbSbbProjectionChanges: AbbSbbProjectionChanges{
			AbbAdded: abbAdded, AbbRemoved: abbRemoved, SbbAdded: sbbAdded, SbbRemoved: sbbRemoved,
		},
		ConstraintsDigestChange: constraintsDigestChange,
	}

	coverageChanged := !bytes.Equal(a.Coverage, b.Coverage)
	coverageChanges := CoverageChanges{Changed: coverageChanged, OldValue: a.Coverage, NewValue: b.Coverage}

	excAdded, excRemoved := setDelta(a.Exceptions, b.Exceptions)
	exceptionChanges := ExceptionChanges{Added: excAdded, Removed: excRemoved}

	changedFields := map[string]MetadataFieldChange{}
	addMetaChange := func(name string, oldV, newV any) {
		if oldV != newV {
			changedFields[name] = MetadataFieldChange{Old: oldV, New: newV}
		}
	}
	addMetaChange("policy_ref", a.PolicyRef, b.PolicyRef)
	addMetaChange("profile_ref", a.ProfileRef, b.ProfileRef)
	addMetaChange("store_schema_version", a.StoreSchemaVersion, b.StoreSchemaVersion)
	addMetaChange("manifest_schema_version", a.ManifestSchemaVersion, b.ManifestSchemaVersion)
	metadataChanges := MetadataChanges{ChangedFields: changedFields}

	aUnknown := map[string]bool{}
	for k := range aRaw {
		if !knownFields[k] {
			aUnknown[k] = true
		}
	}
	bUnknown := map[string]bool{}
	for k := range bRaw {
		if !knownFields[k] {
			bUnknown[k] = true
		}
	}
	var unkAdded, unkRemoved, unkChanged []string
	for k := range bUnknown {
		if !aUnknown[k] {
			unkAdded = append(unkAdded, k)
		}
	}
	for k := range aUnknown {
		if !bUnknown[k] {
			unkRemoved = append(unkRemoved, k)
		}
	}
	for k := range aUnknown {
		if bUnknown[k] && !bytes.Equal(aRaw[k], bRaw[k]) {
			unkChanged = append(unkChanged, k)
		}
	}
	sort.Strings(unkAdded)
	sort.Strings(unkRemoved)
	sort.Strings(unkChanged)
	unknownChanges := UnknownChanges{AddedFields: unkAdded, RemovedFields: unkRemoved, ChangedFields: unkChanged}

	var severities []Severity
	if eptStructurallyChanged {
		severities = append(severities, SeverityBreaking)
	}
	if orderingChanged {
		severities = append(severities, SeveritySemantic)
	}
	if len(changedEPs) > 0 {
		severities = append(severities, SeveritySemantic)
	}
	hasConstraintChanges := len(declAdded) > 0 || len(declRemoved) > 0 || len(familyChanges) > 0 ||
		len(abbAdded) > 0 || len(abbRemoved) > 0 || len(sbbAdded) > 0 || len(sbbRemoved) > 0 ||
		constraintsDigestChange != nil
	if hasConstraintChanges {
		severities = append(severities, SeveritySemantic)
	}
	if coverageChanged {
		severities = append(severities, SeverityInformational)
	}
	if len(excAdded) > 0 || len(excRemoved) > 0 {
		severities = append(severities, SeverityInformational)
	}
	if len(changedFields) > 0 {
		severities = append(severities, SeverityInformational)
	}
	if len(unkAdded) > 0 || len(unkRemoved) > 0 || len(unkChanged) > 0 {
		severities = append(severities, SeverityInformational)
	}
	severity := maxSeverity(severities...)

	result := SnapshotDiff{
		DiffSchemaVersion:   1,
		Identity:            identity,
		Classification:      ClassificationChanged,
		Severity:            severity,
		EPTChanges:          eptChanges,
		EPContentChanges:    epContentChanges,
		ConstraintChanges:   constraintChanges,
		CoverageChanges:      coverageChanges,
		ExceptionChanges:    exceptionChanges,
		MetadataChanges:     metadataChanges,
		UnknownChanges:      unknownChanges,
		InvariantViolations: violations,
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		return SnapshotDiff{}, exerr.New(exerr.KindDeterminismViolation, "diff.compute").WithMessage(err.Error())
	}
	var reparsed SnapshotDiff
	if err := json.Unmarshal(serialized, &reparsed); err != nil {
		return SnapshotDiff{}, exerr.New(exerr.KindDeterminismViolation, "diff.compute").WithMessage(err.Error())
	}
	reserialized, err := json.Marshal(reparsed)
	if err != nil || !bytes.Equal(serialized, reserialized) {
		return SnapshotDiff{}, exerr.New(exerr.KindDeterminismViolation, "diff.compute").WithMessage("diff is not deterministic: round-trip produced different bytes")
	}

	return result, nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
