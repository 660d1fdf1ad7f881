// Package model defines the EttleX domain entities: Ettles, Explanatory
// Points, Constraints, Decisions, Profiles, Approval requests, and the
// snapshot ledger row. Types are plain value structs; ownership and
// mutation rules live in internal/ops and internal/apply, not here.
package model

import "encoding/json"

// Ettle is a node in the refinement tree. It owns an ordered sequence of
// EP IDs; the EPs themselves live in the Store, keyed by ID.
type Ettle struct {
	ID        string
	Title     string
	ParentID  *string
	EPIDs     []string
	Metadata  map[string]json.RawMessage
	Deleted   bool
	CreatedAt string // RFC3339
	UpdatedAt string // RFC3339
}

// EP (Explanatory Point) is an ordered explanatory slot inside an Ettle.
// Ordinal 0 is EP0, minted with its Ettle and never deletable.
type EP struct {
	ID            string
	EttleID       string
	Ordinal       int
	Normative     bool
	Why           string
	What          string
	How           string
	ChildEttleID  *string
	Deleted       bool
	CreatedAt     string
	UpdatedAt     string
}

// Constraint is a family-agnostic governance rule attached to EPs via
// EPConstraintRef. Family is an open string, not an enum.
type Constraint struct {
	ConstraintID  string
	Family        string
	Kind          string
	Scope         string
	PayloadJSON   json.RawMessage
	PayloadDigest string
	CreatedAt     string
	UpdatedAt     string
	DeletedAt     *string
}

// EPConstraintRef attaches a Constraint to an EP with a deterministic
// ordinal for manifest emission.
type EPConstraintRef struct {
	EPID         string
	ConstraintID string
	Ordinal      int
	CreatedAt    string
}

// EvidenceKind enumerates the allowed evidence classifications for a
// Decision.
type EvidenceKind string

const (
	EvidenceNone    EvidenceKind = "none"
	EvidenceExcerpt EvidenceKind = "excerpt"
	EvidenceCapture EvidenceKind = "capture"
	EvidenceFile    EvidenceKind = "file"
)

// Decision is a non-snapshot-semantic governance artefact: a recorded
// rationale, optionally backed by evidence.
type Decision struct {
	DecisionID        string
	Title             string
	Status            string
	DecisionText      string
	Rationale         string
	AlternativesText  *string
	ConsequencesText  *string
	EvidenceKind      EvidenceKind
	EvidenceExcerpt   *string
	EvidenceFilePath  *string
	EvidenceCaptureID *string
	EvidenceHash      string
	CreatedAt         string
	UpdatedAt         string
	TombstonedAt      *string
}

// IsTombstoned reports whether the decision has been tombstoned.
func (d *Decision) IsTombstoned() bool { return d.TombstonedAt != nil }

// DecisionEvidenceItem stores a full captured evidence blob, keyed by its
// own ID and referenced by Decision.EvidenceCaptureID.
type DecisionEvidenceItem struct {
	EvidenceCaptureID string
	Source            string
	Content            string
	ContentHash        string
	CreatedAt          string
}

// DecisionTargetKind enumerates what a DecisionLink may point at.
type DecisionTargetKind string

const (
	TargetEP         DecisionTargetKind = "ep"
	TargetEttle      DecisionTargetKind = "ettle"
	TargetConstraint DecisionTargetKind = "constraint"
	TargetDecision   DecisionTargetKind = "decision"
)

// DecisionLink relates a Decision to another entity in the model.
type DecisionLink struct {
	DecisionID   string
	TargetKind   DecisionTargetKind
	TargetID     string
	RelationKind string
	Ordinal      int
	CreatedAt    string
	TombstonedAt *string
}

// IsTombstoned reports whether the link has been tombstoned.
func (l *DecisionLink) IsTombstoned() bool { return l.TombstonedAt != nil }

// Profile carries ambiguity-resolution and predicate-evaluation policy for
// the commit pipeline. PayloadJSON is arbitrary; only two keys are read:
// ambiguity_policy and predicate_evaluation_enabled.
type Profile struct {
	ProfileRef    string
	PayloadJSON   json.RawMessage
	IsDefault     bool
	ProfileDigest string
	CreatedAt     string
}

// ApprovalStatus enumerates the lifecycle of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest records a routed ambiguity-resolution decision awaiting
// human disposition.
type ApprovalRequest struct {
	ApprovalToken         string
	ReasonCode            string
	CandidateSetJSON      json.RawMessage
	SemanticRequestDigest string
	Status                ApprovalStatus
	CreatedAt             string
	RequestDigest         *string
}

// SnapshotRow is a ledger entry recording a committed (or idempotently
// re-requested) snapshot.
type SnapshotRow struct {
	SnapshotID             string
	RootEttleID            string
	ManifestDigest         string
	SemanticManifestDigest string
	ParentSnapshotID       *string
	PolicyRef              string
	ProfileRef             string
	Status                 string
	CreatedAt              string
}
