package exerr

import "fmt"

// Kind is a closed taxonomy of EttleX domain errors. It collapses the
// source's two parallel error representations (a rich domain kind and a
// flat engine kind) into one type: Kind already carries a stable string
// code via its Go identifier, and Error carries the structured fields a
// caller at any layer might need.
type Kind string

const (
	// Not-found / deleted
	KindEttleNotFound      Kind = "EttleNotFound"
	KindEpNotFound         Kind = "EpNotFound"
	KindParentNotFound     Kind = "ParentNotFound"
	KindProfileNotFound    Kind = "ProfileNotFound"
	KindApprovalNotFound   Kind = "ApprovalNotFound"
	KindConstraintNotFound Kind = "ConstraintNotFound"
	KindDecisionNotFound   Kind = "DecisionNotFound"
	KindSnapshotNotFound   Kind = "SnapshotNotFound"
	KindEttleDeleted       Kind = "EttleDeleted"
	KindEpDeleted          Kind = "EpDeleted"
	KindConstraintDeleted  Kind = "ConstraintDeleted"
	KindDecisionTombstoned Kind = "DecisionTombstoned"

	// Structural / validation
	KindInvalidTitle                    Kind = "InvalidTitle"
	KindInvalidWhat                     Kind = "InvalidWhat"
	KindInvalidHow                      Kind = "InvalidHow"
	KindInvalidDecision                 Kind = "InvalidDecision"
	KindInvalidEvidence                 Kind = "InvalidEvidence"
	KindInvalidEvidencePath             Kind = "InvalidEvidencePath"
	KindInvalidTargetKind               Kind = "InvalidTargetKind"
	KindOrdinalImmutable                Kind = "OrdinalImmutable"
	KindDuplicateEpOrdinal              Kind = "DuplicateEpOrdinal"
	KindOrdinalAlreadyExists            Kind = "OrdinalAlreadyExists"
	KindEpOrdinalReuseForbidden         Kind = "EpOrdinalReuseForbidden"
	KindChildWithoutEpMapping           Kind = "ChildWithoutEpMapping"
	KindChildReferencedByMultipleEps    Kind = "ChildReferencedByMultipleEps"
	KindEpReferencesNonExistentChild    Kind = "EpReferencesNonExistentChild"
	KindMembershipInconsistent          Kind = "MembershipInconsistent"
	KindEpOrphaned                      Kind = "EpOrphaned"
	KindEpListContainsUnknownId         Kind = "EpListContainsUnknownId"
	KindEpOwnershipPointsToUnknownEttle Kind = "EpOwnershipPointsToUnknownEttle"
	KindInvalidParentPointer            Kind = "InvalidParentPointer"
	KindMultipleParents                 Kind = "MultipleParents"
	KindCycleDetected                   Kind = "CycleDetected"
	KindRefinementIntegrityViolation    Kind = "RefinementIntegrityViolation"
	KindOrphanedEttle                   Kind = "OrphanedEttle"
	KindMappingReferencesDeletedEp      Kind = "MappingReferencesDeletedEp"
	KindMappingReferencesDeletedChild   Kind = "MappingReferencesDeletedChild"

	// Traversal
	KindRtParentChainBroken Kind = "RtParentChainBroken"
	KindEptMissingMapping   Kind = "EptMissingMapping"
	KindEptDuplicateMapping Kind = "EptDuplicateMapping"
	KindEptAmbiguousLeafEp  Kind = "EptAmbiguousLeafEp"
	KindEptLeafEpNotFound   Kind = "EptLeafEpNotFound"
	KindEptAmbiguous        Kind = "EptAmbiguous"

	// Mutation / deletion
	KindDeleteWithChildren                     Kind = "DeleteWithChildren"
	KindDeleteReferencedEp                     Kind = "DeleteReferencedEp"
	KindCannotDeleteEp0                        Kind = "CannotDeleteEp0"
	KindTombstoneStrandsChild                  Kind = "TombstoneStrandsChild"
	KindDeleteReferencesMissingEpInOwningEttle Kind = "DeleteReferencesMissingEpInOwningEttle"
	KindHardDeleteForbiddenAnchoredEp          Kind = "HardDeleteForbiddenAnchoredEp"
	KindIllegalReparent                        Kind = "IllegalReparent"
	KindChildAlreadyHasParent                  Kind = "ChildAlreadyHasParent"
	KindEpAlreadyHasChild                      Kind = "EpAlreadyHasChild"

	// Selection / ambiguity
	KindAmbiguousSelection        Kind = "AmbiguousSelection"
	KindAmbiguousLeafSelection    Kind = "AmbiguousLeafSelection"
	KindDuplicateDecisionLink     Kind = "DuplicateDecisionLink"
	KindDuplicateMapping          Kind = "DuplicateMapping"
	KindMissingMapping            Kind = "MissingMapping"
	KindConstraintAlreadyAttached Kind = "ConstraintAlreadyAttached"
	KindConstraintNotAttached     Kind = "ConstraintNotAttached"

	// Snapshot commit
	KindPolicyDenied               Kind = "PolicyDenied"
	KindNotALeaf                   Kind = "NotALeaf"
	KindHeadMismatch               Kind = "HeadMismatch"
	KindProfileDefaultMissing      Kind = "ProfileDefaultMissing"
	KindApprovalRoutingUnavailable Kind = "ApprovalRoutingUnavailable"

	// Manifest / diff
	KindInvalidManifest      Kind = "InvalidManifest"
	KindMissingField         Kind = "MissingField"
	KindMissingBlob          Kind = "MissingBlob"
	KindDeterminismViolation Kind = "DeterminismViolation"

	// Infrastructure
	KindIO                     Kind = "Io"
	KindSerialization          Kind = "Serialization"
	KindPersistence            Kind = "Persistence"
	KindConcurrency            Kind = "Concurrency"
	KindTimeout                Kind = "Timeout"
	KindApprovalStorageCorrupt Kind = "ApprovalStorageCorrupt"
	KindNotImplemented         Kind = "NotImplemented"
	KindInternal               Kind = "Internal"
)

// Error is the single EttleX error representation, carrying a stable Kind
// code, the operation that raised it, and any relevant entity IDs. It
// replaces the source's dual rich/flat error-type pair with one type that
// every layer — operations, apply, commit pipeline, diff engine, query
// dispatcher — can use directly.
type Error struct {
	Kind      Kind
	Op        string
	EttleID   string
	EPID      string
	Ordinal   *int
	RequestID string
	Message   string
	Err       error // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.EPID != "" && e.EttleID != "":
		return fmt.Sprintf("%s: %s (ettle=%s ep=%s)", e.Op, msg, e.EttleID, e.EPID)
	case e.EttleID != "":
		return fmt.Sprintf("%s: %s (ettle=%s)", e.Op, msg, e.EttleID)
	case e.EPID != "":
		return fmt.Sprintf("%s: %s (ep=%s)", e.Op, msg, e.EPID)
	default:
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, exerr.New(kind, "")) style sentinel matching
// by comparing Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given Kind and operation label.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WithEttle sets the EttleID field and returns the receiver for chaining.
func (e *Error) WithEttle(id string) *Error { e.EttleID = id; return e }

// WithEP sets the EPID field and returns the receiver for chaining.
func (e *Error) WithEP(id string) *Error { e.EPID = id; return e }

// WithOrdinal sets the Ordinal field and returns the receiver for chaining.
func (e *Error) WithOrdinal(o int) *Error { e.Ordinal = &o; return e }

// WithCause wraps an underlying error and returns the receiver for chaining.
func (e *Error) WithCause(err error) *Error { e.Err = err; return e }

// WithMessage sets a human-readable message and returns the receiver.
func (e *Error) WithMessage(msg string) *Error { e.Message = msg; return e }

// Wrap converts a low-level error (e.g. from storagesql or cas) into a
// Persistence-kind Error tagged with the given operation, mirroring
// beads' wrapDBError(op, err) idiom.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: KindPersistence, Op: op, Err: err, Message: err.Error()}
}
