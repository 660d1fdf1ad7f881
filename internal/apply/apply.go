// Package apply implements the functional-boundary entry point
// apply(state, command, policy) -> state' (spec.md §4.3). Apply takes
// ownership of a Store, dispatches the command to the operations layer,
// runs the full tree validator after mutation, and returns either a new
// valid Store or the original Store untouched.
package apply

import (
	"encoding/json"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/ops"
	"github.com/nickout/ettlex/internal/rules"
	"github.com/nickout/ettlex/internal/store"
)

// AnchorPolicy answers "is this EP anchored?" for EpDelete: anchored
// implies tombstone delete (preserves the record, marks deleted);
// non-anchored implies hard delete (removes the EP from storage and from
// the owning ettle's ep_ids).
type AnchorPolicy interface {
	IsAnchored(epID string) bool
}

// NeverAnchoredPolicy always hard-deletes.
type NeverAnchoredPolicy struct{}

func (NeverAnchoredPolicy) IsAnchored(string) bool { return false }

// SelectedAnchoredPolicy wraps a set of anchored EP IDs; everything else
// is hard-deleted.
type SelectedAnchoredPolicy struct {
	Anchored map[string]bool
}

// NewSelectedAnchoredPolicy builds a SelectedAnchoredPolicy from a list
// of anchored EP IDs.
func NewSelectedAnchoredPolicy(ids ...string) SelectedAnchoredPolicy {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return SelectedAnchoredPolicy{Anchored: m}
}

func (p SelectedAnchoredPolicy) IsAnchored(epID string) bool { return p.Anchored[epID] }

// CommandKind is the closed tagged union of mutation verbs apply accepts.
// Adding a verb is a breaking API change; this is intentionally not an
// open registry of handlers.
type CommandKind string

const (
	CmdEttleCreate       CommandKind = "EttleCreate"
	CmdEttleUpdate       CommandKind = "EttleUpdate"
	CmdEttleDelete       CommandKind = "EttleDelete"
	CmdEpCreate          CommandKind = "EpCreate"
	CmdEpUpdate          CommandKind = "EpUpdate"
	CmdEpDelete          CommandKind = "EpDelete"
	CmdRefineLinkChild   CommandKind = "RefineLinkChild"
	CmdRefineUnlinkChild CommandKind = "RefineUnlinkChild"
)

// Command carries the arguments for every verb; only the fields relevant
// to Kind are read. A constructor per verb (below) keeps callers from
// having to know which fields matter for which kind.
type Command struct {
	Kind CommandKind

	// EttleCreate
	Title    string
	Metadata map[string]json.RawMessage
	Why      string
	What     string
	How      string

	// EttleUpdate / EpUpdate: nil means "don't change"
	TitleOpt     *string
	MetadataOpt  map[string]json.RawMessage
	WhyOpt       *string
	WhatOpt      *string
	HowOpt       *string
	NormativeOpt *bool

	// shared target IDs
	EttleID string
	EPID    string

	// EpCreate
	Ordinal   int
	Normative bool

	// EpUpdate: set true if the caller attempted to pass a new ordinal,
	// so apply can reject it explicitly rather than silently ignore it
	OrdinalChangeAttempted bool

	// RefineLinkChild / RefineUnlinkChild
	ParentEPID   string
	ChildEttleID string
}

// EttleCreate builds an EttleCreate command.
func EttleCreate(title string, metadata map[string]json.RawMessage, why, what, how string) Command {
	return Command{Kind: CmdEttleCreate, Title: title, Metadata: metadata, Why: why, What: what, How: how}
}

// EttleUpdate builds an EttleUpdate command.
func EttleUpdate(id string, title *string, metadata map[string]json.RawMessage) Command {
	return Command{Kind: CmdEttleUpdate, EttleID: id, TitleOpt: title, MetadataOpt: metadata}
}

// EttleDelete builds an EttleDelete command.
func EttleDelete(id string) Command {
	return Command{Kind: CmdEttleDelete, EttleID: id}
}

// EpCreate builds an EpCreate command.
func EpCreate(ettleID string, ordinal int, normative bool, why, what, how string) Command {
	return Command{Kind: CmdEpCreate, EttleID: ettleID, Ordinal: ordinal, Normative: normative, Why: why, What: what, How: how}
}

// EpUpdate builds an EpUpdate command.
func EpUpdate(epID string, why, what, how *string, normative *bool, ordinalChangeAttempted bool) Command {
	return Command{Kind: CmdEpUpdate, EPID: epID, WhyOpt: why, WhatOpt: what, HowOpt: how, NormativeOpt: normative, OrdinalChangeAttempted: ordinalChangeAttempted}
}

// EpDelete builds an EpDelete command.
func EpDelete(epID string) Command {
	return Command{Kind: CmdEpDelete, EPID: epID}
}

// RefineLinkChild builds a RefineLinkChild command.
func RefineLinkChild(parentEPID, childEttleID string) Command {
	return Command{Kind: CmdRefineLinkChild, ParentEPID: parentEPID, ChildEttleID: childEttleID}
}

// RefineUnlinkChild builds a RefineUnlinkChild command.
func RefineUnlinkChild(parentEPID string) Command {
	return Command{Kind: CmdRefineUnlinkChild, ParentEPID: parentEPID}
}

// Result is the value returned by Apply. For EttleCreate/EpCreate, ID
// carries the newly minted entity's ID.
type Result struct {
	State *store.Store
	ID    string
}

// Apply dispatches cmd against state, returning a new valid Store on
// success or the original state (conceptually — the caller's reference to
// the pre-call Store is simply never touched, since Apply always mutates
// a Clone) together with an error on failure. Any successful return
// passes rules.ValidateTree.
func Apply(state *store.Store, cmd Command, policy AnchorPolicy) (Result, error) {
	next := state.Clone()
	var newID string
	var err error

	switch cmd.Kind {
	case CmdEttleCreate:
		newID, err = ops.CreateEttle(next, cmd.Title, cmd.Metadata, cmd.Why, cmd.What, cmd.How)
	case CmdEttleUpdate:
		err = ops.UpdateEttle(next, cmd.EttleID, cmd.TitleOpt, cmd.MetadataOpt)
	case CmdEttleDelete:
		err = ops.DeleteEttle(next, cmd.EttleID)
	case CmdEpCreate:
		newID, err = ops.CreateEP(next, cmd.EttleID, cmd.Ordinal, cmd.Normative, cmd.Why, cmd.What, cmd.How)
	case CmdEpUpdate:
		if cmd.OrdinalChangeAttempted {
			err = ops.AttemptOrdinalChange(cmd.EPID)
		} else {
			err = ops.UpdateEP(next, cmd.EPID, cmd.WhyOpt, cmd.WhatOpt, cmd.HowOpt, cmd.NormativeOpt)
		}
	case CmdEpDelete:
		if policy != nil && policy.IsAnchored(cmd.EPID) {
			err = ops.DeleteEPTombstone(next, cmd.EPID)
		} else {
			err = ops.HardDeleteEP(next, cmd.EPID)
		}
	case CmdRefineLinkChild:
		err = ops.LinkChild(next, cmd.ParentEPID, cmd.ChildEttleID)
	case CmdRefineUnlinkChild:
		err = ops.UnlinkChild(next, cmd.ParentEPID)
	default:
		err = exerr.Newf(exerr.KindInternal, "apply", "unknown command kind %q", cmd.Kind)
	}

	if err != nil {
		return Result{State: state}, err
	}
	if vErr := rules.ValidateTree(next); vErr != nil {
		return Result{State: state}, vErr
	}
	return Result{State: next, ID: newID}, nil
}
