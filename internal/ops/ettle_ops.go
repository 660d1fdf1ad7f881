// Package ops implements the typed per-entity mutators that apply.Apply
// dispatches to. Each mutator takes a *store.Store and the command
// arguments, enforces the domain rules, and never leaves the Store in an
// invalid state observable by a successful return.
package ops

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nickout/ettlex/internal/exerr"
	"github.com/nickout/ettlex/internal/idgen"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/store"
)

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func trimmedEmpty(s string) bool { return strings.TrimSpace(s) == "" }

// CreateEttle creates a new Ettle and mints its EP0 with the given
// why/what/how content (empty strings are allowed for EP0). Returns the
// new Ettle ID.
func CreateEttle(s *store.Store, title string, metadata map[string]json.RawMessage, why, what, how string) (string, error) {
	if trimmedEmpty(title) {
		return "", exerr.New(exerr.KindInvalidTitle, "create_ettle")
	}
	now := nowRFC3339()
	ettleID := idgen.NewUUIDv7()
	ep0ID := idgen.NewUUIDv7()

	ep0 := &model.EP{
		ID:        ep0ID,
		EttleID:   ettleID,
		Ordinal:   0,
		Normative: false,
		Why:       why,
		What:      what,
		How:       how,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ettle := &model.Ettle{
		ID:        ettleID,
		Title:     strings.TrimSpace(title),
		EPIDs:     []string{ep0ID},
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.InsertEP(ep0)
	s.InsertEttle(ettle)
	return ettleID, nil
}

// UpdateEttle partially updates an Ettle: nil means "don't change". An
// empty (post-trim) title is rejected.
func UpdateEttle(s *store.Store, id string, title *string, metadata map[string]json.RawMessage) error {
	e, err := s.GetEttle(id)
	if err != nil {
		return err
	}
	updated := *e
	if title != nil {
		if trimmedEmpty(*title) {
			return exerr.New(exerr.KindInvalidTitle, "update_ettle").WithEttle(id)
		}
		updated.Title = strings.TrimSpace(*title)
	}
	if metadata != nil {
		updated.Metadata = metadata
	}
	updated.UpdatedAt = nowRFC3339()
	s.InsertEttle(&updated)
	return nil
}

// DeleteEttle soft-deletes an Ettle, rejecting if it has active children
// (one of its own active EPs still has a child_ettle_id set).
func DeleteEttle(s *store.Store, id string) error {
	e, err := s.GetEttle(id)
	if err != nil {
		return err
	}
	for _, ep := range s.ActiveEPs(id) {
		if ep.ChildEttleID != nil {
			return exerr.New(exerr.KindDeleteWithChildren, "delete_ettle").WithEttle(id)
		}
	}
	updated := *e
	updated.Deleted = true
	updated.UpdatedAt = nowRFC3339()
	s.InsertEttle(&updated)
	return nil
}
