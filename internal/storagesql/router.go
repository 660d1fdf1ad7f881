package storagesql

import (
	"github.com/nickout/ettlex/internal/cas"
	"github.com/nickout/ettlex/internal/model"
	"github.com/nickout/ettlex/internal/resolver"
)

// NewApprovalRouter builds a resolver.SQLiteApprovalRouter backed by r's
// approval_requests table, optionally writing the canonical request
// payload to casStore (pass nil to skip CAS persistence).
func NewApprovalRouter(r *Repo, casStore cas.Store) resolver.SQLiteApprovalRouter {
	return resolver.SQLiteApprovalRouter{
		CAS: casStore,
		InsertRow: func(row model.ApprovalRequest) error {
			return r.PersistApprovalRequest(&row)
		},
	}
}
