package storagesql

import (
	"database/sql"
	"errors"

	"github.com/nickout/ettlex/internal/exerr"
)

// wrapDBError wraps a raw database/sql error as an *exerr.Error, mapping
// sql.ErrNoRows to KindPersistence with a NotFound-flavored message.
// Adapted from the teacher's wrapDBError/wrapDBErrorf pair.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return exerr.New(exerr.KindPersistence, "storagesql."+op).WithMessage("not found")
	}
	return exerr.Wrap("storagesql."+op, err)
}
