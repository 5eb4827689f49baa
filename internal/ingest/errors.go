package ingest

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrFamilyConflict     = errors.New("family title or description conflicts with an earlier row")
	ErrUnknownGeography   = errors.New("unknown geography")
	ErrUnknownFamily      = errors.New("unknown family")
	ErrCollectionMismatch = errors.New("collections referenced but not defined")
	ErrUnsupportedOrg     = errors.New("organisation has no ingest pipeline")
)

// RowError carries the failure of one row to the reader's loop.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("Row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
