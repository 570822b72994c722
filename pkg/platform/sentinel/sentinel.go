package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, caches, and ledger adapters
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: write collided with an existing record
//   - ErrPending: the ledger has not reached finality for a submission yet
//   - ErrInvalidState: record is in the wrong state for the operation
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrPending      = errors.New("pending")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
