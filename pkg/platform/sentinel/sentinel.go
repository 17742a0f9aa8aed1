package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into domain
// errors.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a competing write already claimed the resource
//   - ErrInvalidState: record is in the wrong lifecycle state for the requested
//     transition (the conditional-write guard matched zero rows)
//   - ErrUnavailable: external service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
