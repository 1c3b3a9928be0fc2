package models

import "errors"

// Sentinel errors returned by the analytical services. Handlers translate
// these to HTTP status codes; everything else is a 500.
var (
	// ErrNotFound covers unknown record IDs, source names, tactic and
	// technique IDs.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSelection covers usage errors in the caller's selection:
	// a diff with fewer than 2 or more than 6 records, or an export with
	// neither filters nor IDs.
	ErrInvalidSelection = errors.New("invalid selection")
)
