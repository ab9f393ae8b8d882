package common

import "errors"

var (
	// ErrNotFound is returned when an aggregate, mapping or file does not exist.
	ErrNotFound = errors.New("requested item not found")

	// ErrDetectionFailed means no confident header-to-role assignment was possible.
	// Callers should fall back to manual mapping using the returned suggestions.
	ErrDetectionFailed = errors.New("could not detect mandatory columns")

	// ErrValidationFailed means a column mapping is structurally invalid.
	ErrValidationFailed = errors.New("column mapping validation failed")

	// ErrEmptyInput means a file produced zero usable rows after extraction.
	ErrEmptyInput = errors.New("no usable rows in input")

	// ErrProtectedMapping is returned on attempts to delete a default mapping.
	ErrProtectedMapping = errors.New("default mapping cannot be deleted")

	// ErrStorageConflict means the atomic upsert primitive itself failed.
	// The whole operation must be retried by the caller.
	ErrStorageConflict = errors.New("storage conflict, retry the operation")

	// ErrParseFailure means the uploaded bytes could not be turned into a grid.
	ErrParseFailure = errors.New("could not parse uploaded file")
)
