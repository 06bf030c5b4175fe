package core

import "errors"

var (
	// ErrValidation marks malformed input: non-finite coordinates, negative
	// radius or buffer, duplicate zone IDs and similar.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a query that references a zone absent from the
	// current snapshot. Callers should resync their zone list.
	ErrNotFound = errors.New("not found")
)
