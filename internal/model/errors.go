package model

import "errors"

var (
	// ErrNotFound is returned for an unknown entity id in an update or query.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidEntity is returned when a required field is missing or malformed.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrMatcherSkipped marks a matcher that could not evaluate an entity.
	// It is recorded in the pass summary and never aborts a batch.
	ErrMatcherSkipped = errors.New("matcher skipped")

	// ErrConcurrentClassification is returned when two classification passes
	// for one incident overlap.
	ErrConcurrentClassification = errors.New("concurrent classification of incident")
)
