// Package storage holds the errors shared by the relational backends.
package storage

import "errors"

var (
	// ErrStoreUnavailable means the relational store could not be reached.
	// It is the only storage failure the inquiry pipeline propagates.
	ErrStoreUnavailable = errors.New("relational store unavailable")

	ErrNotFound = errors.New("record not found")
)
