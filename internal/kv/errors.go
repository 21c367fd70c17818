package kv

import "errors"

var (
	// ErrNotFound means the key has no entry. It is an expected outcome,
	// not a failure.
	ErrNotFound = errors.New("key not found")

	// ErrMalformedInput means the caller supplied an invalid key or value.
	// Nothing was written.
	ErrMalformedInput = errors.New("malformed input")
)
