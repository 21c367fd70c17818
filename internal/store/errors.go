package store

import "errors"

var (
	// ErrDigestCollision is returned when novel content hashes to the digest
	// of a different stored value. The enclosing scope must be rolled back.
	ErrDigestCollision = errors.New("digest collision")

	// ErrDigestMismatch is returned by Open when the database was created
	// with a different digest width than the one configured.
	ErrDigestMismatch = errors.New("digest width mismatch")

	// ErrScopeDone is returned when a Scope is used after it has ended.
	ErrScopeDone = errors.New("scope already ended")
)
