package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Scope is a transactional unit of work. It is obtained from Store.Begin and
// must be ended exactly once, normally with a deferred End:
//
//	sc, err := st.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	defer sc.End(&err)
//
// A Scope is not safe for concurrent use.
type Scope struct {
	tx    *sql.Tx
	store *Store
	done  bool
}

// Begin opens a new scope. Because the store holds a single connection, Begin
// blocks until any other open scope has ended or ctx is done.
func (s *Store) Begin(ctx context.Context) (*Scope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin scope: %w", err)
	}
	return &Scope{tx: tx, store: s}, nil
}

// WithScope runs fn inside a new scope. The scope commits if fn returns nil
// and rolls back otherwise. A panic in fn rolls back and is re-raised.
func (s *Store) WithScope(ctx context.Context, fn func(ctx context.Context, sc *Scope) error) (err error) {
	sc, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer sc.End(&err)

	return fn(ctx, sc)
}

// End finishes the scope based on *errp: commit when it is nil, rollback
// otherwise. A commit failure is stored in *errp. End must be deferred
// directly so that it can observe a panic; the scope is rolled back and
// the panic continues.
func (sc *Scope) End(errp *error) {
	if r := recover(); r != nil {
		_ = sc.Rollback()
		panic(r)
	}

	if *errp != nil {
		if rbErr := sc.Rollback(); rbErr != nil {
			*errp = errors.Join(*errp, rbErr)
		}
		return
	}

	if err := sc.Commit(); err != nil {
		*errp = err
	}
}

// Commit commits the scope. Calling Commit on an ended scope returns
// ErrScopeDone.
func (sc *Scope) Commit() error {
	if sc.done {
		return ErrScopeDone
	}
	sc.done = true
	if err := sc.tx.Commit(); err != nil {
		return fmt.Errorf("commit scope: %w", err)
	}
	return nil
}

// Rollback discards the scope. It is a no-op on an ended scope.
func (sc *Scope) Rollback() error {
	if sc.done {
		return nil
	}
	sc.done = true
	if err := sc.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback scope: %w", err)
	}
	return nil
}

func (sc *Scope) check() error {
	if sc.done {
		return ErrScopeDone
	}
	return nil
}
