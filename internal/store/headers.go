package store

import (
	"context"
	"fmt"
)

// HeaderPair is an immutable request header (name, value) pair, stored once
// per distinct tuple and shared by every request that carried it.
type HeaderPair struct {
	ID    int64
	Name  string
	Value string
}

// GetOrCreateHeader returns the catalog row for (name, value), inserting it
// if absent. Same insert-if-absent discipline as GetOrCreateValue, keyed by
// the exact tuple.
func (sc *Scope) GetOrCreateHeader(ctx context.Context, name, value string) (HeaderPair, error) {
	if err := sc.check(); err != nil {
		return HeaderPair{}, err
	}

	result, err := sc.tx.ExecContext(ctx, `
		INSERT INTO headers (name, value)
		VALUES (?, ?)
		ON CONFLICT(name, value) DO NOTHING
	`, name, value)
	if err != nil {
		return HeaderPair{}, fmt.Errorf("get or create header: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return HeaderPair{}, fmt.Errorf("get or create header: rows affected: %w", err)
	}

	h := HeaderPair{Name: name, Value: value}
	if rowsAffected > 0 {
		h.ID, err = result.LastInsertId()
		if err != nil {
			return HeaderPair{}, fmt.Errorf("get or create header: last insert id: %w", err)
		}
		return h, nil
	}

	err = sc.tx.QueryRowContext(ctx, `
		SELECT id FROM headers
		WHERE name = ? AND value = ?
	`, name, value).Scan(&h.ID)
	if err != nil {
		return HeaderPair{}, fmt.Errorf("get or create header: select existing: %w", err)
	}
	return h, nil
}
