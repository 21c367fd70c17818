package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Entry is the live association between a key and its current value.
// At most one entry exists per key; its absence means the key is deleted.
type Entry struct {
	ID      int64
	Key     string
	ValueID int64
}

// LookupEntry returns the entry for key, or found=false if there is none.
func (sc *Scope) LookupEntry(ctx context.Context, key string) (Entry, bool, error) {
	if err := sc.check(); err != nil {
		return Entry{}, false, err
	}

	var e Entry
	err := sc.tx.QueryRowContext(ctx, `
		SELECT id, entry_key, value_id
		FROM entries
		WHERE entry_key = ?
	`, key).Scan(&e.ID, &e.Key, &e.ValueID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup entry: %w", err)
	}
	return e, true, nil
}

// CurrentValue returns the value key currently points to, or found=false if
// the key has no entry.
func (sc *Scope) CurrentValue(ctx context.Context, key string) (Value, bool, error) {
	e, found, err := sc.LookupEntry(ctx, key)
	if err != nil || !found {
		return Value{}, false, err
	}

	v, found, err := sc.fetchValueByID(ctx, e.ValueID)
	if err != nil {
		return Value{}, false, fmt.Errorf("current value: %w", err)
	}
	if !found {
		return Value{}, false, fmt.Errorf("current value: entry %q references missing value %d", key, e.ValueID)
	}
	return v, true, nil
}

// UpsertEntry resolves content through GetOrCreateValue and points key at
// the result, creating the entry if needed. Returns the resolved value.
func (sc *Scope) UpsertEntry(ctx context.Context, key string, content []byte) (Value, error) {
	v, err := sc.GetOrCreateValue(ctx, content)
	if err != nil {
		return Value{}, fmt.Errorf("upsert entry: %w", err)
	}

	_, err = sc.tx.ExecContext(ctx, `
		INSERT INTO entries (entry_key, value_id)
		VALUES (?, ?)
		ON CONFLICT(entry_key) DO UPDATE SET value_id = excluded.value_id
	`, key, v.ID)
	if err != nil {
		return Value{}, fmt.Errorf("upsert entry: %w", err)
	}
	return v, nil
}

// RemoveEntry deletes the entry for key. Removing an absent key is a no-op.
func (sc *Scope) RemoveEntry(ctx context.Context, key string) error {
	if err := sc.check(); err != nil {
		return err
	}
	if _, err := sc.tx.ExecContext(ctx, `DELETE FROM entries WHERE entry_key = ?`, key); err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// ActiveKeys returns every key that currently has an entry.
// Callers must not rely on the order.
func (sc *Scope) ActiveKeys(ctx context.Context) ([]string, error) {
	if err := sc.check(); err != nil {
		return nil, err
	}

	rows, err := sc.tx.QueryContext(ctx, `SELECT entry_key FROM entries ORDER BY entry_key`)
	if err != nil {
		return nil, fmt.Errorf("query active keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan active key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active keys: %w", err)
	}
	return keys, nil
}
