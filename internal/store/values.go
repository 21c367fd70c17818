package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/auditkv/internal/digest"
)

// Value is an immutable content blob keyed by its digest.
// Two values with equal digests always have identical content.
type Value struct {
	ID      int64
	Digest  []byte
	Content []byte
	Size    int64
}

// Ref returns a content-free reference to v.
func (v Value) Ref() ValueRef {
	return ValueRef{ID: v.ID, Digest: v.Digest, Size: v.Size}
}

// ValueRef identifies a stored value without carrying its content.
type ValueRef struct {
	ID     int64
	Digest []byte
	Size   int64
}

// DigestString returns the digest as lowercase hex.
func (r ValueRef) DigestString() string {
	return digest.String(r.Digest)
}

// GetOrCreateValue returns the stored value for content, inserting it if no
// value with the same digest exists yet.
//
// Uses ON CONFLICT(digest) DO NOTHING followed by a select, so concurrent
// callers with identical content converge on a single row. On a digest hit
// the stored content is compared with content; a mismatch returns
// ErrDigestCollision.
func (sc *Scope) GetOrCreateValue(ctx context.Context, content []byte) (Value, error) {
	if err := sc.check(); err != nil {
		return Value{}, err
	}
	if content == nil {
		content = []byte{}
	}

	d := sc.store.hasher.Sum(content)
	encoded, enc := sc.store.codec.encode(content)

	result, err := sc.tx.ExecContext(ctx, `
		INSERT INTO value_blobs (digest, content, encoding, size)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING
	`, d, encoded, string(enc), len(content))
	if err != nil {
		return Value{}, fmt.Errorf("get or create value: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Value{}, fmt.Errorf("get or create value: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return Value{}, fmt.Errorf("get or create value: last insert id: %w", err)
		}
		return Value{ID: id, Digest: d, Content: content, Size: int64(len(content))}, nil
	}

	existing, found, err := sc.FetchValue(ctx, d)
	if err != nil {
		return Value{}, fmt.Errorf("get or create value: %w", err)
	}
	if !found {
		return Value{}, fmt.Errorf("get or create value: digest %s vanished after conflict", digest.String(d))
	}
	if !bytes.Equal(existing.Content, content) {
		return Value{}, fmt.Errorf("%w: %s", ErrDigestCollision, digest.String(d))
	}
	return existing, nil
}

// FetchValue looks up a value by digest.
// Returns found=false (and no error) if no such value exists.
func (sc *Scope) FetchValue(ctx context.Context, d []byte) (Value, bool, error) {
	if err := sc.check(); err != nil {
		return Value{}, false, err
	}
	row := sc.tx.QueryRowContext(ctx, `
		SELECT id, digest, content, encoding, size
		FROM value_blobs
		WHERE digest = ?
	`, d)
	return sc.scanValue(row)
}

// fetchValueByID loads a value by row id.
func (sc *Scope) fetchValueByID(ctx context.Context, id int64) (Value, bool, error) {
	row := sc.tx.QueryRowContext(ctx, `
		SELECT id, digest, content, encoding, size
		FROM value_blobs
		WHERE id = ?
	`, id)
	return sc.scanValue(row)
}

func (sc *Scope) scanValue(row *sql.Row) (Value, bool, error) {
	var v Value
	var data []byte
	var enc string
	if err := row.Scan(&v.ID, &v.Digest, &data, &enc, &v.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Value{}, false, nil
		}
		return Value{}, false, fmt.Errorf("scan value: %w", err)
	}

	content, err := sc.store.codec.decode(data, Encoding(enc))
	if err != nil {
		return Value{}, false, fmt.Errorf("value %d: %w", v.ID, err)
	}
	v.Content = content
	return v, true, nil
}
