package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/auditkv/internal/digest"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on events(entry_key, id) for per-key log reads
const currentSchemaVersion = 1

// Options configures how a database is opened.
type Options struct {
	// DigestBits is the content digest width. Zero means digest.DefaultBits.
	// It is fixed for the lifetime of a database.
	DigestBits int

	// Compression selects the at-rest codec for new values: "none" or "zstd".
	// Empty means "none".
	Compression string
}

// Store provides durable storage for values, entries and the audit log.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	hasher digest.Hasher
	codec  *codec
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times with the same
// options. Reopening with a different digest width fails with
// ErrDigestMismatch.
func Open(path string, opts Options) (*Store, error) {
	bits := opts.DigestBits
	if bits == 0 {
		bits = digest.DefaultBits
	}
	hasher, err := digest.New(bits)
	if err != nil {
		return nil, fmt.Errorf("invalid digest width: %w", err)
	}

	c, err := newCodec(opts.Compression)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		c.close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// serializes scopes, which is what keeps same-key operations ordered.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		c.close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		c.close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := checkDigestWidth(db, hasher.Bits()); err != nil {
		db.Close()
		c.close()
		return nil, err
	}

	return &Store{db: db, hasher: hasher, codec: c}, nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if s.codec != nil {
		s.codec.close()
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Hasher returns the digest function values are keyed by.
func (s *Store) Hasher() digest.Hasher {
	return s.hasher
}

// CountEvents returns the number of events in the audit log.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountValues returns the number of stored values.
func (s *Store) CountValues(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM value_blobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count values: %w", err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the per-key event index used by EventsForKey.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_key
		ON events(entry_key, id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// checkDigestWidth records the digest width on first open and rejects any
// later open with a different width. Existing value rows would otherwise be
// unreachable by digest.
func checkDigestWidth(db *sql.DB, bits int) error {
	want := strconv.Itoa(bits)
	if _, err := db.Exec(`
		INSERT INTO meta (name, value) VALUES ('digest_bits', ?)
		ON CONFLICT(name) DO NOTHING
	`, want); err != nil {
		return fmt.Errorf("record digest width: %w", err)
	}

	var got string
	if err := db.QueryRow(`SELECT value FROM meta WHERE name = 'digest_bits'`).Scan(&got); err != nil {
		return fmt.Errorf("read digest width: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: database uses %s bits, configured %s", ErrDigestMismatch, got, want)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
