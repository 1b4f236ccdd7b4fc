// Package history persists the one thing this process wants to remember
// across restarts: the set of peers it has successfully talked to, as a
// boot cache so discovery has somewhere to start before the rendezvous
// directory answers. Grounded on the teacher's database.Connect
// (internal/db/db.go in the pack's omnicloud repo, a thin *sql.DB wrapper
// with a driver import side-effect), adapted from lib/pq/Postgres to
// modernc.org/sqlite's pure-Go driver, and on the teacher's BootCache
// (internal/peermanagement/discovery.go) for the boot-cache semantics
// (Insert/MarkFailed/MarkSuccess/GetEndpoints), reimplemented over SQL rows
// instead of a JSON file. Deliberately does not persist message payloads —
// that would cross spec's "message persistence" non-goal.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a sqlite-backed connection. A Store built with an empty path
// keeps everything in-memory for the lifetime of the process, matching
// spec §4.7's "an empty history.path disables persistence across
// restarts" behavior while still allowing in-session queries.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS boot_cache (
	name TEXT NOT NULL,
	namespace TEXT NOT NULL,
	ip TEXT NOT NULL,
	port INTEGER NOT NULL,
	last_seen TIMESTAMP NOT NULL,
	fail_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (name, namespace)
);
`

// Open opens (creating if necessary) the sqlite database at path, or an
// in-memory database if path is empty.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	// sqlite tolerates exactly one writer; a single connection avoids
	// SQLITE_BUSY from the stdlib's pool trying to parallelize writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BootCacheEntry is one remembered peer address.
type BootCacheEntry struct {
	Name      string
	Namespace string
	IP        string
	Port      int
	LastSeen  time.Time
	FailCount int
}

// UpsertPeer records a successfully contacted peer, resetting its fail
// count.
func (s *Store) UpsertPeer(ctx context.Context, e BootCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boot_cache (name, namespace, ip, port, last_seen, fail_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(name, namespace) DO UPDATE SET
			ip = excluded.ip, port = excluded.port, last_seen = excluded.last_seen, fail_count = 0
	`, e.Name, e.Namespace, e.IP, e.Port, e.LastSeen)
	if err != nil {
		return fmt.Errorf("history: upsert peer: %w", err)
	}
	return nil
}

// MarkFailed increments a remembered peer's fail count.
func (s *Store) MarkFailed(ctx context.Context, name, namespace string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE boot_cache SET fail_count = fail_count + 1
		WHERE name = ? AND namespace = ?
	`, name, namespace)
	if err != nil {
		return fmt.Errorf("history: mark failed: %w", err)
	}
	return nil
}

// BootCandidates returns up to limit remembered peers, most recently seen
// first, for discovery to try before the rendezvous directory answers.
func (s *Store) BootCandidates(ctx context.Context, limit int) ([]BootCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, namespace, ip, port, last_seen, fail_count
		FROM boot_cache
		ORDER BY last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: boot candidates: %w", err)
	}
	defer rows.Close()

	var out []BootCacheEntry
	for rows.Next() {
		var e BootCacheEntry
		if err := rows.Scan(&e.Name, &e.Namespace, &e.IP, &e.Port, &e.LastSeen, &e.FailCount); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
