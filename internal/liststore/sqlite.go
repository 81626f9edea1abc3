package liststore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "lf-v1-list-scalar"
)

// SQLite is a durable Client backed by a local sqlite database. Single-key
// atomicity comes from wrapping each operation in its own transaction.
type SQLite struct {
	db *sql.DB
}

// DefaultDBPath returns the default database location under the user home.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".lexflow", "store.db")
}

// OpenSQLite opens (creating if needed) the database at path and prepares the
// schema. The caller owns the returned store and must Close it.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_ledger (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS list_items (
			list_key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			item BLOB NOT NULL,
			PRIMARY KEY (list_key, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS scalars (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO schema_ledger (version, checksum) VALUES (?, ?);
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	var checksum string
	if err := tx.QueryRowContext(ctx, `
		SELECT checksum FROM schema_ledger WHERE version = ?;
	`, schemaVersion).Scan(&checksum); err != nil {
		return fmt.Errorf("read schema ledger: %w", err)
	}
	if checksum != schemaChecksum {
		return fmt.Errorf("schema checksum mismatch: have %q, want %q", checksum, schemaChecksum)
	}
	return tx.Commit()
}

func (s *SQLite) Append(ctx context.Context, key string, item []byte) (int, error) {
	var length int
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO list_items (list_key, seq, item)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM list_items WHERE list_key = ?), ?);
		`, key, key, item); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM list_items WHERE list_key = ?;
		`, key).Scan(&length); err != nil {
			return fmt.Errorf("count items: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, unavailable(fmt.Sprintf("append %q", key), err)
	}
	return length, nil
}

func (s *SQLite) Pop(ctx context.Context, key string) ([]byte, error) {
	var item []byte
	var found bool
	err := retryOnBusy(ctx, 5, func() error {
		found = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin pop tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var seq int64
		row := tx.QueryRowContext(ctx, `
			SELECT seq, item FROM list_items
			WHERE list_key = ?
			ORDER BY seq ASC
			LIMIT 1;
		`, key)
		if err := row.Scan(&seq, &item); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return tx.Commit()
			}
			return fmt.Errorf("select head: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM list_items WHERE list_key = ? AND seq = ?;
		`, key, seq); err != nil {
			return fmt.Errorf("delete head: %w", err)
		}
		found = true
		return tx.Commit()
	})
	if err != nil {
		return nil, unavailable(fmt.Sprintf("pop %q", key), err)
	}
	if !found {
		return nil, nil
	}
	return item, nil
}

func (s *SQLite) Range(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	if start < 0 {
		start = 0
	}
	limit := -1
	if stop >= 0 {
		if stop < start {
			return nil, nil
		}
		limit = stop - start + 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT item FROM list_items
		WHERE list_key = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?;
	`, key, limit, start)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("range %q", key), err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var item []byte
		if err := rows.Scan(&item); err != nil {
			return nil, unavailable(fmt.Sprintf("scan range %q", key), err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Sprintf("range rows %q", key), err)
	}
	return out, nil
}

func (s *SQLite) Len(ctx context.Context, key string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM list_items WHERE list_key = ?;
	`, key).Scan(&count); err != nil {
		return 0, unavailable(fmt.Sprintf("len %q", key), err)
	}
	return count, nil
}

func (s *SQLite) Remove(ctx context.Context, key string, item []byte) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM list_items WHERE list_key = ? AND seq = (
				SELECT seq FROM list_items
				WHERE list_key = ? AND item = ?
				ORDER BY seq ASC
				LIMIT 1
			);
		`, key, key, item)
		return err
	})
	if err != nil {
		return unavailable(fmt.Sprintf("remove %q", key), err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE list_key = ?;`, key); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scalars WHERE key = ?;`, key); err != nil {
			return fmt.Errorf("delete scalar: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return unavailable(fmt.Sprintf("delete %q", key), err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM scalars WHERE key = ?;
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable(fmt.Sprintf("get %q", key), err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scalars (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value;
		`, key, value)
		return err
	})
	if err != nil {
		return unavailable(fmt.Sprintf("set %q", key), err)
	}
	return nil
}

func (s *SQLite) SetNX(ctx context.Context, key, value string) (bool, error) {
	var written bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO scalars (key, value) VALUES (?, ?);
		`, key, value)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		written = n == 1
		return nil
	})
	if err != nil {
		return false, unavailable(fmt.Sprintf("setnx %q", key), err)
	}
	return written, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// retryOnBusy retries f on transient sqlite lock errors with bounded backoff.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		// Exponential backoff: 50ms, 100ms, 200ms, 400ms, 500ms (capped).
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// Add jitter: ±25% of delay.
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	// mattn/go-sqlite3 wraps errors as sqlite3.Error with Code field.
	// Check the error string for the code to avoid a direct dependency
	// on the sqlite3 package in non-CGO-importing code paths.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}
