// Package store owns the broker's single embedded SQLite file: schema
// evolution, connection setup, and the process-wide write mutex that
// every multi-statement write transaction serializes through.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the single database connection and the write-lock
// discipline: reads run unlocked, every write transaction runs under
// WithWriteLock.
type Store struct {
	conn       *sql.DB
	writeLock  sync.Mutex
	repoRoot   string
	repoRootOK bool
}

// Open creates the database directory if needed, opens the connection,
// enables WAL journaling and foreign keys, and runs pending migrations.
func Open(ctx context.Context, path string, projectPath string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}

	// A single SQLite file accessed from one process: keep one
	// connection so WAL writers never contend with each other behind
	// the driver's back. The write mutex above is what actually
	// serializes writes; this just stops the driver opening a second
	// connection that would race it.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Store{conn: conn}
	if root, err := discoverRepoRoot(projectPath); err == nil {
		s.repoRoot = root
		s.repoRootOK = true
	}

	return s, nil
}

// SQL returns the underlying *sql.DB for repositories to query.
func (s *Store) SQL() *sql.DB {
	return s.conn
}

// RepoRoot returns the git working tree root discovered at startup via
// `git rev-parse --show-toplevel`, and whether discovery succeeded.
// Diff validation uses this as its working directory; when discovery
// failed, callers should return a well-defined error instead of
// defaulting to an arbitrary directory.
func (s *Store) RepoRoot() (string, bool) {
	return s.repoRoot, s.repoRootOK
}

// WithWriteLock runs fn under the process-wide write mutex, inside a
// transaction begun with the driver's default (deferred) BEGIN; it does
// not issue BEGIN IMMEDIATE. Writes are serialized by this mutex and
// the single-connection pool. fn must not start its own transaction.
// On success the transaction is committed; on error it is rolled back.
func (s *Store) WithWriteLock(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
