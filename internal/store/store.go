// Package store provides the SQLite-backed persistence layer for the
// orchestration runtime (spec §4.1): projects, agents, objectives, plans,
// rooms, messages, participants, and scrape jobs all live in one database
// file, mirroring the teacher's single-LocalStore-many-files layout.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"zmcptools/internal/logging"
)

// Store is the single-connection SQLite handle shared by every repository
// method in this package. A single *sql.DB connection (SetMaxOpenConns(1))
// avoids SQLITE_BUSY errors under WAL mode without a separate locking layer.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	vecExt bool
}

// Open initializes (creating if necessary) the SQLite database at path,
// applies pragmas for WAL concurrency, runs schema creation and migrations,
// and probes for the sqlite-vec extension.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	logging.Store("opening store at %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("set busy_timeout failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("set journal_mode=WAL failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("set synchronous=NORMAL failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("set foreign_keys=ON failed: %v", err)
	}

	s := &Store{db: db, path: path}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s.vecExt = s.detectVecExtension()
	if s.vecExt {
		logging.Store("sqlite-vec extension detected")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension unavailable; knowledge search disabled")
	}

	logging.Store("store ready")
	return s, nil
}

// HasVectorSearch reports whether the sqlite-vec extension loaded.
func (s *Store) HasVectorSearch() bool {
	return s.vecExt
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw connection for packages that need to compose a query
// this package does not otherwise provide (e.g. dashboard read models).
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error, including a panic recovered and re-raised after rollback.
func (s *Store) withTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
