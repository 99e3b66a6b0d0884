// Package sqlite provides a SQLite-backed storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/engram/pkg/storage/sqlstore"
)

// Store implements storage.Store using SQLite.
type Store struct {
	*sqlstore.Store
}

// NewStore creates a new SQLite-backed store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite-specific pragmas. WAL keeps cross-session reads from blocking
	// writes; busy_timeout covers the single-writer window.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{
		Store: &sqlstore.Store{
			DB:      db,
			Dialect: sqlstore.DialectSQLite,
		},
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}
