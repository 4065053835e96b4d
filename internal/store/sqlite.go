package store

import (
	"database/sql"
	"fmt"
)

// configureSQLiteConnection applies the pragmas spec.md §6 requires
// (journal_mode=WAL, busy_timeout=5000) plus synchronous=NORMAL for
// reasonable write durability/throughput, and pins the pool to a single
// connection so the *sql.DB handle behaves like the single writer/reader
// connection the storage engine's concurrency model assumes (see
// DESIGN.md's "Adaptation: SQLite connection model" entry).
func configureSQLiteConnection(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("set journal_mode WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set synchronous NORMAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}
