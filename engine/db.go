package engine

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// OpenDB opens the sqlite file every module shares. WAL plus a single
// connection keeps writes from the booking and worker paths serialized
// without busy retries.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, err
}

// OpenTestDB opens a throwaway database for tests. Modules layer their
// migrations onto it by calling their constructors.
func OpenTestDB(t *testing.T) *sql.DB {
	db, err := OpenDB(filepath.Join(t.TempDir(), "roomery.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

// MustMigrate applies a module's migration block. Migrations are written
// to be idempotent, so constructors can run them unconditionally.
func MustMigrate(db *sql.DB, migration string) {
	_, err := db.Exec(migration)
	if err != nil {
		panic(fmt.Errorf("error while migrating database: %s", err))
	}
}
