//go:build !test_db_postgres

package rgbdb

import (
	"testing"
)

const activeTestDB = "sqlite"

// NewTestDB is a helper function that creates an SQLite database for testing.
func NewTestDB(t *testing.T) *SqliteStore {
	return NewTestSqliteDB(t)
}
