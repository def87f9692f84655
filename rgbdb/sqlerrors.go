package rgbdb

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrRetriesExceeded is returned when a transaction kept failing with
// serialization errors until the retry budget was used up.
var ErrRetriesExceeded = errors.New("db tx retries exceeded")

// MapSQLError translates sqlite and postgres driver errors into the backend
// agnostic errors of this package. Errors of other origins are returned as is.
func MapSQLError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

			return &ErrUniqueViolation{DbError: sqliteErr}

		// Another connection holds the write lock.
		case sqlite3.SQLITE_BUSY:
			return &ErrSerializationError{DbError: sqliteErr}
		}

		return fmt.Errorf("unknown sqlite error: %w", sqliteErr)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return &ErrUniqueViolation{DbError: pgErr}

		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return &ErrSerializationError{DbError: pgErr}
		}

		return fmt.Errorf("unknown postgres error: %w", pgErr)
	}

	return err
}

// ErrUniqueViolation is returned when a write conflicts with an existing
// primary or unique key.
type ErrUniqueViolation struct {
	DbError error
}

// Error returns the error message.
func (e *ErrUniqueViolation) Error() string {
	return fmt.Sprintf("sql unique constraint violation: %v", e.DbError)
}

// Unwrap returns the driver error.
func (e *ErrUniqueViolation) Unwrap() error {
	return e.DbError
}

// ErrSerializationError is returned when a transaction conflicted with a
// concurrent one and can be tried again.
type ErrSerializationError struct {
	DbError error
}

// Error returns the error message.
func (e *ErrSerializationError) Error() string {
	return e.DbError.Error()
}

// Unwrap returns the driver error.
func (e *ErrSerializationError) Unwrap() error {
	return e.DbError
}
