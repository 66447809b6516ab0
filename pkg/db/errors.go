package db

import "errors"

// Sentinel errors for database operations
var (
	// ErrConstraintViolation wraps unique, foreign key and not-null failures
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNoSuchTable is returned when a statement references a missing table
	ErrNoSuchTable = errors.New("no such table")
)

// IsConstraintViolation checks if an error is ErrConstraintViolation
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}
