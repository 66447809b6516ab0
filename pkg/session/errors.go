package session

import "errors"

// Sentinel errors for the unit of work
var (
	// ErrTransactionRequired is returned by write operations outside Begin/Commit
	ErrTransactionRequired = errors.New("no transaction is in progress")

	// ErrTransactionActive is returned by Begin when a transaction is already open
	ErrTransactionActive = errors.New("transaction already active")

	// ErrDetachedEntity is returned when an operation needs a managed
	// instance, or when persist receives an instance that already has a
	// generated identifier
	ErrDetachedEntity = errors.New("detached entity")

	// ErrEntityNotFound is returned when a reference or refresh finds no row
	ErrEntityNotFound = errors.New("entity not found")

	// ErrTransientReference is returned by flush when a managed instance
	// points at an instance that was never persisted
	ErrTransientReference = errors.New("object references an unsaved transient instance")

	// ErrIdentifierAltered is returned by flush when a managed identifier changed
	ErrIdentifierAltered = errors.New("identifier of a managed instance was altered")

	// ErrNoResult is returned by SingleResult for an empty result
	ErrNoResult = errors.New("no result")

	// ErrNonUniqueResult is returned by SingleResult for more than one row
	ErrNonUniqueResult = errors.New("result is not unique")

	// ErrSessionClosed is returned by every operation after Close
	ErrSessionClosed = errors.New("session is closed")

	// ErrUnknownQuery is returned by CreateNamedQuery for an undeclared name
	ErrUnknownQuery = errors.New("unknown named query")
)

// IsTransactionRequired checks if an error is ErrTransactionRequired
func IsTransactionRequired(err error) bool {
	return errors.Is(err, ErrTransactionRequired)
}

// IsDetachedEntity checks if an error is ErrDetachedEntity
func IsDetachedEntity(err error) bool {
	return errors.Is(err, ErrDetachedEntity)
}

// IsEntityNotFound checks if an error is ErrEntityNotFound
func IsEntityNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsTransientReference checks if an error is ErrTransientReference
func IsTransientReference(err error) bool {
	return errors.Is(err, ErrTransientReference)
}

// IsNoResult checks if an error is ErrNoResult
func IsNoResult(err error) bool {
	return errors.Is(err, ErrNoResult)
}

// IsNonUniqueResult checks if an error is ErrNonUniqueResult
func IsNonUniqueResult(err error) bool {
	return errors.Is(err, ErrNonUniqueResult)
}
