package mapping

import "errors"

// Sentinel errors for entity mapping
var (
	// ErrNotEntity is returned when a value is not a pointer to a struct
	ErrNotEntity = errors.New("not an entity")

	// ErrUnknownEntity is returned when a type or name is not registered
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrInvalidMapping is returned for inconsistent orm tags
	ErrInvalidMapping = errors.New("invalid mapping")

	// ErrLazyInitialization is returned when an unloaded association is
	// accessed after its owning session is gone
	ErrLazyInitialization = errors.New("failed to lazily initialize association: no session")

	// ErrConversion is returned when a database value cannot be assigned to a field
	ErrConversion = errors.New("value conversion failed")
)

// IsUnknownEntity checks if an error is ErrUnknownEntity
func IsUnknownEntity(err error) bool {
	return errors.Is(err, ErrUnknownEntity)
}

// IsLazyInitialization checks if an error is ErrLazyInitialization
func IsLazyInitialization(err error) bool {
	return errors.Is(err, ErrLazyInitialization)
}
