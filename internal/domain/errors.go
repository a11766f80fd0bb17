package domain

import "errors"

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err wraps ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

var (
	// ErrConflict is returned when a mutation would violate an exclusivity
	// rule, e.g. starting a season while one is active.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when the target season, course, or message
	// handle does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvariant signals corrupted state (e.g. two active seasons).
	// Callers should stop the affected subsystem rather than continue.
	ErrInvariant = errors.New("invariant violation")
)
