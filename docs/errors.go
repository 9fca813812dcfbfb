package docs

import "errors"

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable is returned when the store location cannot be accessed.
	ErrUnavailable = errors.New("document store unavailable")
	// ErrInvalidName is returned for names that escape the store.
	ErrInvalidName = errors.New("invalid document name")
)
