package embed

import "errors"

var (
	// ErrNotSupported is returned by providers that do not offer embeddings.
	ErrNotSupported = errors.New("embeddings not supported by this provider")
	// ErrEmptyVector is returned when the provider answered without a vector.
	ErrEmptyVector = errors.New("embedding response has no vector")
	// ErrDimensionMismatch is returned when a vector has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
