package store

import (
	"context"
	"errors"
)

// Match is one nearest-neighbour hit. Metadata is the payload stored with the
// vector and is treated as untrusted: callers must coerce every field.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Point is a vector plus payload for ingestion.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// ProductIndex is the similarity-search contract the catalog relies on.
// Query ranks by cosine similarity, highest score first, and always returns
// metadata alongside each match.
type ProductIndex interface {
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Upsert(ctx context.Context, points []Point) error
}

// SchemaInitializer is implemented by backends that can bootstrap their
// collection/table/index for a given vector dimension.
type SchemaInitializer interface {
	EnsureSchema(ctx context.Context, dimension int) error
}

var (
	ErrInvalidTopK    = errors.New("topK must be positive")
	ErrEmptyVector    = errors.New("query vector is empty")
	ErrNotConfigured  = errors.New("vector index not configured")
	ErrVectorMismatch = errors.New("point has no vector")
)

func validateQuery(vector []float32, topK int) error {
	if topK <= 0 {
		return ErrInvalidTopK
	}
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	return nil
}
