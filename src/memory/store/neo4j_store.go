package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	neo4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cast"
)

// ErrNeo4jUnavailable is returned when operations are attempted without a configured driver.
var ErrNeo4jUnavailable = errors.New("neo4j driver not configured")

// neo4jQuerier abstracts the driver so tests can supply a fake.
type neo4jQuerier interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]neo4jRecord, error)
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// Neo4jStore keeps products as nodes with an `embedding` property covered
// by a native vector index. Metadata is stored as a JSON string property
// because node properties cannot hold maps.
type Neo4jStore struct {
	db    neo4jQuerier
	label string
	index string
}

func NewNeo4jStore(uri, username, password, database, label, index string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	return newNeo4jStore(&driverQuerier{driver: driver, database: database}, label, index)
}

func newNeo4jStore(db neo4jQuerier, label, index string) (*Neo4jStore, error) {
	if db == nil {
		return nil, ErrNeo4jUnavailable
	}
	if label == "" {
		label = "Product"
	}
	if index == "" {
		index = "product_embeddings"
	}
	if !tableNamePattern.MatchString(label) || !tableNamePattern.MatchString(index) {
		return nil, fmt.Errorf("invalid neo4j label %q or index %q", label, index)
	}
	return &Neo4jStore{db: db, label: label, index: index}, nil
}

func (s *Neo4jStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if err := validateQuery(vector, topK); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, ErrNeo4jUnavailable
	}
	records, err := s.db.ExecuteQuery(ctx, `
CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score
RETURN node.id AS id, node.metadata AS metadata, score
ORDER BY score DESC`, map[string]any{
		"index":     s.index,
		"k":         topK,
		"embedding": float64Embedding(vector),
	})
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		id, _ := rec.Get("id")
		meta, _ := rec.Get("metadata")
		score, _ := rec.Get("score")
		matches = append(matches, Match{
			ID:       cast.ToString(id),
			Score:    cast.ToFloat64(score),
			Metadata: decodeMetadata(cast.ToString(meta)),
		})
	}
	return matches, nil
}

func (s *Neo4jStore) Upsert(ctx context.Context, points []Point) error {
	if s == nil || s.db == nil {
		return ErrNeo4jUnavailable
	}
	if len(points) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if len(p.Vector) == 0 {
			return ErrVectorMismatch
		}
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", p.ID, err)
		}
		rows = append(rows, map[string]any{
			"id":        p.ID,
			"metadata":  string(meta),
			"embedding": float64Embedding(p.Vector),
		})
	}
	_, err := s.db.ExecuteQuery(ctx, fmt.Sprintf(`
UNWIND $rows AS row
MERGE (p:%s {id: row.id})
SET p.metadata = row.metadata, p.embedding = row.embedding`, s.label), map[string]any{"rows": rows})
	return err
}

func (s *Neo4jStore) EnsureSchema(ctx context.Context, dimension int) error {
	if s == nil || s.db == nil {
		return ErrNeo4jUnavailable
	}
	if dimension <= 0 {
		return fmt.Errorf("neo4j: invalid dimension %d", dimension)
	}
	_, err := s.db.ExecuteQuery(ctx, fmt.Sprintf(`
CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (p:%s) ON (p.embedding)
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
		s.index, s.label, dimension), nil)
	return err
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close(ctx)
}

type driverQuerier struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverQuerier) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]neo4jRecord, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if d.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(d.database))
	}
	res, err := neo4j.ExecuteQuery(ctx, d.driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]neo4jRecord, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, rec)
	}
	return out, nil
}

func (d *driverQuerier) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}
