package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore implements ProductIndex using Postgres + pgvector.
type PostgresStore struct {
	DB    *pgxpool.Pool
	table string
}

// NewPostgresStore connects to Postgres. table defaults to "products".
func NewPostgresStore(ctx context.Context, connStr, table string) (*PostgresStore, error) {
	if table == "" {
		table = "products"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStore{DB: db, table: table}, nil
}

// Query ranks by cosine distance (`<=>`) and reports 1-distance as the score.
func (ps *PostgresStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if err := validateQuery(vector, topK); err != nil {
		return nil, err
	}
	if ps == nil || ps.DB == nil {
		return nil, ErrNotConfigured
	}
	rows, err := ps.DB.Query(ctx, fmt.Sprintf(`
        SELECT id, metadata::text, 1 - (embedding <=> $1::vector) AS score
        FROM %s
        ORDER BY embedding <=> $1::vector
        LIMIT $2;
        `, ps.table), vectorLiteral(vector), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var metadata string
		if err := rows.Scan(&m.ID, &metadata, &m.Score); err != nil {
			return nil, err
		}
		m.Metadata = decodeMetadata(metadata)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (ps *PostgresStore) Upsert(ctx context.Context, points []Point) error {
	if ps == nil || ps.DB == nil {
		return ErrNotConfigured
	}
	if len(points) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`
        INSERT INTO %s (id, metadata, embedding)
        VALUES ($1, $2::jsonb, $3::vector)
        ON CONFLICT (id) DO UPDATE SET metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, ps.table)
	batch := &pgx.Batch{}
	for _, p := range points {
		if len(p.Vector) == 0 {
			return ErrVectorMismatch
		}
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", p.ID, err)
		}
		batch.Queue(stmt, p.ID, string(meta), vectorLiteral(p.Vector))
	}
	return ps.DB.SendBatch(ctx, batch).Close()
}

// EnsureSchema creates the pgvector extension, the table and a cosine index.
func (ps *PostgresStore) EnsureSchema(ctx context.Context, dimension int) error {
	if ps == nil || ps.DB == nil {
		return ErrNotConfigured
	}
	if dimension <= 0 {
		return fmt.Errorf("postgres: invalid dimension %d", dimension)
	}
	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    metadata JSONB NOT NULL DEFAULT '{}',
    embedding vector(%[2]d),
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, ps.table, dimension)
	if _, err := ps.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close releases the underlying Postgres connection pool.
func (ps *PostgresStore) Close() error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	ps.DB.Close()
	return nil
}

func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec) * 8)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeMetadata(raw string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}
