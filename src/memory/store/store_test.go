package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreRanksByCosine(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]any{"name": "A"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]any{"name": "B"}},
		{ID: "c", Vector: []float32{0.7, 0.7}, Metadata: map[string]any{"name": "C"}},
	}))

	matches, err := s.Query(ctx, []float32{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "c", matches[1].ID)
	assert.Equal(t, "A", matches[0].Metadata["name"])
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestInMemoryStoreUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]any{"v": 1}}}))
	require.NoError(t, s.Upsert(ctx, []Point{{ID: "a", Vector: []float32{0, 1}, Metadata: map[string]any{"v": 2}}}))
	assert.Equal(t, 1, s.Count())

	matches, err := s.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].Metadata["v"])
}

func TestInMemoryStoreMetadataIsCopied(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	meta := map[string]any{"name": "orig"}
	require.NoError(t, s.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1}, Metadata: meta}}))
	meta["name"] = "mutated"

	matches, err := s.Query(ctx, []float32{1}, 1)
	require.NoError(t, err)
	matches[0].Metadata["name"] = "also mutated"

	again, err := s.Query(ctx, []float32{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "orig", again[0].Metadata["name"])
}

func TestQueryValidation(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Query(context.Background(), []float32{1}, 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
	_, err = s.Query(context.Background(), nil, 3)
	assert.ErrorIs(t, err, ErrEmptyVector)
	assert.ErrorIs(t, s.Upsert(context.Background(), []Point{{ID: "x"}}), ErrVectorMismatch)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity(nil, []float32{1}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestQdrantStoreQuery(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/collections/products/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"ok","time":0.001,"result":[
			{"id":"8c1e5b4e-0000-5000-8000-000000000001","score":0.91,"payload":{"product_id":"p-1","name":"HydraGlow Cream","price":"349"}},
			{"id":42,"score":0.5,"payload":{"name":"Other"}}
		]}`))
	}))
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "products", "secret")
	matches, err := qs.Query(context.Background(), []float32{0.1, 0.2}, 6)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "p-1", matches[0].ID)
	assert.InDelta(t, 0.91, matches[0].Score, 1e-9)
	assert.Equal(t, "HydraGlow Cream", matches[0].Metadata["name"])
	assert.NotContains(t, matches[0].Metadata, productIDKey)
	assert.Equal(t, "42", matches[1].ID)

	assert.EqualValues(t, 6, got["limit"])
	assert.Equal(t, true, got["with_payload"])
}

func TestQdrantStoreSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection products doesn't exist!"}}`))
	}))
	defer srv.Close()

	_, err := NewQdrantStore(srv.URL, "products", "").Query(context.Background(), []float32{1}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't exist")
}

func TestQdrantStoreTruncatedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte(`{"status":"ok","result":[`))
	}))
	defer srv.Close()

	_, err := NewQdrantStore(srv.URL, "products", "").Query(context.Background(), []float32{1}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "read response")
}

func TestQdrantStoreUpsertUsesStableIDs(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/collections/products/points"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		_, _ = w.Write([]byte(`{"status":"ok","result":{"status":"completed"}}`))
	}))
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "products", "")
	pts := []Point{{ID: "p-1", Vector: []float32{1, 2}, Metadata: map[string]any{"name": "A"}}}
	require.NoError(t, qs.Upsert(context.Background(), pts))
	require.NoError(t, qs.Upsert(context.Background(), pts))
	require.Len(t, bodies, 2)

	first := bodies[0]["points"].([]any)[0].(map[string]any)
	second := bodies[1]["points"].([]any)[0].(map[string]any)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, "p-1", first["payload"].(map[string]any)[productIDKey])
	assert.Nil(t, pts[0].Metadata[productIDKey])
}

func TestQdrantStoreEnsureSchemaIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":{"error":"Wrong input: Collection products already exists!"}}`))
	}))
	defer srv.Close()
	assert.NoError(t, NewQdrantStore(srv.URL, "products", "").EnsureSchema(context.Background(), 768))
}

type fakeNeo4jRecord map[string]any

func (r fakeNeo4jRecord) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

type fakeNeo4j struct {
	queries []string
	params  []map[string]any
	records []neo4jRecord
	err     error
}

func (f *fakeNeo4j) ExecuteQuery(_ context.Context, query string, params map[string]any) ([]neo4jRecord, error) {
	f.queries = append(f.queries, query)
	f.params = append(f.params, params)
	return f.records, f.err
}

func (f *fakeNeo4j) Close(context.Context) error { return nil }

func TestNeo4jStoreQuery(t *testing.T) {
	fake := &fakeNeo4j{records: []neo4jRecord{
		fakeNeo4jRecord{"id": "p-9", "metadata": `{"name":"Lip Oil","brand":"Glossy"}`, "score": 0.77},
	}}
	s, err := newNeo4jStore(fake, "", "")
	require.NoError(t, err)

	matches, err := s.Query(context.Background(), []float32{0.5}, 4)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "p-9", matches[0].ID)
	assert.InDelta(t, 0.77, matches[0].Score, 1e-9)
	assert.Equal(t, "Glossy", matches[0].Metadata["brand"])
	assert.Contains(t, fake.queries[0], "db.index.vector.queryNodes")
	assert.Equal(t, "product_embeddings", fake.params[0]["index"])
	assert.Equal(t, 4, fake.params[0]["k"])
}

func TestNeo4jStoreUpsertAndErrors(t *testing.T) {
	fake := &fakeNeo4j{}
	s, err := newNeo4jStore(fake, "Item", "items_idx")
	require.NoError(t, err)
	require.NoError(t, s.Upsert(context.Background(), []Point{{ID: "p-1", Vector: []float32{1}, Metadata: map[string]any{"name": "A"}}}))
	assert.Contains(t, fake.queries[0], "MERGE (p:Item")
	rows := fake.params[0]["rows"].([]map[string]any)
	assert.Equal(t, `{"name":"A"}`, rows[0]["metadata"])

	fake.err = errors.New("unavailable")
	_, err = s.Query(context.Background(), []float32{1}, 1)
	assert.Error(t, err)

	_, err = newNeo4jStore(fake, "Bad Label", "")
	assert.Error(t, err)
	_, err = newNeo4jStore(nil, "", "")
	assert.ErrorIs(t, err, ErrNeo4jUnavailable)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[1,0.5,-2]", vectorLiteral([]float32{1, 0.5, -2}))
	assert.Equal(t, "[]", vectorLiteral(nil))
	assert.Equal(t, map[string]any{"a": "b"}, decodeMetadata(`{"a":"b"}`))
	assert.Empty(t, decodeMetadata("not json"))
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("PROMO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PROMO_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	ps, err := NewPostgresStore(ctx, dsn, "products_test")
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, ps.EnsureSchema(ctx, 3))
	require.NoError(t, ps.Upsert(ctx, []Point{
		{ID: "near", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"name": "Near"}},
		{ID: "far", Vector: []float32{0, 0, 1}, Metadata: map[string]any{"name": "Far"}},
	}))
	matches, err := ps.Query(ctx, []float32{1, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "near", matches[0].ID)
	assert.Equal(t, "Near", matches[0].Metadata["name"])
}
