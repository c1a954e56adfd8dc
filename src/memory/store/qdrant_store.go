package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// productIDKey keeps the caller's id in the payload; Qdrant only accepts
// unsigned integers or UUIDs as point ids.
const productIDKey = "product_id"

type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPointResult struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// QdrantStore queries a Qdrant collection over its REST API.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

func NewQdrantStore(baseURL, collection, apiKey string) *QdrantStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (qs *QdrantStore) WithHTTPClient(c *http.Client) *QdrantStore {
	if c != nil {
		qs.client = c
	}
	return qs
}

// EnsureSchema creates the collection with cosine distance. An existing
// collection is not an error.
func (qs *QdrantStore) EnsureSchema(ctx context.Context, dimension int) error {
	if qs.collection == "" {
		return ErrNotConfigured
	}
	if dimension <= 0 {
		return fmt.Errorf("qdrant: invalid dimension %d", dimension)
	}
	req := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": DistanceCosine},
	}
	var resp qdrantEnvelope[json.RawMessage]
	err := qs.do(ctx, http.MethodPut, qs.collectionPath(""), req, &resp)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

func (qs *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if qs.collection == "" {
		return ErrNotConfigured
	}
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if len(p.Vector) == 0 {
			return ErrVectorMismatch
		}
		payload := maps.Clone(p.Metadata)
		if payload == nil {
			payload = map[string]any{}
		}
		payload[productIDKey] = p.ID
		body = append(body, map[string]any{
			"id":      qdrantPointID(p.ID),
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	var resp qdrantEnvelope[json.RawMessage]
	if err := qs.do(ctx, http.MethodPut, qs.collectionPath("/points?wait=true"), map[string]any{"points": body}, &resp); err != nil {
		return err
	}
	if resp.Status.Error != "" {
		return errors.New(resp.Status.Error)
	}
	return nil
}

func (qs *QdrantStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if err := validateQuery(vector, topK); err != nil {
		return nil, err
	}
	if qs.collection == "" {
		return nil, ErrNotConfigured
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp qdrantEnvelope[[]qdrantPointResult]
	if err := qs.do(ctx, http.MethodPost, qs.collectionPath("/points/search"), reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Status.Error != "" {
		return nil, errors.New(resp.Status.Error)
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, point := range resp.Result {
		payload := point.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		id, _ := payload[productIDKey].(string)
		if id == "" {
			id = strings.Trim(string(point.ID), `"`)
		}
		delete(payload, productIDKey)
		matches = append(matches, Match{ID: id, Score: point.Score, Metadata: payload})
	}
	return matches, nil
}

func (qs *QdrantStore) collectionPath(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(qs.collection), suffix)
}

func (qs *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	u := qs.baseURL + path

	buf := bytes.NewBuffer(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		req.Header.Set("api-key", qs.apiKey)
	}
	resp, err := qs.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("qdrant %s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		var env qdrantEnvelope[json.RawMessage]
		if json.Unmarshal(payload, &env) == nil && env.Status.Error != "" {
			return fmt.Errorf("qdrant %s %s -> http %d: %s", method, path, resp.StatusCode, env.Status.Error)
		}
		return fmt.Errorf("qdrant %s %s -> http %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	return nil
}

// qdrantPointID derives a stable UUID from an arbitrary product id so that
// re-ingesting the same product overwrites its point.
func qdrantPointID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}
