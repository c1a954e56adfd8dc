package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	agent "github.com/Protocol-Lattice/promo-agent"
	"github.com/Protocol-Lattice/promo-agent/src/captions"
	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/imagesynth"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

const photo = "data:image/jpeg;base64,/9j/4AAQSkZJRg=="

type fakeSearcher struct {
	mu       sync.Mutex
	products []catalog.ProductRecord
	err      error
	limits   []int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, limit int) catalog.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return catalog.Outcome{Products: []catalog.ProductRecord{}, Error: errs.UserMessage(f.err), Err: f.err}
	}
	return catalog.Outcome{Products: f.products}
}

type fakeImages struct {
	mu   sync.Mutex
	reqs []imagesynth.Request
}

func (f *fakeImages) Synthesize(_ context.Context, req imagesynth.Request) imagesynth.Result {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if req.UserPhoto == "" {
		return imagesynth.Result{Error: errs.ErrPhotoRequired.Message, Err: errs.ErrPhotoRequired}
	}
	return imagesynth.Result{ImageURL: "https://img.example.com/" + strings.ReplaceAll(req.ProductName, " ", "-") + ".png"}
}

func products() []catalog.ProductRecord {
	return []catalog.ProductRecord{
		{Name: "HydraGlow Cream", Brand: "Aqua Labs", Category: "Skincare", Price: 449, Image: "https://cdn.example.com/hydraglow.jpg"},
	}
}

type fixture struct {
	handler  http.Handler
	model    *models.ScriptedModel
	searcher *fakeSearcher
	images   *fakeImages
	registry *prometheus.Registry
}

func newFixture(t *testing.T, turns ...models.Turn) *fixture {
	t.Helper()
	f := &fixture{
		model:    models.NewScriptedModel(turns...),
		searcher: &fakeSearcher{products: products()},
		images:   &fakeImages{},
		registry: prometheus.NewRegistry(),
	}
	logger := zaptest.NewLogger(t)
	orch, err := agent.New(agent.Options{
		Model:    f.model,
		Searcher: f.searcher,
		Images:   f.images,
		Logger:   logger,
		Metrics:  agent.MustNewMetrics(f.registry),
	})
	require.NoError(t, err)

	writer, err := captions.New(captions.Options{Model: f.model})
	require.NoError(t, err)
	advisor, err := captions.NewAdvisor(captions.AdvisorOptions{Model: f.model, Logger: logger})
	require.NoError(t, err)

	srv, err := New(Options{
		Agent:    orch,
		Searcher: f.searcher,
		Images:   f.images,
		Writer:   writer,
		Advisor:  advisor,
		Gatherer: f.registry,
		Logger:   logger,
	})
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func searchThenText(text string) []models.Turn {
	return []models.Turn{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "searchProducts", Arguments: `{"query":"cream"}`}}},
		{Text: text},
	}
}

func userMessage(text string) []map[string]any {
	return []map[string]any{{"role": "user", "content": text}}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestAgentEndpoint(t *testing.T) {
	f := newFixture(t, searchThenText("")...)
	rec := f.post(t, "/api/agent", map[string]any{"messages": userMessage("find me a cream")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Contains(t, out["text"], "🔍 Found Products:")
	assert.Contains(t, out["text"], "HydraGlow Cream")
	assert.NotContains(t, out, "imageUrl")
}

func TestAgentEndpointRepairsImageRequest(t *testing.T) {
	f := newFixture(t, searchThenText("")...)
	rec := f.post(t, "/api/agent", map[string]any{
		"messages":        userMessage("generate a promo image with a cream"),
		"influencerImage": photo,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://img.example.com/HydraGlow-Cream.png", decode(t, rec)["imageUrl"])
	require.Len(t, f.images.reqs, 1)
	assert.Equal(t, photo, f.images.reqs[0].UserPhoto)
}

func TestAgentEndpointErrors(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/agent", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "conversation is empty", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/agent", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f = newFixture(t)
	f.model.FailAt(0, errors.New("connection refused"))
	rec = f.post(t, "/api/agent", map[string]any{"messages": userMessage("hi")})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])
}

func TestAgentStreamEndpoint(t *testing.T) {
	f := newFixture(t, searchThenText("Two picks for you")...)
	rec := f.post(t, "/api/agent/stream", map[string]any{"messages": userMessage("find me a cream")})
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "event:tool")
	assert.Contains(t, body, "event:delta")
	assert.Contains(t, body, "event:done")
	assert.NotContains(t, body, "event:error")
	assert.Greater(t, strings.Index(body, "event:done"), strings.Index(body, "event:tool"))
}

func TestAgentStreamReportsFatalError(t *testing.T) {
	f := newFixture(t)
	f.model.FailAt(0, errors.New("boom"))
	rec := f.post(t, "/api/agent/stream", map[string]any{"messages": userMessage("hi")})
	body := rec.Body.String()
	assert.Contains(t, body, "event:error")
	assert.NotContains(t, body, "event:done")
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/search", map[string]any{"query": "cream"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["products"], 1)

	f.post(t, "/api/search", map[string]any{"query": "cream", "limit": 500})
	assert.Equal(t, []int{DefaultSearchLimit, catalog.MaxLimit}, f.searcher.limits)

	rec = f.post(t, "/api/search", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.searcher.err = errs.Upstream("searchProducts", errors.New("index down"))
	rec = f.post(t, "/api/search", map[string]any{"query": "cream"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec), "error")
}

func TestGenerateImageEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/generate-image", map[string]any{
		"productName":        "HydraGlow Cream",
		"productImageUrl":    "https://cdn.example.com/hydraglow.jpg",
		"influencerImage":    photo,
		"customInstructions": "beach at sunset",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://img.example.com/HydraGlow-Cream.png", decode(t, rec)["imageUrl"])
	assert.Equal(t, "beach at sunset", f.images.reqs[0].CustomInstructions)

	rec = f.post(t, "/api/generate-image", map[string]any{
		"productName":     "HydraGlow Cream",
		"productImageUrl": "https://cdn.example.com/hydraglow.jpg",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "photo required", decode(t, rec)["error"])

	rec = f.post(t, "/api/generate-image", map[string]any{"productName": "HydraGlow Cream"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.images.reqs, 2)
}

func TestGeneratePostEndpoint(t *testing.T) {
	f := newFixture(t, models.Turn{Text: "Loving my new glow ✨ #skincare #glow #selfcare"})
	rec := f.post(t, "/api/generate-post", map[string]any{
		"productName": "HydraGlow Cream",
		"brand":       "Aqua Labs",
		"price":       449,
		"url":         "https://shop.example.com/r/1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["post"], "#skincare")

	rec = f.post(t, "/api/generate-post", map[string]any{"brand": "Aqua Labs"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpoint(t *testing.T) {
	f := newFixture(t, models.Turn{Text: "Use #glowup #skincare #selfcare"})
	rec := f.post(t, "/api/chat", map[string]any{"messages": userMessage("hashtags for my cream post?")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "event:delta")
	assert.Contains(t, body, "event:done")
	assert.Contains(t, body, "#selfcare")
	assert.NotContains(t, body, "event:error")

	req := f.model.Requests()[0]
	assert.Equal(t, captions.AdvisorPrompt, req.System)
	assert.Empty(t, req.Tools)
}

func TestChatEndpointErrors(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/chat", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No messages provided", decode(t, rec)["error"])

	rec = f.post(t, "/api/chat", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.model.Calls())

	f = newFixture(t)
	f.model.FailAt(0, errors.New("connection refused"))
	rec = f.post(t, "/api/chat", map[string]any{"messages": userMessage("hi")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event:error")
	assert.NotContains(t, rec.Body.String(), "event:done")
}

func TestUnconfiguredToolEndpoints(t *testing.T) {
	orch, err := agent.New(agent.Options{Model: models.NewScriptedModel(), Searcher: &fakeSearcher{}})
	require.NoError(t, err)
	srv, err := New(Options{Agent: orch, Gatherer: prometheus.NewRegistry()})
	require.NoError(t, err)

	for _, path := range []string{"/api/chat", "/api/search", "/api/generate-image", "/api/generate-post"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, models.Turn{Text: "hello"})
	f.post(t, "/api/agent", map[string]any{"messages": userMessage("hi")})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "promo_agent_requests_total")
	assert.Contains(t, rec.Body.String(), "promo_agent_model_call_duration_seconds")
}
