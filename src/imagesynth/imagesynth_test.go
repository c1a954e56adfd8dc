package imagesynth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
)

type stubBackend struct {
	mu       sync.Mutex
	calls    int
	requests []BackendRequest
	body     string
	err      error
}

func (s *stubBackend) Generate(_ context.Context, req BackendRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	return []byte(s.body), s.err
}

func newSynth(t *testing.T, b Backend, cacheSize int) *Synthesizer {
	t.Helper()
	s, err := New(Options{Backend: b, CacheSize: cacheSize})
	require.NoError(t, err)
	return s
}

const attachmentBody = `{"choices":[{"message":{"role":"assistant","content":"Here you go","images":[{"type":"image_url","image_url":{"url":"https://cdn.example/img.png"}}]}}]}`

func TestSynthesizeRequiresPhotoWithoutCallingBackend(t *testing.T) {
	backend := &stubBackend{body: attachmentBody}
	res := newSynth(t, backend, 0).Synthesize(context.Background(), Request{
		ProductName:     "HydraGlow Cream",
		ProductImageURL: "https://img/hydra.jpg",
	})
	assert.False(t, res.OK())
	assert.Equal(t, "photo required", res.Error)
	assert.ErrorIs(t, res.Err, errs.ErrPhotoRequired)
	assert.Zero(t, backend.calls)
}

func TestSynthesizeSendsPromptAndBothImages(t *testing.T) {
	backend := &stubBackend{body: attachmentBody}
	res := newSynth(t, backend, 0).Synthesize(context.Background(), Request{
		ProductName:        "HydraGlow Cream",
		ProductImageURL:    "https://img/hydra.jpg",
		UserPhoto:          "data:image/jpeg;base64,AAAA",
		CustomInstructions: "Beach at sunset.",
	})
	require.True(t, res.OK())
	assert.Equal(t, "https://cdn.example/img.png", res.ImageURL)

	require.Len(t, backend.requests, 1)
	sent := backend.requests[0]
	assert.Equal(t, []string{"data:image/jpeg;base64,AAAA", "https://img/hydra.jpg"}, sent.Images)
	assert.Contains(t, sent.Prompt, "HydraGlow Cream")
	assert.Contains(t, sent.Prompt, DefaultScene)
	assert.Contains(t, sent.Prompt, "naturally")
	assert.True(t, strings.HasSuffix(sent.Prompt, " Additional instructions: Beach at sunset."))
}

func TestBuildPromptWithoutProductImage(t *testing.T) {
	p := BuildPrompt(Request{ProductName: "Trail Boots", Scene: "mountain trail"})
	assert.Contains(t, p, "holding Trail Boots.")
	assert.Contains(t, p, "Scene: mountain trail.")
	assert.NotContains(t, p, "second image")
	assert.NotContains(t, p, "Additional instructions")
}

func TestNormalizeShapes(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		url   string
		shape Shape
	}{
		{"attachment", attachmentBody, "https://cdn.example/img.png", ShapeImageAttachment},
		{"inline base64", `{"choices":[{"message":{"content":[{"type":"text","text":"done"},{"type":"image","image":{"data":"iVBORw0KGgo="}}]}}]}`,
			"data:image/png;base64,iVBORw0KGgo=", ShapeInlineContent},
		{"inline with mime", `{"choices":[{"message":{"content":[{"type":"image","image":{"data":"/9j/4AAQ","mime_type":"image/jpeg"}}]}}]}`,
			"data:image/jpeg;base64,/9j/4AAQ", ShapeInlineContent},
		{"markdown", `{"choices":[{"message":{"content":"Here it is: ![promo](https://cdn.example/a.webp) enjoy"}}]}`,
			"https://cdn.example/a.webp", ShapeTextLink},
		{"bare url", `{"choices":[{"message":{"content":"Your image: https://cdn.example/b.png."}}]}`,
			"https://cdn.example/b.png", ShapeTextLink},
		{"attachment wins over text", `{"choices":[{"message":{"content":"see https://other.example/x.png","images":[{"image_url":{"url":"https://cdn.example/first.png"}}]}}]}`,
			"https://cdn.example/first.png", ShapeImageAttachment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Normalize([]byte(tc.body))
			assert.Equal(t, tc.url, n.ImageURL)
			assert.Equal(t, tc.shape, n.Shape)
		})
	}
}

func TestNormalizeNoImageReportsDiagnostic(t *testing.T) {
	n := Normalize([]byte(`{"choices":[{"message":{"content":"I cannot do that."}}],"usage":{"completion_tokens":12,"completion_tokens_details":{"image_tokens":0}}}`))
	assert.Empty(t, n.ImageURL)
	assert.Equal(t, ShapeNone, n.Shape)
	assert.Equal(t, "image_tokens=0", n.Diagnostic)

	assert.Equal(t, "response is not valid JSON", Normalize([]byte("<html>")).Diagnostic)
	assert.Equal(t, "no image in response", Normalize([]byte(`{"choices":[]}`)).Diagnostic)
}

func TestSynthesizeNoImageData(t *testing.T) {
	backend := &stubBackend{body: `{"choices":[{"message":{"content":"sorry"}}],"usage":{"completion_tokens_details":{"image_tokens":1290}}}`}
	res := newSynth(t, backend, 0).Synthesize(context.Background(), Request{ProductName: "X", UserPhoto: "https://me.jpg"})
	assert.False(t, res.OK())
	assert.Equal(t, "no image data found", res.Error)
	assert.Equal(t, "image_tokens=1290", res.Diagnostic)
	assert.Equal(t, errs.KindSynthesisRejected, errs.KindOf(res.Err))
}

func TestSynthesizeBackendFailureIsUpstream(t *testing.T) {
	backend := &stubBackend{err: errors.New("openrouter: http 502")}
	res := newSynth(t, backend, 0).Synthesize(context.Background(), Request{ProductName: "X", UserPhoto: "https://me.jpg"})
	assert.False(t, res.OK())
	assert.True(t, errs.IsUpstream(res.Err))
	assert.NotEmpty(t, res.Error)
}

func TestSynthesizeCachesSuccessOnly(t *testing.T) {
	backend := &stubBackend{body: attachmentBody}
	s := newSynth(t, backend, 8)
	req := Request{ProductName: "X", ProductImageURL: "https://p.jpg", UserPhoto: "https://me.jpg"}

	first := s.Synthesize(context.Background(), req)
	second := s.Synthesize(context.Background(), req)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.calls)

	req.UserPhoto = "https://someone-else.jpg"
	s.Synthesize(context.Background(), req)
	assert.Equal(t, 2, backend.calls)

	backend.body = `{"choices":[{"message":{"content":"nope"}}]}`
	req.Scene = "studio"
	s.Synthesize(context.Background(), req)
	s.Synthesize(context.Background(), req)
	assert.Equal(t, 4, backend.calls)
}

func TestOpenRouterBackendRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(attachmentBody))
	}))
	defer srv.Close()

	b := NewOpenRouterBackend(OpenRouterConfig{BaseURL: srv.URL, APIKey: "key"})
	raw, err := b.Generate(context.Background(), BackendRequest{Prompt: "compose", Images: []string{"data:image/png;base64,AA", "https://p.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/img.png", Normalize(raw).ImageURL)

	assert.Equal(t, DefaultOpenRouterModel, got["model"])
	msgs := got["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 3)
	assert.Equal(t, "compose", content[0].(map[string]any)["text"])
	assert.Equal(t, "data:image/png;base64,AA", content[1].(map[string]any)["image_url"].(map[string]any)["url"])
	assert.Equal(t, "https://p.jpg", content[2].(map[string]any)["image_url"].(map[string]any)["url"])
}

func TestOpenRouterBackendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenRouterBackend(OpenRouterConfig{BaseURL: srv.URL}).Generate(context.Background(), BackendRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRenderGeminiResponseNormalizes(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text("Here you go"),
				genai.Blob{MIMEType: "image/png", Data: []byte{0x89, 0x50}},
			}},
		}},
	}
	raw, err := renderGeminiResponse(resp)
	require.NoError(t, err)
	n := Normalize(raw)
	assert.Equal(t, "data:image/png;base64,iVA=", n.ImageURL)
	assert.Equal(t, ShapeInlineContent, n.Shape)
}

func TestDecodeDataURL(t *testing.T) {
	mime, data, err := decodeDataURL("data:image/jpeg;base64,iVA=")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	assert.Equal(t, []byte{0x89, 0x50}, data)

	_, _, err = decodeDataURL("data:nocomma")
	assert.Error(t, err)
}
