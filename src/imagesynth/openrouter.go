package imagesynth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "google/gemini-2.5-flash-image-preview"
)

// OpenRouterBackend sends multimodal chat completions and returns the raw
// body. go-openai's typed response drops the `images` field, so the request
// is built by hand.
type OpenRouterBackend struct {
	baseURL string
	apiKey  string
	model   string
	referer string
	client  *http.Client
}

type OpenRouterConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Referer string
	Client  *http.Client
}

func NewOpenRouterBackend(cfg OpenRouterConfig) *OpenRouterBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 2 * DefaultTimeout}
	}
	return &OpenRouterBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		referer: cfg.Referer,
		client:  cfg.Client,
	}
}

type chatPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *chatPartImage `json:"image_url,omitempty"`
}

type chatPartImage struct {
	URL string `json:"url"`
}

func (b *OpenRouterBackend) Generate(ctx context.Context, req BackendRequest) ([]byte, error) {
	parts := []chatPart{{Type: "text", Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, chatPart{Type: "image_url", ImageURL: &chatPartImage{URL: img}})
	}
	body, err := json.Marshal(map[string]any{
		"model":      b.model,
		"messages":   []map[string]any{{"role": "user", "content": parts}},
		"modalities": []string{"image", "text"},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	if b.referer != "" {
		httpReq.Header.Set("HTTP-Referer", b.referer)
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("openrouter: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(payload, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(payload))
		}
		return nil, fmt.Errorf("openrouter: http %d after %s: %s", resp.StatusCode, time.Since(start).Round(time.Millisecond), truncate(msg, 300))
	}
	if e := gjson.GetBytes(payload, "error.message"); e.Exists() {
		return nil, fmt.Errorf("openrouter: %s", truncate(e.String(), 300))
	}
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
