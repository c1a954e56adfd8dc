package imagesynth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-2.5-flash-image-preview"

// GeminiBackend calls the Gemini API directly and renders its answer in the
// chat-completions shape so Normalize can treat both backends alike.
type GeminiBackend struct {
	client *genai.Client
	model  string
	http   *http.Client
}

func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiBackend{client: client, model: model, http: &http.Client{Timeout: DefaultTimeout}}, nil
}

func (g *GeminiBackend) Close() error { return g.client.Close() }

func (g *GeminiBackend) Generate(ctx context.Context, req BackendRequest) ([]byte, error) {
	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, ref := range req.Images {
		blob, err := g.loadImage(ctx, ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, blob)
	}

	resp, err := g.client.GenerativeModel(g.model).GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return renderGeminiResponse(resp)
}

func renderGeminiResponse(resp *genai.GenerateContentResponse) ([]byte, error) {
	content := []map[string]any{}
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Blob:
				content = append(content, map[string]any{
					"type":  "image",
					"image": map[string]any{"data": base64.StdEncoding.EncodeToString(p.Data), "mime_type": p.MIMEType},
				})
			case genai.Text:
				content = append(content, map[string]any{"type": "text", "text": string(p)})
			}
		}
	}
	out := map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	}
	if resp != nil && resp.UsageMetadata != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     resp.UsageMetadata.PromptTokenCount,
			"completion_tokens": resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	return json.Marshal(out)
}

// loadImage accepts data URLs and http(s) URLs.
func (g *GeminiBackend) loadImage(ctx context.Context, ref string) (genai.Blob, error) {
	if strings.HasPrefix(ref, "data:") {
		mime, data, err := decodeDataURL(ref)
		if err != nil {
			return genai.Blob{}, err
		}
		return genai.Blob{MIMEType: mime, Data: data}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return genai.Blob{}, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return genai.Blob{}, fmt.Errorf("fetch reference image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return genai.Blob{}, fmt.Errorf("fetch reference image: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return genai.Blob{}, err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return genai.Blob{MIMEType: mime, Data: data}, nil
}

func decodeDataURL(ref string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return "", nil, errors.New("malformed data URL")
	}
	mime := strings.TrimSuffix(header, ";base64")
	if mime == "" {
		mime = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return mime, data, nil
}
