package embed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	DefaultVoyageURL   = "https://api.voyageai.com/v1"
	DefaultVoyageModel = "voyage-3.5"
)

// VoyageEmbedder calls Voyage AI, the embeddings provider recommended for
// Anthropic deployments. Anthropic itself has no embeddings endpoint.
type VoyageEmbedder struct {
	client   *http.Client
	apiKey   string
	model    string
	endpoint string
	// InputType is "query", "document" or "" to let the service decide.
	InputType string
}

func NewVoyageEmbedder(model, baseURL, apiKey string) (*VoyageEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("VOYAGE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("voyage: api key is required (VOYAGE_API_KEY)")
	}
	if model == "" {
		model = DefaultVoyageModel
	}
	if baseURL == "" {
		baseURL = DefaultVoyageURL
	}
	return &VoyageEmbedder{
		client:   &http.Client{Timeout: 60 * time.Second},
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(baseURL, "/") + "/embeddings",
	}, nil
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (v *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(voyageRequest{Input: []string{text}, Model: v.model, InputType: v.InputType})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("voyage embeddings HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	var out voyageResponse
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode voyage response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, ErrEmptyVector
	}
	vec := make([]float32, len(out.Data[0].Embedding))
	for i, x := range out.Data[0].Embedding {
		vec[i] = float32(x)
	}
	return vec, nil
}
