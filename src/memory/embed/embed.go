package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string // openai|ollama|gemini|voyage|fastembed|dummy
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int // expected vector length; 0 accepts any non-empty vector
	CacheSize  int // 0 disables the query cache
}

// ---------- Dummy (offline) ----------
type DummyEmbedder struct{}

func (DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text), nil
}

// DummyEmbedding folds bytes into a 768-dim vector. Deterministic, useful for tests.
func DummyEmbedding(text string) []float32 {
	vec := make([]float32, 768)
	for i, ch := range []byte(text) {
		vec[i%768] += float32(ch) / 255.0
	}
	return vec
}

// New builds the configured provider wrapped with validation and, when
// CacheSize > 0, an LRU query cache.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "openrouter":
		inner, err = NewOpenAIEmbedder(cfg.Model, cfg.BaseURL, cfg.APIKey, cfg.Dimensions)
	case "ollama":
		inner, err = NewOllamaEmbedder(cfg.Model, cfg.BaseURL)
	case "gemini", "google":
		inner, err = NewGeminiEmbedder(ctx, cfg.Model, cfg.APIKey)
	case "voyage":
		inner, err = NewVoyageEmbedder(cfg.Model, cfg.BaseURL, cfg.APIKey)
	case "fastembed":
		inner, err = NewFastEmbeed(ctx, defaultFastEmbedOptions())
	case "", "dummy":
		inner = DummyEmbedder{}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("embedder %s: %w", cfg.Provider, err)
	}
	var e Embedder = Validate(inner, cfg.Dimensions)
	if cfg.CacheSize > 0 {
		cached, err := NewCached(e, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		e = cached
	}
	return e, nil
}

// Validated enforces the embedding contract on top of a raw provider: blank
// input is rejected, provider failures and malformed vectors surface as
// errs.KindUpstreamUnavailable.
type Validated struct {
	inner Embedder
	dim   int
}

// Validate wraps e. dim <= 0 accepts any non-empty vector.
func Validate(e Embedder, dim int) *Validated {
	return &Validated{inner: e, dim: dim}
}

func (v *Validated) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.ErrEmptyQuery
	}
	vec, err := v.inner.Embed(ctx, text)
	if err != nil {
		return nil, errs.Upstream("embed", err)
	}
	if len(vec) == 0 {
		return nil, errs.Upstream("embed", ErrEmptyVector)
	}
	if v.dim > 0 && len(vec) != v.dim {
		return nil, errs.Upstream("embed", fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), v.dim))
	}
	return vec, nil
}
