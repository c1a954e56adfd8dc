//go:build fastembed

package embed

import (
	"context"
	"os"

	fastembed "github.com/anush008/fastembed-go"
)

// Options configures the local ONNX embedder.
type Options struct {
	Model     fastembed.EmbeddingModel
	CacheDir  string
	MaxLength int
}

// FastEmbedder runs bge-small locally; no network call is made per query.
type FastEmbedder struct {
	m *fastembed.FlagEmbedding
}

func defaultFastEmbedOptions() *Options {
	dir := os.Getenv("FASTEMBED_CACHE_DIR")
	if dir == "" {
		dir = ".fastembed"
	}
	return &Options{CacheDir: dir}
}

func NewFastEmbeed(_ context.Context, opt *Options) (Embedder, error) {
	var init *fastembed.InitOptions
	if opt != nil {
		init = &fastembed.InitOptions{
			Model:     opt.Model,
			CacheDir:  opt.CacheDir,
			MaxLength: opt.MaxLength,
		}
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, err
	}
	return &FastEmbedder{m: m}, nil
}

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

func (e *FastEmbedder) Embed(_ context.Context, q string) ([]float32, error) {
	return e.m.QueryEmbed(q)
}
