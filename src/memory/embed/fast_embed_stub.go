//go:build !fastembed

package embed

import (
	"context"
	"fmt"
)

type Options struct{}

func defaultFastEmbedOptions() *Options { return nil }

func NewFastEmbeed(_ context.Context, _ *Options) (Embedder, error) {
	return nil, fmt.Errorf("fastembed support not included; rebuild with -tags fastembed")
}
