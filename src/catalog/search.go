package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/memory/embed"
	"github.com/Protocol-Lattice/promo-agent/src/memory/store"
)

// Outcome is what a search hands back to the orchestrator. Failures are
// carried in Error rather than returned, so a broken index degrades the reply
// instead of aborting it.
type Outcome struct {
	Products []ProductRecord `json:"products"`
	Error    string          `json:"error,omitempty"`
	Err      error           `json:"-"`
}

// Options configures a Searcher.
type Options struct {
	Embedder embed.Embedder
	Index    store.ProductIndex
	// Timeout bounds embedding plus index query. Zero disables it.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Searcher is the catalog search tool. It holds no per-request state.
type Searcher struct {
	embedder embed.Embedder
	index    store.ProductIndex
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSearcher(opts Options) (*Searcher, error) {
	if opts.Embedder == nil {
		return nil, errors.New("catalog: embedder is nil")
	}
	if opts.Index == nil {
		return nil, errors.New("catalog: index is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		embedder: opts.Embedder,
		index:    opts.Index,
		timeout:  opts.Timeout,
		logger:   logger.Named("catalog"),
	}, nil
}

// Search embeds query and returns up to limit products ranked by similarity.
// limit is clamped to [MinLimit, MaxLimit]. Zero matches is a normal empty
// Outcome.
func (s *Searcher) Search(ctx context.Context, query string, limit int) Outcome {
	query = strings.TrimSpace(query)
	if query == "" {
		return failed(errs.ErrEmptyQuery)
	}
	topK := ClampLimit(limit)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("embedding failed", zap.String("query", query), zap.Error(err))
		return failed(errs.Upstream("searchProducts", err))
	}
	matches, err := s.index.Query(ctx, vec, topK)
	if err != nil {
		s.logger.Warn("index query failed", zap.String("query", query), zap.Int("top_k", topK), zap.Error(err))
		return failed(errs.Upstream("searchProducts", err))
	}

	products := make([]ProductRecord, 0, len(matches))
	for _, m := range matches {
		products = append(products, RecordFromMetadata(m.ID, m.Score, m.Metadata))
	}
	s.logger.Debug("search complete",
		zap.String("query", query),
		zap.Int("top_k", topK),
		zap.Int("results", len(products)),
		zap.Duration("elapsed", time.Since(start)))
	return Outcome{Products: products}
}

func failed(err error) Outcome {
	return Outcome{Products: []ProductRecord{}, Error: errs.UserMessage(err), Err: err}
}
