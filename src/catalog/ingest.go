package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Protocol-Lattice/promo-agent/src/memory/embed"
	"github.com/Protocol-Lattice/promo-agent/src/memory/store"
)

// Product is one scraped catalog item as written by the scraper. Prices are
// stored in the smallest currency unit.
type Product struct {
	ItemName      string   `json:"item_name"`
	ItemBrand     string   `json:"item_brand"`
	ItemCategory  string   `json:"item_category"`
	ItemCategory2 string   `json:"item_category2"`
	Price         float64  `json:"price"`
	URL           string   `json:"url"`
	Name          string   `json:"name"`
	Brand         string   `json:"brand"`
	Rating        *float64 `json:"rating"`
	RatingCount   *int     `json:"ratingCount"`
	OriginalPrice float64  `json:"originalPrice"`
	Image         string   `json:"image"`
}

// ProductToText renders the text that gets embedded for a product.
func ProductToText(p Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s. Brand: %s. Category: %s. Price: %s CZK.",
		p.Name, p.Brand, p.ItemCategory2, strconv.FormatFloat(p.Price/100, 'f', -1, 64))
	if p.Rating != nil && *p.Rating > 0 {
		count := 0
		if p.RatingCount != nil {
			count = *p.RatingCount
		}
		fmt.Fprintf(&b, " Rating: %s/5 (%d reviews)", strconv.FormatFloat(*p.Rating, 'f', -1, 64), count)
	}
	return b.String()
}

func productMetadata(p Product, text string) map[string]any {
	meta := map[string]any{
		"name":          p.Name,
		"brand":         p.Brand,
		"category":      p.ItemCategory2,
		"price":         p.Price,
		"originalPrice": p.OriginalPrice,
		"rating":        0.0,
		"ratingCount":   0,
		"url":           p.URL,
		"image":         p.Image,
		"text":          text,
	}
	if p.Rating != nil {
		meta["rating"] = *p.Rating
	}
	if p.RatingCount != nil {
		meta["ratingCount"] = *p.RatingCount
	}
	return meta
}

// LoadProducts reads and concatenates scraper JSON arrays.
func LoadProducts(paths ...string) ([]Product, error) {
	var all []Product
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var batch []Product
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// IngestOptions configures an Ingester.
type IngestOptions struct {
	Embedder    embed.Embedder
	Index       store.ProductIndex
	BatchSize   int // default 100
	Concurrency int // concurrent embeddings per batch, default 8
	Logger      *zap.Logger
}

// Ingester embeds products and upserts them into the index batch by batch.
type Ingester struct {
	embedder    embed.Embedder
	index       store.ProductIndex
	batchSize   int
	concurrency int
	logger      *zap.Logger
}

func NewIngester(opts IngestOptions) (*Ingester, error) {
	if opts.Embedder == nil || opts.Index == nil {
		return nil, errors.New("catalog: ingester needs an embedder and an index")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ingester{
		embedder:    opts.Embedder,
		index:       opts.Index,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		logger:      opts.Logger.Named("ingest"),
	}, nil
}

// Ingest returns the number of products written. Point ids are
// "product-<position>" so re-running over the same input overwrites.
func (in *Ingester) Ingest(ctx context.Context, products []Product) (int, error) {
	written := 0
	batches := (len(products) + in.batchSize - 1) / in.batchSize
	for b := 0; b < batches; b++ {
		start := b * in.batchSize
		end := min(start+in.batchSize, len(products))
		batch := products[start:end]

		points := make([]store.Point, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(in.concurrency)
		for i, p := range batch {
			g.Go(func() error {
				text := ProductToText(p)
				vec, err := in.embedder.Embed(gctx, text)
				if err != nil {
					return fmt.Errorf("embed %q: %w", p.Name, err)
				}
				points[i] = store.Point{
					ID:       fmt.Sprintf("product-%d", start+i),
					Vector:   vec,
					Metadata: productMetadata(p, text),
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return written, err
		}
		if err := in.index.Upsert(ctx, points); err != nil {
			return written, fmt.Errorf("upsert batch %d/%d: %w", b+1, batches, err)
		}
		written += len(points)
		in.logger.Info("batch uploaded", zap.Int("batch", b+1), zap.Int("batches", batches), zap.Int("written", written))
	}
	return written, nil
}
