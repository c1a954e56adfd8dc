// Package catalog turns free-text queries into ranked product records and
// loads scraped products into the vector index.
package catalog

import (
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
)

const (
	DefaultLimit = 5
	MinLimit     = 1
	MaxLimit     = 50
)

// ProductRecord is a normalized catalog entry. It never carries nil fields:
// missing strings are "" and missing numbers are 0.
type ProductRecord struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	Brand     string  `json:"brand"`
	Category  string  `json:"category"`
	Price     float64 `json:"price"`
	Image     string  `json:"image"`
	SourceURL string  `json:"url,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

// discountKeys are checked in order before the list price. The scraper stores
// the discounted price under originalPrice.
var discountKeys = []string{"discountedPrice", "salePrice", "originalPrice"}

// RecordFromMetadata coerces untrusted index metadata into a ProductRecord.
func RecordFromMetadata(id string, score float64, meta map[string]any) ProductRecord {
	rec := ProductRecord{
		ID:        id,
		Name:      metaString(meta, "name"),
		Brand:     metaString(meta, "brand"),
		Category:  metaString(meta, "category"),
		Image:     metaString(meta, "image"),
		SourceURL: metaString(meta, "url"),
		Score:     score,
	}
	rec.Price = metaFloat(meta, "price")
	for _, key := range discountKeys {
		if p := metaFloat(meta, key); p > 0 {
			rec.Price = p
			break
		}
	}
	return rec
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func metaFloat(meta map[string]any, key string) float64 {
	v, ok := meta[key]
	if !ok || v == nil {
		return 0
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// CoerceLimit turns a raw tool argument into a clamped result count.
// nil means DefaultLimit, fractions are rounded, and anything that is not a
// finite number is InvalidInput.
func CoerceLimit(raw any) (int, error) {
	switch v := raw.(type) {
	case nil:
		return DefaultLimit, nil
	case bool:
		return 0, errs.Invalid("searchProducts", "limit must be a number, got %v", v)
	case string:
		if strings.TrimSpace(v) == "" {
			return DefaultLimit, nil
		}
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, errs.Invalid("searchProducts", "limit must be a number, got %v", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errs.Invalid("searchProducts", "limit must be finite, got %v", raw)
	}
	f = math.Max(MinLimit, math.Min(math.Round(f), MaxLimit))
	return int(f), nil
}

// ClampLimit bounds n to [MinLimit, MaxLimit].
func ClampLimit(n int) int {
	return max(MinLimit, min(n, MaxLimit))
}
