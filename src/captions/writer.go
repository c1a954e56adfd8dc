// Package captions writes short promotional posts for a product.
package captions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

const (
	DefaultCurrency = "CZK"
	DefaultTimeout  = 30 * time.Second
)

const persona = "You are a social media expert who writes Instagram and TikTok posts for micro influencers."

// Product is what the post promotes. URL is the affiliate link.
type Product struct {
	Name  string  `json:"productName"`
	Brand string  `json:"brand"`
	Price float64 `json:"price"`
	URL   string  `json:"url"`
}

type Options struct {
	Model    models.ToolCallingModel
	Currency string
	// AffiliateURL is used when a Product has no URL of its own.
	AffiliateURL string
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Writer turns product details into a ready-to-post caption.
type Writer struct {
	model     models.ToolCallingModel
	currency  string
	affiliate string
	timeout   time.Duration
	logger    *zap.Logger
}

func New(opts Options) (*Writer, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("captions: model is required")
	}
	w := &Writer{
		model:     opts.Model,
		currency:  opts.Currency,
		affiliate: strings.TrimSpace(opts.AffiliateURL),
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
	if w.currency == "" {
		w.currency = DefaultCurrency
	}
	if w.timeout <= 0 {
		w.timeout = DefaultTimeout
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// Write asks the model for a post. The returned text is trimmed and never
// empty on success.
func (w *Writer) Write(ctx context.Context, p Product) (string, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return "", errs.Invalid("captions.write", "productName is required")
	}
	if strings.TrimSpace(p.URL) == "" {
		p.URL = w.affiliate
	}

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	turn, err := w.model.Complete(callCtx, models.Request{
		System:   persona,
		Messages: []models.Message{{Role: models.RoleUser, Content: w.Prompt(p)}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.Upstream("captions.write", err)
	}

	post := strings.TrimSpace(turn.Text)
	if post == "" {
		return "", errs.New(errs.KindUpstreamUnavailable, "captions.write", "model returned an empty post")
	}
	w.logger.Debug("post written",
		zap.String("product", p.Name),
		zap.Int("chars", len(post)),
		zap.Duration("took", time.Since(start)))
	return post, nil
}

// Prompt renders the instruction sent to the model for p.
func (w *Writer) Prompt(p Product) string {
	var b strings.Builder
	b.WriteString("Write a promotional post for this product.\n\n")
	fmt.Fprintf(&b, "Product: %s\n", p.Name)
	if p.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s\n", p.Brand)
	}
	if p.Price > 0 {
		fmt.Fprintf(&b, "Price: %s %s\n", strconv.FormatFloat(p.Price, 'f', -1, 64), w.currency)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "Affiliate link: %s\n", p.URL)
	}
	b.WriteString(`
Rules:
- casual, personal voice; recommend it like a friend would, not like an ad
- 3 to 5 relevant hashtags
- end with a call to action`)
	if p.URL != "" {
		b.WriteString(" that includes the affiliate link")
	}
	b.WriteString(`
- under 200 words, emojis welcome
Reply with the post text only.`)
	return b.String()
}
