// Package imagesynth composes a user photo and a product photo into a
// promotional image through a multimodal chat-completions backend.
package imagesynth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/cache"
	"github.com/Protocol-Lattice/promo-agent/src/errs"
)

const (
	DefaultScene   = "modern lifestyle setting"
	DefaultTimeout = 90 * time.Second
)

// Request describes one composite image.
type Request struct {
	ProductName        string `json:"productName"`
	ProductImageURL    string `json:"productImageUrl"`
	UserPhoto          string `json:"-"`
	Scene              string `json:"scene,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// Result is either an ImageURL (hosted URL or data URL) or an Error.
type Result struct {
	ImageURL   string `json:"imageUrl,omitempty"`
	Error      string `json:"error,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Err        error  `json:"-"`
}

func (r Result) OK() bool { return r.ImageURL != "" && r.Err == nil }

// BackendRequest is what a Backend sends upstream. Images are ordered:
// the user photo first, then the product reference when present.
type BackendRequest struct {
	Prompt string
	Images []string
}

// Backend calls the image service and returns its raw JSON body in the
// chat-completions shape understood by Normalize.
type Backend interface {
	Generate(ctx context.Context, req BackendRequest) ([]byte, error)
}

// Options configures a Synthesizer.
type Options struct {
	Backend Backend
	Timeout time.Duration
	// CacheSize > 0 reuses successful results for identical requests.
	CacheSize int
	CacheTTL  time.Duration
	Logger    *zap.Logger
}

type Synthesizer struct {
	backend Backend
	timeout time.Duration
	cache   *cache.LRU[Result]
	logger  *zap.Logger
}

func New(opts Options) (*Synthesizer, error) {
	if opts.Backend == nil {
		return nil, errors.New("imagesynth: backend is nil")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Synthesizer{backend: opts.Backend, timeout: opts.Timeout, logger: opts.Logger.Named("imagesynth")}
	if opts.CacheSize > 0 {
		s.cache = cache.NewLRU[Result](opts.CacheSize, opts.CacheTTL)
	}
	return s, nil
}

// Synthesize never returns a Go error: every failure is folded into Result.
// A missing user photo fails before any backend call.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.UserPhoto) == "" {
		return failure(errs.ErrPhotoRequired, "")
	}
	if strings.TrimSpace(req.ProductName) == "" {
		return failure(errs.Invalid("generateImage", "productName is required"), "")
	}
	if strings.TrimSpace(req.Scene) == "" {
		req.Scene = DefaultScene
	}

	key := cache.Key(req.ProductName, req.ProductImageURL, req.Scene, req.CustomInstructions, req.UserPhoto)
	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			s.logger.Debug("synthesis cache hit", zap.String("product", req.ProductName))
			return hit
		}
	}

	images := []string{req.UserPhoto}
	if u := strings.TrimSpace(req.ProductImageURL); u != "" {
		images = append(images, u)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.backend.Generate(callCtx, BackendRequest{Prompt: BuildPrompt(req), Images: images})
	if err != nil {
		s.logger.Warn("image backend failed", zap.String("product", req.ProductName), zap.Error(err))
		return failure(errs.Upstream("generateImage", err), "")
	}

	norm := Normalize(raw)
	if norm.ImageURL == "" {
		s.logger.Warn("image response had no image",
			zap.String("product", req.ProductName),
			zap.String("diagnostic", norm.Diagnostic))
		return failure(errs.ErrNoImageData, norm.Diagnostic)
	}
	s.logger.Info("image generated",
		zap.String("product", req.ProductName),
		zap.String("shape", norm.Shape.String()),
		zap.Duration("elapsed", time.Since(start)))

	res := Result{ImageURL: norm.ImageURL}
	if s.cache != nil {
		s.cache.Set(key, res)
	}
	return res
}

// BuildPrompt names the product and the scene and asks for a natural
// composition. Custom instructions are appended verbatim.
func BuildPrompt(req Request) string {
	scene := strings.TrimSpace(req.Scene)
	if scene == "" {
		scene = DefaultScene
	}
	var b strings.Builder
	b.WriteString("Generate a promotional lifestyle image: Take the person from the first image and show them naturally using or holding ")
	if strings.TrimSpace(req.ProductImageURL) != "" {
		b.WriteString("the product from the second image (" + req.ProductName + ")")
	} else {
		b.WriteString(req.ProductName)
	}
	b.WriteString(". Scene: " + scene + ".")
	b.WriteString(" Make it look like a professional Instagram promotional photo.")
	if req.CustomInstructions != "" {
		b.WriteString(" Additional instructions: " + req.CustomInstructions)
	}
	return b.String()
}

func failure(err error, diagnostic string) Result {
	return Result{Error: errs.UserMessage(err), Diagnostic: diagnostic, Err: err}
}
