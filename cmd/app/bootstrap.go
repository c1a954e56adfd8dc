package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	agent "github.com/Protocol-Lattice/promo-agent"
	"github.com/Protocol-Lattice/promo-agent/src/captions"
	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/config"
	"github.com/Protocol-Lattice/promo-agent/src/imagesynth"
	"github.com/Protocol-Lattice/promo-agent/src/memory/embed"
	"github.com/Protocol-Lattice/promo-agent/src/memory/store"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

// app holds every long-lived client. It is built once per process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	embedder embed.Embedder
	index    store.ProductIndex
	searcher *catalog.Searcher
	images   *imagesynth.Synthesizer
	writer   *captions.Writer
	advisor  *captions.Advisor
	agent    *agent.Orchestrator

	closers []func(context.Context) error
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.embedder, err = embed.New(ctx, embed.Config{
		Provider:   cfg.Embedder.Provider,
		Model:      cfg.Embedder.Model,
		BaseURL:    cfg.Embedder.BaseURL,
		APIKey:     cfg.Embedder.APIKey,
		Dimensions: cfg.Embedder.Dimensions,
		CacheSize:  cfg.Embedder.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	if err = a.openIndex(ctx); err != nil {
		return nil, err
	}

	a.searcher, err = catalog.NewSearcher(catalog.Options{
		Embedder: a.embedder,
		Index:    a.index,
		Timeout:  cfg.Agent.SearchTimeout(),
		Logger:   logger.Named("catalog"),
	})
	if err != nil {
		return nil, err
	}

	backend, err := a.imageBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.images, err = imagesynth.New(imagesynth.Options{
		Backend:   backend,
		Timeout:   cfg.Agent.ImageTimeout(),
		CacheSize: cfg.Image.CacheSize,
		CacheTTL:  cfg.Image.CacheTTL(),
		Logger:    logger.Named("imagesynth"),
	})
	if err != nil {
		return nil, err
	}

	model, err := models.NewLLMProvider(ctx, modelConfig(cfg, ""))
	if err != nil {
		return nil, err
	}

	var intent agent.IntentPolicy
	if len(cfg.Agent.ImageIntentCues) > 0 {
		intent = agent.KeywordIntentPolicy(cfg.Agent.ImageIntentCues...)
	}
	a.agent, err = agent.New(agent.Options{
		Model:         model,
		Searcher:      a.searcher,
		Images:        a.images,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxRounds:     cfg.Agent.MaxRounds,
		ParallelTools: cfg.Agent.ParallelTools,
		ModelTimeout:  cfg.Agent.ModelTimeout(),
		SearchTimeout: cfg.Agent.SearchTimeout(),
		ImageTimeout:  cfg.Agent.ImageTimeout(),
		IntentPolicy:  intent,
		Currency:      cfg.Agent.Currency,
		Logger:        logger,
		Metrics:       agent.MustNewMetrics(a.registry),
	})
	if err != nil {
		return nil, err
	}

	postModel := model
	if cfg.Caption.Model != "" {
		if postModel, err = models.NewLLMProvider(ctx, modelConfig(cfg, cfg.Caption.Model)); err != nil {
			return nil, err
		}
	}
	a.writer, err = captions.New(captions.Options{
		Model:        postModel,
		Currency:     cfg.Agent.Currency,
		AffiliateURL: cfg.Caption.AffiliateURL,
		Timeout:      cfg.Agent.ModelTimeout(),
		Logger:       logger.Named("captions"),
	})
	if err != nil {
		return nil, err
	}
	a.advisor, err = captions.NewAdvisor(captions.AdvisorOptions{
		Model:  postModel,
		Logger: logger.Named("advisor"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func modelConfig(cfg *config.Config, name string) models.Config {
	if name == "" {
		name = cfg.Model.Name
	}
	return models.Config{
		Provider:  cfg.Model.Provider,
		Model:     name,
		BaseURL:   cfg.Model.BaseURL,
		APIKey:    cfg.Model.APIKey,
		MaxTokens: cfg.Model.MaxTokens,
	}
}

func (a *app) openIndex(ctx context.Context) error {
	ic := a.cfg.Index
	switch strings.ToLower(ic.Type) {
	case "memory":
		a.index = store.NewInMemoryStore()
	case "qdrant":
		a.index = store.NewQdrantStore(ic.URL, ic.Collection, ic.APIKey)
	case "postgres", "pgvector":
		pg, err := store.NewPostgresStore(ctx, ic.URL, ic.Table)
		if err != nil {
			return err
		}
		a.index = pg
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
	case "mongodb":
		mg, err := store.NewMongoStore(ctx, ic.URL, ic.Database, ic.Collection, ic.IndexName)
		if err != nil {
			return err
		}
		a.index = mg
		a.closers = append(a.closers, mg.Close)
	case "neo4j":
		n4, err := store.NewNeo4jStore(ic.URL, ic.Username, ic.Password, ic.Database, ic.Label, ic.IndexName)
		if err != nil {
			return err
		}
		a.index = n4
		a.closers = append(a.closers, n4.Close)
	default:
		return fmt.Errorf("index type %q is not supported", ic.Type)
	}
	a.logger.Debug("index opened", zap.String("type", ic.Type), zap.String("collection", ic.Collection))
	return nil
}

func (a *app) imageBackend(ctx context.Context) (imagesynth.Backend, error) {
	ic := a.cfg.Image
	switch strings.ToLower(ic.Provider) {
	case "openrouter", "":
		return imagesynth.NewOpenRouterBackend(imagesynth.OpenRouterConfig{
			BaseURL: ic.BaseURL,
			APIKey:  ic.APIKey,
			Model:   ic.Model,
			Referer: ic.Referer,
		}), nil
	case "gemini", "google":
		g, err := imagesynth.NewGeminiBackend(ctx, ic.APIKey, ic.Model)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return g.Close() })
		return g, nil
	default:
		return nil, fmt.Errorf("image provider %q is not supported", ic.Provider)
	}
}

// schemaEnsurer is implemented by indexes that can create their collection.
type schemaEnsurer interface {
	EnsureSchema(ctx context.Context, dimension int) error
}

func (a *app) ensureSchema(ctx context.Context, dimension int) error {
	if s, ok := a.index.(schemaEnsurer); ok {
		return s.EnsureSchema(ctx, dimension)
	}
	return nil
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
