// Package server exposes the orchestrator and its tools over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	agent "github.com/Protocol-Lattice/promo-agent"
	"github.com/Protocol-Lattice/promo-agent/src/captions"
	"github.com/Protocol-Lattice/promo-agent/src/concurrent"
)

const (
	// DefaultSearchLimit is the top-k of POST /api/search when the body has none.
	DefaultSearchLimit = 6
	DefaultShutdown    = 10 * time.Second
	maxBodyBytes       = 20 << 20
)

// Options wires the HTTP surface. Agent is required; the direct tool
// endpoints answer 503 when their dependency is nil.
type Options struct {
	Agent    *agent.Orchestrator
	Searcher agent.ProductSearcher
	Images   agent.ImageGenerator
	Writer   *captions.Writer
	Advisor  *captions.Advisor

	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// MaxImageUploads caps concurrent POST /api/generate-image calls.
	MaxImageUploads int
	Logger          *zap.Logger
}

type Server struct {
	opts   Options
	engine *gin.Engine
	images *concurrent.Pool
	logger *zap.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Agent == nil {
		return nil, fmt.Errorf("server: agent is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:   opts,
		engine: gin.New(),
		images: concurrent.NewPool(opts.MaxImageUploads),
		logger: opts.Logger,
	}
	s.engine.Use(gin.Recovery(), s.accessLog(), limitBody(maxBodyBytes))
	s.routes()
	return s, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.POST("/agent", s.handleAgent)
		api.POST("/agent/stream", s.handleAgentStream)
		api.POST("/search", s.handleSearch)
		api.POST("/generate-image", s.handleGenerateImage)
		api.POST("/generate-post", s.handleGeneratePost)
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdown time.Duration) error {
	if shutdown <= 0 {
		shutdown = DefaultShutdown
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
