package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	agent "github.com/Protocol-Lattice/promo-agent"
	"github.com/Protocol-Lattice/promo-agent/src/captions"
	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/imagesynth"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

type agentRequest struct {
	Messages        []agent.ConversationMessage `json:"messages"`
	InfluencerImage string                      `json:"influencerImage"`
}

type chatRequest struct {
	Messages []models.Message `json:"messages"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit *int   `json:"limit"`
}

type generateImageRequest struct {
	ProductName        string `json:"productName"`
	ProductImageURL    string `json:"productImageUrl"`
	InfluencerImage    string `json:"influencerImage"`
	Scene              string `json:"scene"`
	CustomInstructions string `json:"customInstructions"`
}

func (s *Server) handleAgent(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := s.opts.Agent.Handle(c.Request.Context(), req.Messages, req.InfluencerImage)
	if err != nil {
		s.fail(c, "agent", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleAgentStream answers with server-sent events named after
// agent.EventKind. The last event is "done" or "error".
func (s *Server) handleAgentStream(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	events := s.opts.Agent.HandleStream(c.Request.Context(), req.Messages, req.InfluencerImage)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	for ev := range events {
		c.SSEvent(ev.Kind.String(), eventPayload(ev))
		c.Writer.Flush()
	}
}

func eventPayload(ev agent.Event) any {
	switch ev.Kind {
	case agent.EventTextDelta:
		return gin.H{"text": ev.Text}
	case agent.EventModelTurn:
		return gin.H{"round": ev.Round, "text": ev.Text}
	case agent.EventToolResult, agent.EventRepair:
		return ev.Invocation
	case agent.EventDone:
		return ev.Result
	case agent.EventError:
		return gin.H{"error": errs.UserMessage(ev.Err)}
	default:
		return gin.H{}
	}
}

// handleChat streams an advisor reply as "delta" events followed by one
// "done" or "error" event.
func (s *Server) handleChat(c *gin.Context) {
	if s.opts.Advisor == nil {
		unavailable(c, "chat")
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		badRequest(c, captions.ErrNoMessages.Message)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	reply, err := s.opts.Advisor.Chat(c.Request.Context(), req.Messages, func(delta string) {
		c.SSEvent(agent.EventTextDelta.String(), gin.H{"text": delta})
		c.Writer.Flush()
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("request failed", zap.String("op", "chat"), zap.Error(err))
		}
		c.SSEvent(agent.EventError.String(), gin.H{"error": errs.UserMessage(err)})
		c.Writer.Flush()
		return
	}
	c.SSEvent(agent.EventDone.String(), gin.H{"text": reply})
	c.Writer.Flush()
}

func (s *Server) handleSearch(c *gin.Context) {
	if s.opts.Searcher == nil {
		unavailable(c, "search")
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(c, "query is required")
		return
	}
	limit := DefaultSearchLimit
	if req.Limit != nil {
		limit = catalog.ClampLimit(*req.Limit)
	}

	out := s.opts.Searcher.Search(c.Request.Context(), req.Query, limit)
	if out.Err != nil {
		s.fail(c, "search", out.Err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": out.Products})
}

func (s *Server) handleGenerateImage(c *gin.Context) {
	if s.opts.Images == nil {
		unavailable(c, "image synthesis")
		return
	}
	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ProductName) == "" || strings.TrimSpace(req.ProductImageURL) == "" {
		badRequest(c, "productName and productImageUrl are required")
		return
	}

	var res imagesynth.Result
	err := s.images.Do(c.Request.Context(), func() error {
		res = s.opts.Images.Synthesize(c.Request.Context(), imagesynth.Request{
			ProductName:        req.ProductName,
			ProductImageURL:    req.ProductImageURL,
			UserPhoto:          req.InfluencerImage,
			Scene:              req.Scene,
			CustomInstructions: req.CustomInstructions,
		})
		return res.Err
	})
	if err != nil {
		s.fail(c, "generate-image", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imageUrl": res.ImageURL})
}

func (s *Server) handleGeneratePost(c *gin.Context) {
	if s.opts.Writer == nil {
		unavailable(c, "post writer")
		return
	}
	var req captions.Product
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	post, err := s.opts.Writer.Write(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "generate-post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// fail maps a classified error to a status and a {error} body.
func (s *Server) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsInvalid(err):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		status = 499
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": errs.UserMessage(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
}
