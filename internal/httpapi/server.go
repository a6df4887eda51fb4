// Package httpapi exposes C13's memory pipeline over HTTP (spec.md §6's
// POST /fetch-memory contract), grounded on the teacher's
// internal/http/server.go echo-wiring conventions (middleware stack,
// request logging, echo.HTTPError-based validation responses).
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

const noRelevantMemories = "No relevant memories found."

// Synthesizer turns a pipeline Result into the "memory" string the caller
// uses to ground an LLM reply (spec.md §6). Results is guaranteed
// non-empty when Synthesize is called.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, result pipeline.Result) (string, error)
}

// Server provides the fetch-memory HTTP endpoint.
type Server struct {
	echo        *echo.Echo
	pipeline    *pipeline.Pipeline
	synthesizer Synthesizer
	logger      *zap.Logger
	cfg         config.RetrievalConfig
}

// NewServer builds a Server wired to a pipeline and response synthesizer.
func NewServer(p *pipeline.Pipeline, synthesizer Synthesizer, cfg config.RetrievalConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, pipeline: p, synthesizer: synthesizer, logger: logger, cfg: cfg}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/fetch-memory", s.handleFetchMemory)
}

// Echo returns the underlying Echo instance, e.g. for graceful Start/Shutdown.
func (s *Server) Echo() *echo.Echo { return s.echo }

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

// badRequest surfaces a memerr sentinel-wrapped validation failure (spec.md
// §7's error taxonomy) as a 400 with its message as the response body.
func badRequest(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// fetchMemoryRequest is spec.md §6's POST /fetch-memory request body.
type fetchMemoryRequest struct {
	Query         string   `json:"query"`
	UserID        string   `json:"user_id"`
	ProjectID     string   `json:"project_id"`
	SessionID     string   `json:"session_id"`
	Limit         int      `json:"limit"`
	MinSimilarity *float64 `json:"min_similarity"`
	Model         string   `json:"model"`
}

type fetchMemoryResponse struct {
	Memory string `json:"memory"`
}

// handleFetchMemory implements spec.md §6's POST /fetch-memory: validate,
// run C13, and synthesize a response string (or the literal
// "No relevant memories found." when the pipeline returns no results).
func (s *Server) handleFetchMemory(c echo.Context) error {
	var req fetchMemoryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(fmt.Errorf("%w: invalid request body: %v", memerr.ErrInvalidQuery, err))
	}

	if req.Query == "" {
		return badRequest(fmt.Errorf("%w: query is required", memerr.ErrInvalidQuery))
	}
	if req.UserID == "" || req.ProjectID == "" {
		return badRequest(fmt.Errorf("%w: user_id and project_id are required", memerr.ErrMissingTenant))
	}

	limit := req.Limit
	if limit == 0 {
		limit = 10
	}
	if limit < 0 || limit > 50 {
		return badRequest(fmt.Errorf("%w: limit must be in [1, 50]", memerr.ErrInvalidQuery))
	}

	minSimilarity := s.cfg.DefaultMinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return badRequest(fmt.Errorf("%w: min_similarity must be in [0, 1]", memerr.ErrInvalidQuery))
	}

	t := tenant.Info{UserID: req.UserID, ProjectID: req.ProjectID}
	if err := t.Validate(); err != nil {
		return badRequest(fmt.Errorf("%w: %v", memerr.ErrMissingTenant, err))
	}

	ctx := c.Request().Context()
	result, err := s.pipeline.Run(ctx, pipeline.Request{
		Tenant:        t,
		Query:         req.Query,
		SessionID:     req.SessionID,
		Limit:         limit,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		s.logger.Error("fetch-memory: pipeline run failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "pipeline failure")
	}

	if len(result.Results) == 0 {
		return c.JSON(http.StatusOK, fetchMemoryResponse{Memory: noRelevantMemories})
	}

	memory, err := s.synthesizer.Synthesize(ctx, req.Query, result)
	if err != nil {
		s.logger.Warn("fetch-memory: synthesis failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "synthesis failure")
	}
	if memory == "" {
		memory = noRelevantMemories
	}

	return c.JSON(http.StatusOK, fetchMemoryResponse{Memory: memory})
}
