// Package api serves health, readiness, metrics and a small JSON API over the
// risk and interaction services.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/metrics"
	"github.com/cdss-mcp-server/internal/middleware"
	"github.com/cdss-mcp-server/internal/service"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

// maxBatch caps a single batch assessment request.
const maxBatch = 1000

// Pinger is a dependency that can report its health, such as the database pool.
type Pinger interface {
	Health(ctx context.Context) error
}

// Deps are the services the HTTP server exposes. Nil members are skipped.
type Deps struct {
	Risk         *service.RiskService
	Interactions *service.InteractionService
	Cache        *service.ExplanationCache
	Database     Pinger
}

// Server represents the HTTP server
type Server struct {
	cfg    domain.ServerConfig
	deps   Deps
	router *gin.Engine
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(cfg domain.ServerConfig, deps Deps, logger *logrus.Logger) *Server {
	if logger.GetLevel() >= logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))

	server := &Server{
		cfg:    cfg,
		deps:   deps,
		router: router,
		logger: logger,
	}
	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/assess", s.handleAssess)
		v1.POST("/assess/batch", s.handleAssessBatch)
		v1.POST("/interactions", s.handleInteractions)
		v1.GET("/interactions/stats", s.handleInteractionStats)
		v1.GET("/model", s.handleModel)
	}
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}

// handleReady reports 503 until an artifact is published and the interaction
// index is loaded, and while the database is unreachable.
func (s *Server) handleReady(c *gin.Context) {
	checks := gin.H{}
	ready := true

	if s.deps.Risk != nil {
		if a := s.deps.Risk.Current(); a != nil {
			checks["artifact"] = a.Version()
		} else {
			checks["artifact"] = "not loaded"
			ready = false
		}
	}
	if s.deps.Interactions != nil {
		if s.deps.Interactions.Index() != nil {
			checks["interactions"] = "ok"
		} else {
			checks["interactions"] = "not loaded"
			ready = false
		}
	}
	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Database.Health(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.deps.Cache != nil {
		// An open breaker degrades to the local tier, so it never blocks readiness.
		checks["cache_breaker"] = s.deps.Cache.BreakerState()
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

func (s *Server) handleAssess(c *gin.Context) {
	if s.deps.Risk == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "risk scoring is not enabled"})
		return
	}
	var rec domain.PatientRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assessment, err := s.deps.Risk.Assess(c.Request.Context(), rec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handleAssessBatch(c *gin.Context) {
	if s.deps.Risk == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "risk scoring is not enabled"})
		return
	}
	var req struct {
		Patients []domain.PatientRecord `json:"patients" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Patients) > maxBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("at most %d patients per batch", maxBatch)})
		return
	}
	out, err := s.deps.Risk.AssessBatch(c.Request.Context(), req.Patients)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": out})
}

func (s *Server) handleInteractions(c *gin.Context) {
	if s.deps.Interactions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "interaction checking is not enabled"})
		return
	}
	var req struct {
		Medications []string `json:"medications" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.deps.Interactions.Check(c.Request.Context(), req.Medications)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleInteractionStats(c *gin.Context) {
	if s.deps.Interactions == nil || s.deps.Interactions.Index() == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "interaction checking is not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Interactions.Stats(10))
}

func (s *Server) handleModel(c *gin.Context) {
	if s.deps.Risk == nil || s.deps.Risk.Current() == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no model artifact is loaded"})
		return
	}
	a := s.deps.Risk.Current()
	c.JSON(http.StatusOK, gin.H{
		"version":            a.Version(),
		"model_type":         a.ModelType(),
		"schema_version":     a.Schema().Version(),
		"schema_fingerprint": a.Schema().Fingerprint(),
		"features":           a.Schema().Names(),
		"baseline":           a.Baseline(),
		"provenance":         a.Provenance(),
	})
}

// writeError maps service errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoArtifact):
		code = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrOutOfRangeInput):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(code, gin.H{
		"error":          err.Error(),
		"correlation_id": c.GetString(middleware.CorrelationIDKey),
	})
}
