// Package server exposes evolution sessions over HTTP so listeners can rate
// rendered melodies and advance generations.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tudstk/songwriter-copilot/internal/config"
	"github.com/tudstk/songwriter-copilot/internal/fitness"
	"github.com/tudstk/songwriter-copilot/internal/metrics"
	"github.com/tudstk/songwriter-copilot/internal/platform"
	"github.com/tudstk/songwriter-copilot/internal/preview"
	"github.com/tudstk/songwriter-copilot/internal/ratings"
)

// Session defaults match the rating workflow: a small population scored by
// listeners.
const (
	DefaultSessionPopulation = 3
	shutdownTimeout          = 15 * time.Second
)

type Options struct {
	Studio  *platform.Studio
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Preview preview.Options
}

type Server struct {
	studio  *platform.Studio
	metrics *metrics.Metrics
	logger  *slog.Logger
	preview preview.Options
	router  *gin.Engine
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		studio:  opts.Studio,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		preview: opts.Preview,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
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

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "songwriter"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/scales", s.handleScales)

	sessions := r.Group("/sessions")
	sessions.GET("", s.handleListSessions)
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
	sessions.POST("/:id/ratings", s.handleSubmitRating)
	sessions.GET("/:id/generations", s.handleListGenerations)
	sessions.POST("/:id/generations", s.handleAdvance)
	sessions.GET("/:id/generations/:gen/genomes/:rank", s.handleGenomeMIDI)
	sessions.GET("/:id/generations/:gen/genomes/:rank/preview.wav", s.handleGenomePreview)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// sessionDefaults is the run configuration a session starts from before the
// request body is applied.
func sessionDefaults() config.Run {
	cfg := config.Default()
	cfg.PopulationSize = DefaultSessionPopulation
	cfg.FitnessMode = fitness.ModeRating
	return cfg
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, platform.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, config.ErrInvalid), errors.Is(err, ratings.ErrInvalidIdentifier):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
