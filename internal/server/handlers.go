package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tudstk/songwriter-copilot/internal/artifacts"
	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/platform"
	"github.com/tudstk/songwriter-copilot/internal/preview"
	"github.com/tudstk/songwriter-copilot/internal/scale"
)

type ratingRequest struct {
	Artifact string `json:"artifact" binding:"required"`
	Rating   *int   `json:"rating" binding:"required"`
}

type sessionResponse struct {
	SessionID string                    `json:"session_id"`
	Result    platform.GenerationResult `json:"result"`
}

func (s *Server) handleScales(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": scale.Keys(), "scales": scale.Names()})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.studio.Sessions()})
}

// handleCreateSession starts a session and evaluates its first generation so
// the response already lists melodies to rate.
func (s *Server) handleCreateSession(c *gin.Context) {
	cfg := sessionDefaults()
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	sess, err := s.studio.Start(ctx, cfg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	result, err := s.studio.Advance(ctx, sess)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("session started",
		"session_id", sess.ID,
		"fitness_mode", sess.Config.FitnessMode,
		"population", sess.Config.PopulationSize,
		"dir", sess.Dir,
	)
	c.JSON(http.StatusCreated, sessionResponse{SessionID: sess.ID, Result: result})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	summary, err := sess.Summary(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.studio.Close(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSubmitRating(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	var body ratingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.studio.SubmitRating(c.Request.Context(), sess, body.Artifact, *body.Rating); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListGenerations(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	generations, err := s.studio.Store().ListGenerations(c.Request.Context(), sess.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": generations})
}

func (s *Server) handleAdvance(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	result, err := s.studio.Advance(c.Request.Context(), sess)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("generation evaluated",
		"session_id", sess.ID,
		"generation", result.Generation,
		"best_fitness", result.Diagnostics.BestFitness,
	)
	c.JSON(http.StatusOK, sessionResponse{SessionID: sess.ID, Result: result})
}

func (s *Server) handleGenomeMIDI(c *gin.Context) {
	sess, gen, rank, ok := s.genomeParams(c)
	if !ok {
		return
	}
	path := artifacts.GenomePath(sess.Dir, gen, sess.Config.Params(), rank)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no melody for generation %d rank %d", gen, rank)})
		return
	}
	c.Header("Content-Type", "audio/midi")
	c.FileAttachment(path, filepath.Base(path))
}

func (s *Server) handleGenomePreview(c *gin.Context) {
	sess, gen, rank, ok := s.genomeParams(c)
	if !ok {
		return
	}
	record, found, err := s.studio.Store().GetGeneration(c.Request.Context(), sess.ID, gen)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !found || rank >= len(record.Ranked) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no melody for generation %d rank %d", gen, rank)})
		return
	}
	genome, err := model.ParseGenome(record.Ranked[rank].Genome)
	if err != nil {
		s.writeError(c, err)
		return
	}
	m, err := melody.Decode(genome, sess.Config.Params())
	if err != nil {
		s.writeError(c, err)
		return
	}
	data, err := preview.WAV(m, sess.Config.Tempo, s.preview)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/wav", data)
}

// lookup finds a live session, resuming persisted runs on first access.
func (s *Server) lookup(c *gin.Context) (*platform.Session, bool) {
	id := c.Param("id")
	if sess, ok := s.studio.Session(id); ok {
		return sess, true
	}
	sess, err := s.studio.Resume(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) genomeParams(c *gin.Context) (*platform.Session, int, int, bool) {
	gen, err := strconv.Atoi(c.Param("gen"))
	if err != nil || gen < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "generation must be a non-negative integer"})
		return nil, 0, 0, false
	}
	rank, err := strconv.Atoi(c.Param("rank"))
	if err != nil || rank < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rank must be a non-negative integer"})
		return nil, 0, 0, false
	}
	sess, ok := s.lookup(c)
	if !ok {
		return nil, 0, 0, false
	}
	return sess, gen, rank, true
}
