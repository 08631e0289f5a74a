package api

import (
	"net/http"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// LESSON & OVERRIDE ENDPOINTS
// ============================================================================

// handleGetLessons returns the active lessons of the latest generation
func (s *Server) handleGetLessons(c *gin.Context) {
	module := c.DefaultQuery("module", lessons.DefaultModule)

	generation, err := s.repo.LatestLessonGeneration(c.Request.Context(), module)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to read lesson generation: "+err.Error())
		return
	}
	if generation == 0 {
		successResponse(c, gin.H{
			"module":     module,
			"generation": 0,
			"count":      0,
			"lessons":    []lessons.Lesson{},
		})
		return
	}

	rows, err := s.repo.ActiveLessons(c.Request.Context(), module, generation)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load lessons: "+err.Error())
		return
	}

	successResponse(c, gin.H{
		"module":     module,
		"generation": generation,
		"count":      len(rows),
		"lessons":    rows,
	})
}

// handleGetOverrides returns the active materialized overrides
func (s *Server) handleGetOverrides(c *gin.Context) {
	rows, err := s.repo.ActiveOverrides(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load overrides: "+err.Error())
		return
	}

	successResponse(c, gin.H{
		"count":     len(rows),
		"overrides": rows,
	})
}

// ============================================================================
// LEARNING LOOP ENDPOINTS
// ============================================================================

// handleGetLearningStatus returns the result of the latest learning cycle
func (s *Server) handleGetLearningStatus(c *gin.Context) {
	if s.learning == nil {
		errorResponse(c, http.StatusServiceUnavailable, "learning loop is disabled")
		return
	}

	last, ok := s.learning.Status()
	resp := gin.H{
		"cycles":  s.learning.Cycles(),
		"has_run": ok,
	}
	if ok {
		resp["last"] = last
	}

	successResponse(c, resp)
}

// handleRunLearningCycle triggers one mine-and-materialize cycle. The call
// blocks until the cycle finishes; a concurrent scheduled cycle runs first.
func (s *Server) handleRunLearningCycle(c *gin.Context) {
	if s.learning == nil {
		errorResponse(c, http.StatusServiceUnavailable, "learning loop is disabled")
		return
	}

	result, err := s.learning.RunCycle(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "learning cycle failed: "+err.Error())
		return
	}

	successResponse(c, result)
}
