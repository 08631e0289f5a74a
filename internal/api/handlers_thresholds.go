package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/cache"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/database"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// THRESHOLD DEFAULT ENDPOINTS
// ============================================================================

// thresholdSelector addresses one threshold at one specificity. Empty
// timeframe or phase and level zero are the wildcard forms.
type thresholdSelector struct {
	Name      string `json:"name" binding:"required"`
	Timeframe string `json:"timeframe"`
	Phase     string `json:"phase"`
	Level     int    `json:"level"`
}

// thresholdValueRequest carries a selector plus the value to write. Value is
// a pointer so an explicit zero survives binding.
type thresholdValueRequest struct {
	thresholdSelector
	Value *float64 `json:"value" binding:"required"`
}

// querySelector reads the selector fields from query parameters. Returns
// false after writing the error response when name is missing or level does
// not parse.
func querySelector(c *gin.Context) (thresholdSelector, bool) {
	sel := thresholdSelector{
		Name:      c.Query("name"),
		Timeframe: c.Query("timeframe"),
		Phase:     c.Query("phase"),
	}
	if sel.Name == "" {
		errorResponse(c, http.StatusBadRequest, "name query parameter is required")
		return sel, false
	}

	level, err := strconv.Atoi(c.DefaultQuery("level", "0"))
	if err != nil || level < 0 {
		errorResponse(c, http.StatusBadRequest, "level must be a non-negative integer")
		return sel, false
	}
	sel.Level = level

	return sel, true
}

// handleListThresholdDefaults returns every persisted base threshold row
func (s *Server) handleListThresholdDefaults(c *gin.Context) {
	defaults, err := s.repo.ListThresholdDefaults(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to list threshold defaults: "+err.Error())
		return
	}
	successResponse(c, defaults)
}

// handleUpsertThresholdDefault writes one base threshold row and drops the
// cached resolutions so the new value takes effect on the next lookup
func (s *Server) handleUpsertThresholdDefault(c *gin.Context) {
	var req thresholdValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Level < 0 {
		errorResponse(c, http.StatusBadRequest, "level must be a non-negative integer")
		return
	}

	def := database.ThresholdDefault{
		Name:      req.Name,
		Timeframe: req.Timeframe,
		Phase:     req.Phase,
		Level:     req.Level,
		Value:     *req.Value,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.UpsertThresholdDefault(c.Request.Context(), def); err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to upsert threshold default: "+err.Error())
		return
	}

	s.thresholds.Refresh()

	successResponse(c, def)
}

// handleDeleteThresholdDefault deletes one base threshold row
func (s *Server) handleDeleteThresholdDefault(c *gin.Context) {
	sel, ok := querySelector(c)
	if !ok {
		return
	}

	deleted, err := s.repo.DeleteThresholdDefault(c.Request.Context(), sel.Name, sel.Timeframe, sel.Phase, sel.Level)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to delete threshold default: "+err.Error())
		return
	}
	if !deleted {
		errorResponse(c, http.StatusNotFound, "no threshold default matches the selector")
		return
	}

	s.thresholds.Refresh()

	successResponse(c, gin.H{"deleted": true})
}

// ============================================================================
// THRESHOLD RESOLUTION ENDPOINTS
// ============================================================================

// handleResolveThreshold resolves one threshold through the full precedence
// chain and reports which layer supplied the value
func (s *Server) handleResolveThreshold(c *gin.Context) {
	sel, ok := querySelector(c)
	if !ok {
		return
	}

	res := s.thresholds.Lookup(c.Request.Context(), sel.Name, sel.Timeframe, sel.Phase, sel.Level)
	successResponse(c, res)
}

// handleGetResolvedThresholds returns the currently cached resolutions
func (s *Server) handleGetResolvedThresholds(c *gin.Context) {
	successResponse(c, s.thresholds.Resolved())
}

// handleRefreshThresholds drops every cached resolution
func (s *Server) handleRefreshThresholds(c *gin.Context) {
	dropped := s.thresholds.Refresh()
	successResponse(c, gin.H{"dropped": dropped})
}

// handleGetThresholdCacheStats returns threshold cache health counters
func (s *Server) handleGetThresholdCacheStats(c *gin.Context) {
	successResponse(c, s.thresholds.Stats())
}

// ============================================================================
// RUNTIME OVERRIDE ENDPOINTS
// ============================================================================

// handleGetRuntimeOverrides returns the operator-set runtime overrides
func (s *Server) handleGetRuntimeOverrides(c *gin.Context) {
	successResponse(c, s.thresholds.RuntimeOverrides())
}

// handleSetRuntimeOverride pins one threshold to an operator-set value that
// trumps both the persisted layer and the compiled defaults
func (s *Server) handleSetRuntimeOverride(c *gin.Context) {
	var req thresholdValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Level < 0 {
		errorResponse(c, http.StatusBadRequest, "level must be a non-negative integer")
		return
	}

	s.thresholds.SetRuntime(req.Name, req.Timeframe, req.Phase, req.Level, *req.Value)

	if s.eventBus != nil {
		s.eventBus.PublishThresholdOverrideSet(req.Name, req.Timeframe, req.Phase, req.Level, *req.Value)
	}

	successResponse(c, cache.RuntimeOverride{
		Name:      req.Name,
		Timeframe: req.Timeframe,
		Phase:     req.Phase,
		Level:     req.Level,
		Value:     *req.Value,
	})
}

// handleClearRuntimeOverride removes one runtime override
func (s *Server) handleClearRuntimeOverride(c *gin.Context) {
	sel, ok := querySelector(c)
	if !ok {
		return
	}

	if !s.thresholds.ClearRuntime(sel.Name, sel.Timeframe, sel.Phase, sel.Level) {
		errorResponse(c, http.StatusNotFound, "no runtime override matches the selector")
		return
	}

	if s.eventBus != nil {
		s.eventBus.PublishThresholdOverrideCleared(sel.Name, sel.Timeframe, sel.Phase, sel.Level)
	}

	successResponse(c, gin.H{"cleared": true})
}

// ============================================================================
// LEARNED DRIFT ENDPOINTS
// ============================================================================

// handleGetThresholdDrift returns the active learned threshold multipliers
func (s *Server) handleGetThresholdDrift(c *gin.Context) {
	rows, err := s.repo.ActiveThresholdOverrides(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load threshold drift rows: "+err.Error())
		return
	}
	successResponse(c, gin.H{
		"count": len(rows),
		"rows":  rows,
	})
}
