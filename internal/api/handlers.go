package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/posture"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// TREND STATE ENDPOINTS
// ============================================================================

// handleGetStates returns the full snapshot of every tracked position
func (s *Server) handleGetStates(c *gin.Context) {
	successResponse(c, s.engine.Snapshots())
}

// handleGetState returns the snapshot of one position
func (s *Server) handleGetState(c *gin.Context) {
	position := fmt.Sprintf("%s:%s:%s", c.Param("token"), c.Param("chain"), c.Param("timeframe"))

	snap, ok := s.engine.Snapshot(position)
	if !ok {
		errorResponse(c, http.StatusNotFound, fmt.Sprintf("position %s is not tracked", position))
		return
	}

	successResponse(c, snap)
}

// positionSummary is the compact per-position row returned by /positions
type positionSummary struct {
	Position    string    `json:"position"`
	State       string    `json:"state"`
	BarsInState int       `json:"bars_in_state"`
	Price       float64   `json:"price"`
	Stale       bool      `json:"stale"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// handleGetPositions returns a compact listing of tracked positions
func (s *Server) handleGetPositions(c *gin.Context) {
	snapshots := s.engine.Snapshots()

	positions := make([]positionSummary, 0, len(snapshots))
	for _, snap := range snapshots {
		positions = append(positions, positionSummary{
			Position:    snap.Key.String(),
			State:       string(snap.State),
			BarsInState: snap.BarsInState,
			Price:       snap.Price,
			Stale:       snap.Stale,
			EvaluatedAt: snap.EvaluatedAt,
		})
	}

	successResponse(c, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

// ============================================================================
// TRADE REPORTING ENDPOINTS
// ============================================================================

// reportTradeRequest is one executed action reported by the execution side.
// Scope and timestamp are optional: a missing scope inherits the position's
// current scope and a missing timestamp is stamped on receipt.
type reportTradeRequest struct {
	TradeID    string            `json:"trade_id" binding:"required"`
	Position   string            `json:"position" binding:"required"`
	PatternKey string            `json:"pattern_key" binding:"required"`
	Action     string            `json:"action_category" binding:"required"`
	Scope      map[string]string `json:"scope"`
	RealizedRR float64           `json:"realized_rr"`
	PnL        float64           `json:"pnl"`
	Timestamp  time.Time         `json:"timestamp"`
}

// handleReportTrade records an executed action against its pattern
func (s *Server) handleReportTrade(c *gin.Context) {
	var req reportTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	category := patterns.ActionCategory(req.Action)
	switch category {
	case patterns.ActionEntry, patterns.ActionAdd, patterns.ActionTrim, patterns.ActionExit:
	default:
		errorResponse(c, http.StatusBadRequest,
			fmt.Sprintf("unknown action_category %q (want entry, add, trim or exit)", req.Action))
		return
	}

	ev := patterns.PatternTradeEvent{
		TradeID:    req.TradeID,
		Position:   req.Position,
		PatternKey: req.PatternKey,
		Category:   category,
		Scope:      patterns.Scope(req.Scope),
		RealizedRR: req.RealizedRR,
		PnL:        req.PnL,
		Timestamp:  req.Timestamp,
	}

	if err := s.engine.ReportTrade(c.Request.Context(), ev); err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to record trade event: "+err.Error())
		return
	}

	successResponse(c, gin.H{
		"trade_id": req.TradeID,
		"recorded": true,
	})
}

// ============================================================================
// POSTURE ENDPOINTS
// ============================================================================

// handleGetPosture returns the current aggression/exposure pair
func (s *Server) handleGetPosture(c *gin.Context) {
	successResponse(c, s.calculator.Compute(c.Request.Context()))
}

// handleGetPostureFlags returns the current regime flag snapshot
func (s *Server) handleGetPostureFlags(c *gin.Context) {
	successResponse(c, gin.H{
		"drivers": s.calculator.DriverNames(),
		"flags":   s.calculator.Flags(),
	})
}

// handleSetPostureFlags replaces the full regime flag snapshot. Drivers
// absent from the body go quiet; unknown driver names are rejected.
func (s *Server) handleSetPostureFlags(c *gin.Context) {
	var flags posture.RegimeFlags
	if err := c.ShouldBindJSON(&flags); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	known := make(map[string]bool)
	for _, name := range s.calculator.DriverNames() {
		known[name] = true
	}
	for name := range flags {
		if !known[name] {
			errorResponse(c, http.StatusBadRequest,
				fmt.Sprintf("unknown driver %q (configured drivers: %v)", name, s.calculator.DriverNames()))
			return
		}
	}

	s.calculator.SetFlags(flags)

	state := s.calculator.Compute(c.Request.Context())
	if s.eventBus != nil {
		s.eventBus.PublishPostureUpdate(state.Aggression, state.Exposure, state.Strength)
	}

	successResponse(c, state)
}
