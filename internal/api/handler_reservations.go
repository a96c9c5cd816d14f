package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type postReservationRequest struct {
	ComputerID      int64     `json:"computer_id" binding:"required"`
	HolderID        int64     `json:"holder_id" binding:"required"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required"`
}

// PostReservation handles POST /api/reservations: the admission path.
// The atomic store call decides; the response (and any cached listing)
// reflects the committed outcome, never an optimistic one.
func (h *Handler) PostReservation(c *gin.Context) {
	var req postReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.Reserve(c.Request.Context(),
		req.ComputerID, req.HolderID,
		req.StartTime, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		abortWithEngineError(c, err)
		return
	}

	h.invalidateComputerCache()
	c.JSON(http.StatusCreated, gin.H{
		"id":          res.ID,
		"computer_id": res.ComputerID,
		"holder_id":   res.HolderID,
		"start_time":  res.StartTime,
		"end_time":    res.EndTime,
		"status":      res.Status,
	})
}

type postReleaseRequest struct {
	ActorID int64 `json:"actor_id" binding:"required"`
}

// PostRelease handles POST /api/computers/{computer_id}/release.
func (h *Handler) PostRelease(c *gin.Context) {
	computerID, err := strconv.ParseInt(c.Param("computer_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid computer ID"})
		return
	}

	var req postReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.Release(c.Request.Context(), computerID, req.ActorID)
	if err != nil {
		abortWithEngineError(c, err)
		return
	}

	h.invalidateComputerCache()
	c.JSON(http.StatusOK, gin.H{
		"id":     res.ID,
		"status": res.Status,
	})
}
