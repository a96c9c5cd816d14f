package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func computerIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("computer_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid computer ID"})
		return 0, false
	}
	return id, true
}

type postFaultRequest struct {
	ReporterID  int64  `json:"reporter_id" binding:"required"`
	Description string `json:"description" binding:"required"`
	Emergency   bool   `json:"emergency"`
}

// PostFault handles POST /api/computers/{computer_id}/faults.
func (h *Handler) PostFault(c *gin.Context) {
	computerID, ok := computerIDParam(c)
	if !ok {
		return
	}

	var req postFaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.ReportFault(c.Request.Context(), computerID, req.ReporterID, req.Description, req.Emergency); err != nil {
		abortWithEngineError(c, err)
		return
	}

	h.invalidateComputerCache()
	c.Status(http.StatusAccepted)
}

type postMarkFixedRequest struct {
	TechnicianID int64 `json:"technician_id" binding:"required"`
}

// PostMarkFixed handles POST /api/computers/{computer_id}/fix: the
// technician half of the two-phase fix flow.
func (h *Handler) PostMarkFixed(c *gin.Context) {
	computerID, ok := computerIDParam(c)
	if !ok {
		return
	}

	var req postMarkFixedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.MarkFixed(c.Request.Context(), computerID, req.TechnicianID); err != nil {
		abortWithEngineError(c, err)
		return
	}

	h.invalidateComputerCache()
	c.Status(http.StatusOK)
}

type fixDecisionRequest struct {
	AdminID int64  `json:"admin_id" binding:"required"`
	Reason  string `json:"reason"`
}

// PostApproveFix handles POST /api/computers/{computer_id}/fix/approve.
func (h *Handler) PostApproveFix(c *gin.Context) {
	computerID, ok := computerIDParam(c)
	if !ok {
		return
	}

	var req fixDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.ApproveFix(c.Request.Context(), computerID, req.AdminID); err != nil {
		abortWithEngineError(c, err)
		return
	}

	h.invalidateComputerCache()
	c.Status(http.StatusOK)
}

// PostRejectFix handles POST /api/computers/{computer_id}/fix/reject.
func (h *Handler) PostRejectFix(c *gin.Context) {
	computerID, ok := computerIDParam(c)
	if !ok {
		return
	}

	var req fixDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.RejectFix(c.Request.Context(), computerID, req.AdminID, req.Reason); err != nil {
		abortWithEngineError(c, err)
		return
	}

	h.invalidateComputerCache()
	c.Status(http.StatusOK)
}

type postHeartbeatRequest struct {
	Online     bool    `json:"online"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
}

// PostHeartbeat handles POST /api/computers/{computer_id}/heartbeat,
// reported by the agent running on each lab PC.
func (h *Handler) PostHeartbeat(c *gin.Context) {
	computerID, ok := computerIDParam(c)
	if !ok {
		return
	}

	var req postHeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.RecordHeartbeat(c.Request.Context(), computerID,
		req.Online, req.CPUPercent, req.MemPercent, timeNow()); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "computer not found"})
		return
	}

	c.Status(http.StatusNoContent)
}
