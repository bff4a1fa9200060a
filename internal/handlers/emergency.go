package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concertify/concertify/internal/appstate"
	"github.com/concertify/concertify/internal/emergency"
)

type EmergencyHandler struct {
	emergencySvc *emergency.Service
	state        *appstate.Registry
}

func NewEmergencyHandler(emergencySvc *emergency.Service, state *appstate.Registry) *EmergencyHandler {
	return &EmergencyHandler{emergencySvc: emergencySvc, state: state}
}

type ReportRequest struct {
	Type string `json:"type" binding:"required"`
}

// Report files an emergency for a running concert
func (h *EmergencyHandler) Report(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	report, err := h.emergencySvc.Report(c.Request.Context(), c.Param("id"), req.Type, userID, username)
	if err != nil {
		respondError(c, err)
		return
	}

	h.state.SetEmergency(userID, true)
	c.JSON(http.StatusCreated, report)
}

// GetReports returns a concert's report feed, newest first
func (h *EmergencyHandler) GetReports(c *gin.Context) {
	reports, err := h.emergencySvc.Reports(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// Resolve lowers the caller's emergency banner
func (h *EmergencyHandler) Resolve(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	h.state.SetEmergency(userID, false)
	c.JSON(http.StatusOK, gin.H{"emergency": false})
}
