package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concertify/concertify/internal/appstate"
)

type StateHandler struct {
	state *appstate.Registry
}

func NewStateHandler(state *appstate.Registry) *StateHandler {
	return &StateHandler{state: state}
}

// Get returns the caller's session state
func (h *StateHandler) Get(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	st := h.state.Get(userID)
	c.JSON(http.StatusOK, gin.H{
		"active_concert_id": st.ActiveConcertID,
		"emergency":         st.Emergency,
	})
}

type SetActiveConcertRequest struct {
	ConcertID string `json:"concert_id"`
}

// SetActiveConcert records which concert the caller has open
func (h *StateHandler) SetActiveConcert(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req SetActiveConcertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	h.state.SetActiveConcert(userID, req.ConcertID)
	c.JSON(http.StatusOK, gin.H{"active_concert_id": req.ConcertID})
}
