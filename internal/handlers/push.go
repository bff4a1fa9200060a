package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concertify/concertify/internal/push"
)

type PushHandler struct {
	notifier *push.Notifier
}

func NewPushHandler(notifier *push.Notifier) *PushHandler {
	return &PushHandler{notifier: notifier}
}

// VAPIDPublicKey hands the frontend the key it needs to subscribe
func (h *PushHandler) VAPIDPublicKey(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.notifier.VAPIDPublicKey()})
}

type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256dh   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// Subscribe stores the browser's push subscription
func (h *PushHandler) Subscribe(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications disabled"})
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.notifier.Subscribe(userID, push.Subscription{
		Endpoint:  req.Endpoint,
		KeyP256dh: req.P256dh,
		KeyAuth:   req.Auth,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store subscription"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscribed": true})
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// Unsubscribe revokes a push subscription
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	if _, _, ok := currentUser(c); !ok {
		return
	}
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications disabled"})
		return
	}

	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.notifier.Unsubscribe(req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": false})
}
