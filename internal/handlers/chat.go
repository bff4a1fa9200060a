package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concertify/concertify/internal/chat"
)

// MessageNotifier lets the chat handler fire a push notification without
// depending on the push package directly.
type MessageNotifier interface {
	SendNewMessageNotification(receiverID, senderUsername string)
}

// OnlineChecker reports whether a user currently has a socket open.
type OnlineChecker interface {
	IsUserOnline(userID string) bool
}

type ChatHandler struct {
	chatSvc  *chat.Service
	notifier MessageNotifier
	online   OnlineChecker
}

func NewChatHandler(chatSvc *chat.Service, notifier MessageNotifier, online OnlineChecker) *ChatHandler {
	return &ChatHandler{chatSvc: chatSvc, notifier: notifier, online: online}
}

type OpenRoomRequest struct {
	OtherUserID string `json:"other_user_id" binding:"required"`
}

// OpenRoom creates (or finds) the room with another user
func (h *ChatHandler) OpenRoom(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req OpenRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	room, err := h.chatSvc.EnsureRoom(c.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetRooms returns the user's conversation list
func (h *ChatHandler) GetRooms(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	rooms, err := h.chatSvc.RoomsFor(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetMessages returns a room's history, oldest first
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	roomID := c.Param("id")
	history, err := h.chatSvc.History(c.Request.Context(), roomID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

type SendMessageRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

// SendMessage appends a message, creating the room on first contact
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	msg, err := h.chatSvc.SendMessage(c.Request.Context(), userID, req.RecipientID, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}

	// Offline recipients get a push instead of a socket event.
	if h.notifier != nil && (h.online == nil || !h.online.IsUserOnline(req.RecipientID)) {
		h.notifier.SendNewMessageNotification(req.RecipientID, username)
	}

	c.JSON(http.StatusCreated, msg)
}
