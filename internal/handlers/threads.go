package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concertify/concertify/internal/threads"
)

type ThreadHandler struct {
	threadSvc *threads.Service
}

func NewThreadHandler(threadSvc *threads.Service) *ThreadHandler {
	return &ThreadHandler{threadSvc: threadSvc}
}

type CreatePostRequest struct {
	Content string `json:"content" binding:"required"`
}

// GetPosts returns a concert's board, newest first
func (h *ThreadHandler) GetPosts(c *gin.Context) {
	posts, err := h.threadSvc.Posts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

// CreatePost publishes a post on a concert's board
func (h *ThreadHandler) CreatePost(c *gin.Context) {
	_, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	post, err := h.threadSvc.PostToThread(c.Request.Context(), c.Param("id"), username, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// GetComments returns a post's comments, oldest first
func (h *ThreadHandler) GetComments(c *gin.Context) {
	comments, err := h.threadSvc.Comments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// CreateComment appends a comment under a post
func (h *ThreadHandler) CreateComment(c *gin.Context) {
	_, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	comment, err := h.threadSvc.AddComment(c.Request.Context(), c.Param("id"), username, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// ToggleLikePost flips the caller's like on a post
func (h *ThreadHandler) ToggleLikePost(c *gin.Context) {
	_, username, ok := currentUser(c)
	if !ok {
		return
	}

	liked, err := h.threadSvc.ToggleLikePost(c.Request.Context(), c.Param("id"), username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

// ToggleLikeComment flips the caller's like on a comment
func (h *ThreadHandler) ToggleLikeComment(c *gin.Context) {
	_, username, ok := currentUser(c)
	if !ok {
		return
	}

	liked, err := h.threadSvc.ToggleLikeComment(c.Request.Context(), c.Param("id"), username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}
