// Package handlers holds the HTTP surface. Each domain gets its own
// handler struct; errors from the services are mapped to statuses and
// user-visible messages in one place.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concertify/concertify/internal/apperr"
	"github.com/concertify/concertify/pkg/messages"
)

// respondError translates a service error into a status code and a safe
// message. Internal detail stays in the logs, never in the response body.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": messages.ForError(err)})
}

// currentUser pulls the authenticated identity set by the auth middleware.
func currentUser(c *gin.Context) (id, username string, ok bool) {
	rawID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	rawName, _ := c.Get("username")
	name, _ := rawName.(string)
	return rawID.(string), name, true
}
