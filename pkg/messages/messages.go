// Package messages maps internal error categories to the short messages
// shown to end users, so handlers never leak wrapped error chains.
package messages

import (
	"errors"

	"github.com/concertify/concertify/internal/apperr"
)

var catalog = map[error]string{
	apperr.ErrNotFound:   "not found",
	apperr.ErrValidation: "invalid request",
	apperr.ErrPermission: "you are not allowed to do that",
	apperr.ErrTransient:  "temporary problem, please try again",
}

// Auth failures get their own wording so sign-in/sign-up screens can show
// something actionable instead of a generic validation message.
var authCatalog = map[string]string{
	"username taken":     "that username is already in use",
	"weak password":      "password must be at least 6 characters",
	"invalid credential": "wrong username or password",
}

// ForError returns the user-visible message for err, falling back to a
// generic message for uncategorized errors.
func ForError(err error) string {
	for sentinel, msg := range catalog {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return "something went wrong"
}

// ForAuth returns the message for a named auth failure category.
func ForAuth(category string) string {
	if msg, ok := authCatalog[category]; ok {
		return msg
	}
	return "authentication failed"
}
