package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concertify/concertify/internal/concerts"
)

type ConcertHandler struct {
	concertSvc *concerts.Service
}

func NewConcertHandler(concertSvc *concerts.Service) *ConcertHandler {
	return &ConcertHandler{concertSvc: concertSvc}
}

// List returns the catalog; ?genre= filters, ?q= fuzzy-searches name and
// artist
func (h *ConcertHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	if q := c.Query("q"); q != "" {
		results, err := h.concertSvc.Search(ctx, q)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"concerts": results})
		return
	}

	if genre := c.Query("genre"); genre != "" {
		results, err := h.concertSvc.ByGenre(ctx, genre)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"concerts": results})
		return
	}

	all, err := h.concertSvc.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"concerts": all})
}

// Get returns one concert
func (h *ConcertHandler) Get(c *gin.Context) {
	concert, err := h.concertSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, concert)
}

// CheckIn marks the user as attending
func (h *ConcertHandler) CheckIn(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.concertSvc.CheckIn(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checked_in": true})
}

// MyConcerts lists the concert ids the user has checked in to
func (h *ConcertHandler) MyConcerts(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	ids, err := h.concertSvc.ConcertsOf(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"concert_ids": ids})
}

// Attendees returns the roster, each entry annotated with how many
// concerts that attendee shares with the caller
func (h *ConcertHandler) Attendees(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	users, err := h.concertSvc.Attendees(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	type attendee struct {
		ID              string  `json:"id"`
		Username        string  `json:"username"`
		DisplayName     *string `json:"display_name,omitempty"`
		ProfileImageURL *string `json:"profile_image_url,omitempty"`
		MutualConcerts  int     `json:"mutual_concerts"`
	}

	out := make([]attendee, 0, len(users))
	for _, u := range users {
		a := attendee{
			ID:              u.ID,
			Username:        u.Username,
			DisplayName:     u.DisplayName,
			ProfileImageURL: u.ProfileImageURL,
		}
		if u.ID != userID {
			n, err := h.concertSvc.MutualConcerts(ctx, userID, u.ID)
			if err != nil {
				respondError(c, err)
				return
			}
			a.MutualConcerts = n
		}
		out = append(out, a)
	}
	c.JSON(http.StatusOK, gin.H{"attendees": out})
}
