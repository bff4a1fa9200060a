package models

import "time"

type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	DisplayName     *string   `json:"display_name,omitempty"`
	ProfileImageURL *string   `json:"profile_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Concert struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Artist          string    `json:"artist"`
	Venue           string    `json:"venue"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	PhotoURL        string    `json:"photo_url"`
	Genre           string    `json:"genre"`
	Category        string    `json:"category"`
	Description     string    `json:"description,omitempty"`
}

// Active reports whether the concert is currently running at the given time.
func (c Concert) Active(now time.Time) bool {
	end := c.StartTime.Add(time.Duration(c.DurationMinutes) * time.Minute)
	return !now.Before(c.StartTime) && !now.After(end)
}

type Room struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSummary is the joined conversation-list row: the room plus the other
// participant's denormalized profile and the latest message preview.
type RoomSummary struct {
	RoomID              string     `json:"room_id"`
	OtherParticipantID  string     `json:"other_participant_id"`
	OtherUsername       string     `json:"other_username"`
	OtherProfileImage   string     `json:"other_profile_image"`
	LastMessagePreview  string     `json:"last_message_preview,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
}

type Post struct {
	ID             string    `json:"id"`
	ConcertID      string    `json:"concert_id"`
	AuthorUsername string    `json:"author_username"`
	AuthorImageURL string    `json:"author_image_url,omitempty"`
	Content        string    `json:"content"`
	LikeCount      int       `json:"like_count"`
	LikedBy        []string  `json:"liked_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type Comment struct {
	ID             string    `json:"id"`
	PostID         string    `json:"post_id"`
	AuthorUsername string    `json:"author_username"`
	AuthorImageURL string    `json:"author_image_url,omitempty"`
	Content        string    `json:"content"`
	LikeCount      int       `json:"like_count"`
	LikedBy        []string  `json:"liked_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type EmergencyReport struct {
	ID                string    `json:"id"`
	ConcertID         string    `json:"concert_id"`
	Type              string    `json:"type"`
	ReportingUsername string    `json:"reporting_username"`
	CreatedAt         time.Time `json:"created_at"`
}

// Emergency report types accepted from attendees.
const (
	ReportMedical  = "medical"
	ReportSecurity = "security"
	ReportFire     = "fire"
	ReportCrowd    = "crowd"
	ReportOther    = "other"
)

// ValidReportType reports whether t is one of the accepted report types.
func ValidReportType(t string) bool {
	switch t {
	case ReportMedical, ReportSecurity, ReportFire, ReportCrowd, ReportOther:
		return true
	}
	return false
}
