// Package chat implements direct conversations between two attendees:
// deterministic room identity, message append, and the live queries behind
// the conversation list and the open-room view.
package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/apperr"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/internal/models"
)

// RoomID derives the canonical room id for a pair of users. Both orderings
// of the pair yield the same id, so two clients opening the same chat
// always land in the same room.
func RoomID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// participants splits a room id back into its ordered pair.
func participants(roomID string) (string, string, bool) {
	a, b, ok := strings.Cut(roomID, "_")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

type Service struct {
	conn         *sql.DB
	bus          *live.Manager
	defaultImage string
	log          zerolog.Logger
	now          func() time.Time
}

func NewService(conn *sql.DB, bus *live.Manager, defaultImage string, logger zerolog.Logger) *Service {
	return &Service{
		conn:         conn,
		bus:          bus,
		defaultImage: defaultImage,
		log:          logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// EnsureRoom creates the room for the pair if it does not exist yet and
// returns it. Racing callers both succeed and see the same room; an
// existing room keeps its original creation time.
func (s *Service) EnsureRoom(ctx context.Context, a, b string) (models.Room, error) {
	if a == "" || b == "" {
		return models.Room{}, apperr.Validation("both participants required")
	}
	if a == b {
		return models.Room{}, apperr.Validation("cannot open a room with yourself")
	}
	if a > b {
		a, b = b, a
	}
	id := RoomID(a, b)

	res, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO rooms (id, participant_a, participant_b, created_at) VALUES (?, ?, ?, ?)`,
		id, a, b, s.now(),
	)
	if err != nil {
		return models.Room{}, fmt.Errorf("ensure room %s: %w", id, err)
	}

	var room models.Room
	err = s.conn.QueryRowContext(ctx,
		`SELECT id, participant_a, participant_b, created_at FROM rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Participants[0], &room.Participants[1], &room.CreatedAt)
	if err != nil {
		return models.Room{}, fmt.Errorf("load room %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.bus.Publish(live.Event{Collection: live.CollectionRooms, Scope: a})
		s.bus.Publish(live.Event{Collection: live.CollectionRooms, Scope: b})
	}
	return room, nil
}

// SendMessage appends a message from sender to recipient, creating the room
// on first contact.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, apperr.Validation("message text is empty")
	}

	room, err := s.EnsureRoom(ctx, senderID, recipientID)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		RoomID:    room.ID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: s.now(),
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	s.bus.Publish(live.Event{Collection: live.CollectionMessages, Scope: room.ID})
	s.bus.Publish(live.Event{Collection: live.CollectionRooms, Scope: room.Participants[0]})
	s.bus.Publish(live.Event{Collection: live.CollectionRooms, Scope: room.Participants[1]})
	return msg, nil
}

// History returns a room's messages oldest-first, verifying the viewer is a
// participant.
func (s *Service) History(ctx context.Context, roomID, viewer string) ([]models.Message, error) {
	items, err := s.fetchMessages(ctx, live.Query{
		Collection: live.CollectionMessages,
		Scope:      roomID,
		Filters:    []live.Filter{{Field: "viewer", Value: viewer}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, len(items))
	for i, it := range items {
		out[i] = it.(models.Message)
	}
	return out, nil
}

// RoomsFor returns the user's conversation list, most recently active
// first.
func (s *Service) RoomsFor(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	items, err := s.fetchRoomSummaries(ctx, live.Query{
		Collection: live.CollectionRooms,
		Scope:      userID,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.RoomSummary, len(items))
	for i, it := range items {
		out[i] = it.(models.RoomSummary)
	}
	return out, nil
}

// RegisterFetchers wires the chat collections into the live-query manager:
// "messages" scoped by room id and "rooms" scoped by user id.
func (s *Service) RegisterFetchers(m *live.Manager) {
	m.RegisterFetcher(live.CollectionMessages, s.fetchMessages)
	m.RegisterFetcher(live.CollectionRooms, s.fetchRoomSummaries)
}

// fetchMessages returns a room's history oldest-first. A "viewer" filter,
// when present, must name one of the two participants.
func (s *Service) fetchMessages(ctx context.Context, q live.Query) ([]any, error) {
	a, b, ok := participants(q.Scope)
	if !ok {
		return nil, apperr.Validation("malformed room id " + q.Scope)
	}
	for _, f := range q.Filters {
		if f.Field == "viewer" && f.Value != a && f.Value != b {
			return nil, apperr.Permission("read room " + q.Scope)
		}
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, room_id, sender_id, text, created_at
		 FROM messages WHERE room_id = ?
		 ORDER BY created_at ASC, id ASC`, q.Scope)
	if err != nil {
		return nil, fmt.Errorf("query messages for %s: %w", q.Scope, err)
	}
	defer rows.Close()

	items := make([]any, 0, 32)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	return items, rows.Err()
}

// fetchRoomSummaries builds the conversation list for one user: every room
// they are in, joined with the other participant's profile and the latest
// message, most recently active first. Rooms with no messages yet sort
// last.
func (s *Service) fetchRoomSummaries(ctx context.Context, q live.Query) ([]any, error) {
	userID := q.Scope
	if userID == "" {
		return nil, apperr.Validation("rooms query requires a user scope")
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.id,
		       CASE WHEN r.participant_a = ? THEN r.participant_b ELSE r.participant_a END,
		       COALESCE(u.username, ''),
		       COALESCE(u.profile_image_url, ''),
		       COALESCE((SELECT m.text FROM messages m WHERE m.room_id = r.id
		                 ORDER BY m.created_at DESC, m.id DESC LIMIT 1), ''),
		       (SELECT m.created_at FROM messages m WHERE m.room_id = r.id
		        ORDER BY m.created_at DESC, m.id DESC LIMIT 1) AS last_at
		FROM rooms r
		LEFT JOIN users u
		  ON u.id = CASE WHEN r.participant_a = ? THEN r.participant_b ELSE r.participant_a END
		WHERE r.participant_a = ? OR r.participant_b = ?
		ORDER BY last_at IS NULL, last_at DESC`,
		userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms for %s: %w", userID, err)
	}
	defer rows.Close()

	items := make([]any, 0, 16)
	for rows.Next() {
		var sum models.RoomSummary
		// The timestamp comes out of a subselect, so the driver hands it
		// back untyped; parse it here instead of scanning a time.Time.
		var lastAt sql.NullString
		if err := rows.Scan(&sum.RoomID, &sum.OtherParticipantID, &sum.OtherUsername,
			&sum.OtherProfileImage, &sum.LastMessagePreview, &lastAt); err != nil {
			return nil, err
		}
		if sum.OtherProfileImage == "" {
			sum.OtherProfileImage = s.defaultImage
		}
		if lastAt.Valid {
			if t, err := parseStoredTime(lastAt.String); err == nil {
				sum.LastMessageAt = &t
			}
		}
		items = append(items, sum)
	}
	return items, rows.Err()
}

var storedTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

func parseStoredTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range storedTimeFormats {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
