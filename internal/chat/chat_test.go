package chat

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/concertify/concertify/internal/apperr"
	"github.com/concertify/concertify/internal/db"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/internal/models"
)

const testDefaultImg = "https://cdn.example.com/default.png"

func newTestService(t *testing.T) (*Service, *live.Manager, *sql.DB) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	bus := live.NewManager(zerolog.Nop())
	svc := NewService(database.GetConn(), bus, testDefaultImg, zerolog.Nop())
	svc.RegisterFetchers(bus)
	return svc, bus, database.GetConn()
}

func insertUser(t *testing.T, conn *sql.DB, id, username, image string) {
	t.Helper()
	var img any
	if image != "" {
		img = image
	}
	_, err := conn.Exec(
		`INSERT INTO users (id, username, password_hash, profile_image_url) VALUES (?, ?, 'x', ?)`,
		id, username, img)
	require.NoError(t, err)
}

func TestRoomIDSymmetric(t *testing.T) {
	require.Equal(t, RoomID("u2", "u1"), RoomID("u1", "u2"))
	require.Equal(t, "u1_u2", RoomID("u2", "u1"))
}

func TestEnsureRoomIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	room1, err := svc.EnsureRoom(ctx, "u1", "u2")
	require.NoError(t, err)

	// Second open from the other side, later in time.
	svc.now = func() time.Time { return first.Add(time.Hour) }
	room2, err := svc.EnsureRoom(ctx, "u2", "u1")
	require.NoError(t, err)

	require.Equal(t, room1.ID, room2.ID)
	require.Equal(t, room1.CreatedAt, room2.CreatedAt)
	require.Equal(t, [2]string{"u1", "u2"}, room2.Participants)
}

func TestEnsureRoomRejectsSelfAndEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureRoom(ctx, "u1", "u1")
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.EnsureRoom(ctx, "", "u2")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSendMessageOrdersHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	for i, text := range []string{"hey", "you made it!", "row 12, come over"} {
		tick := base.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return tick }
		_, err := svc.SendMessage(ctx, "u1", "u2", text)
		require.NoError(t, err)
	}

	items, err := svc.fetchMessages(ctx, live.Query{
		Collection: live.CollectionMessages,
		Scope:      RoomID("u1", "u2"),
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "hey", items[0].(models.Message).Text)
	require.Equal(t, "row 12, come over", items[2].(models.Message).Text)
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	svc, _, conn := newTestService(t)

	_, err := svc.SendMessage(context.Background(), "u1", "u2", "   \n")
	require.ErrorIs(t, err, apperr.ErrValidation)

	var rooms int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&rooms))
	require.Zero(t, rooms, "rejected message must not create a room")
}

func TestMessagesViewerMustBeParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, "u1", "u2", "hi")
	require.NoError(t, err)

	q := live.Query{
		Collection: live.CollectionMessages,
		Scope:      RoomID("u1", "u2"),
		Filters:    []live.Filter{{Field: "viewer", Value: "intruder"}},
	}
	_, err = svc.fetchMessages(ctx, q)
	require.ErrorIs(t, err, apperr.ErrPermission)

	q.Filters[0].Value = "u2"
	items, err := svc.fetchMessages(ctx, q)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRoomSummaries(t *testing.T) {
	svc, _, conn := newTestService(t)
	ctx := context.Background()

	insertUser(t, conn, "u1", "ana", "https://cdn.example.com/ana.png")
	insertUser(t, conn, "u2", "bo", "")
	insertUser(t, conn, "u3", "cleo", "https://cdn.example.com/cleo.png")

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	_, err := svc.SendMessage(ctx, "u2", "u1", "early")
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(time.Minute) }
	_, err = svc.SendMessage(ctx, "u3", "u1", "late")
	require.NoError(t, err)

	// An opened but silent room sorts after active ones.
	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = svc.EnsureRoom(ctx, "u1", "u4")
	require.NoError(t, err)

	items, err := svc.fetchRoomSummaries(ctx, live.Query{
		Collection: live.CollectionRooms,
		Scope:      "u1",
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	first := items[0].(models.RoomSummary)
	require.Equal(t, "cleo", first.OtherUsername)
	require.Equal(t, "late", first.LastMessagePreview)
	require.NotNil(t, first.LastMessageAt)

	second := items[1].(models.RoomSummary)
	require.Equal(t, "bo", second.OtherUsername)
	require.Equal(t, testDefaultImg, second.OtherProfileImage)

	silent := items[2].(models.RoomSummary)
	require.Equal(t, "u4", silent.OtherParticipantID)
	require.Nil(t, silent.LastMessageAt)
	require.Empty(t, silent.LastMessagePreview)
}

func TestSendMessageWakesRoomStream(t *testing.T) {
	svc, bus, _ := newTestService(t)
	ctx := context.Background()

	stream, err := bus.Subscribe(ctx, live.Query{
		Collection: live.CollectionMessages,
		Scope:      RoomID("u1", "u2"),
	})
	require.NoError(t, err)
	defer stream.Cancel()

	// Initial snapshot of the empty room.
	snap := <-stream.Snapshots()
	require.Empty(t, snap.Items)

	_, err = svc.SendMessage(ctx, "u1", "u2", "soundcheck just started")
	require.NoError(t, err)

	select {
	case snap = <-stream.Snapshots():
		require.Len(t, snap.Items, 1)
		require.Equal(t, "soundcheck just started", snap.Items[0].(models.Message).Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no refreshed snapshot after send")
	}
}
