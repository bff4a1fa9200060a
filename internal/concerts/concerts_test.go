package concerts

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

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "concerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	conn := database.GetConn()
	bus := live.NewManager(zerolog.Nop())
	svc := NewService(conn, bus, testDefaultImg, zerolog.Nop())
	svc.RegisterFetchers(bus)
	return svc, conn
}

func seedCatalog(t *testing.T, svc *Service) {
	t.Helper()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	err := svc.Seed(context.Background(), []models.Concert{
		{ID: "c1", Name: "Neon Nights", Artist: "The Sines", Venue: "Hall A",
			StartTime: base, DurationMinutes: 120, Genre: "electronic"},
		{ID: "c2", Name: "Acoustic Evening", Artist: "Mara Holt", Venue: "Club B",
			StartTime: base.Add(24 * time.Hour), DurationMinutes: 90, Genre: "folk"},
		{ID: "c3", Name: "Synth Riot", Artist: "The Sines", Venue: "Arena",
			StartTime: base.Add(48 * time.Hour), DurationMinutes: 150, Genre: "electronic"},
	})
	require.NoError(t, err)
}

func insertUser(t *testing.T, conn *sql.DB, id, username string) {
	t.Helper()
	_, err := conn.Exec(
		`INSERT INTO users (id, username, password_hash) VALUES (?, ?, 'x')`, id, username)
	require.NoError(t, err)
}

func TestListSortedByStart(t *testing.T) {
	svc, _ := newTestService(t)
	seedCatalog(t, svc)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c1", all[0].ID)
	require.Equal(t, "c3", all[2].ID)
}

func TestByGenre(t *testing.T) {
	svc, _ := newTestService(t)
	seedCatalog(t, svc)

	folk, err := svc.ByGenre(context.Background(), "folk")
	require.NoError(t, err)
	require.Len(t, folk, 1)
	require.Equal(t, "Acoustic Evening", folk[0].Name)
}

func TestGetMissing(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSeedUpserts(t *testing.T) {
	svc, _ := newTestService(t)
	seedCatalog(t, svc)

	err := svc.Seed(context.Background(), []models.Concert{
		{ID: "c1", Name: "Neon Nights (Rescheduled)", Artist: "The Sines",
			StartTime: time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC), DurationMinutes: 120},
	})
	require.NoError(t, err)

	c, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "Neon Nights (Rescheduled)", c.Name)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestSearchMatchesNameAndArtist(t *testing.T) {
	svc, _ := newTestService(t)
	seedCatalog(t, svc)
	ctx := context.Background()

	byName, err := svc.Search(ctx, "neon")
	require.NoError(t, err)
	require.NotEmpty(t, byName)
	require.Equal(t, "Neon Nights", byName[0].Name)

	byArtist, err := svc.Search(ctx, "sines")
	require.NoError(t, err)
	require.Len(t, byArtist, 2)

	none, err := svc.Search(ctx, "zzzqqq")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSearchEmptyQueryReturnsAll(t *testing.T) {
	svc, _ := newTestService(t)
	seedCatalog(t, svc)

	all, err := svc.Search(context.Background(), "   ")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestCheckInIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	seedCatalog(t, svc)
	insertUser(t, conn, "u1", "ana")
	ctx := context.Background()

	require.NoError(t, svc.CheckIn(ctx, "u1", "c1"))
	require.NoError(t, svc.CheckIn(ctx, "u1", "c1"))

	in, err := svc.CheckedIn(ctx, "u1", "c1")
	require.NoError(t, err)
	require.True(t, in)

	concerts, err := svc.ConcertsOf(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, concerts)
}

func TestCheckInUnknownConcert(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.CheckIn(context.Background(), "u1", "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMutualConcerts(t *testing.T) {
	svc, conn := newTestService(t)
	seedCatalog(t, svc)
	insertUser(t, conn, "u1", "ana")
	insertUser(t, conn, "u2", "bo")
	ctx := context.Background()

	require.NoError(t, svc.CheckIn(ctx, "u1", "c1"))
	require.NoError(t, svc.CheckIn(ctx, "u1", "c2"))
	require.NoError(t, svc.CheckIn(ctx, "u2", "c2"))
	require.NoError(t, svc.CheckIn(ctx, "u2", "c3"))

	n, err := svc.MutualConcerts(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAttendeeRoster(t *testing.T) {
	svc, conn := newTestService(t)
	seedCatalog(t, svc)
	insertUser(t, conn, "u1", "zoe")
	insertUser(t, conn, "u2", "ana")
	ctx := context.Background()

	require.NoError(t, svc.CheckIn(ctx, "u1", "c1"))
	require.NoError(t, svc.CheckIn(ctx, "u2", "c1"))

	items, err := svc.fetchAttendees(ctx, live.Query{
		Collection: live.CollectionUsers,
		Scope:      "c1",
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0].(models.User)
	require.Equal(t, "ana", first.Username)
	require.NotNil(t, first.ProfileImageURL)
	require.Equal(t, testDefaultImg, *first.ProfileImageURL)
}

func TestConcertActiveWindow(t *testing.T) {
	c := models.Concert{
		StartTime:       time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		DurationMinutes: 120,
	}
	require.False(t, c.Active(c.StartTime.Add(-time.Minute)))
	require.True(t, c.Active(c.StartTime))
	require.True(t, c.Active(c.StartTime.Add(time.Hour)))
	require.False(t, c.Active(c.StartTime.Add(121*time.Minute)))
}
