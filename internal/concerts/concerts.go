// Package concerts holds the event catalog and attendance: browsing and
// fuzzy search over the lineup, checking in to a show, and the live
// attendee roster other features build on.
package concerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/apperr"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/internal/models"
)

type Service struct {
	conn         *sql.DB
	bus          *live.Manager
	defaultImage string
	log          zerolog.Logger
}

func NewService(conn *sql.DB, bus *live.Manager, defaultImage string, logger zerolog.Logger) *Service {
	return &Service{conn: conn, bus: bus, defaultImage: defaultImage, log: logger}
}

const concertColumns = `id, name, artist, venue, start_time, duration_minutes,
	photo_url, genre, category, description`

func scanConcert(row interface{ Scan(...any) error }) (models.Concert, error) {
	var c models.Concert
	err := row.Scan(&c.ID, &c.Name, &c.Artist, &c.Venue, &c.StartTime, &c.DurationMinutes,
		&c.PhotoURL, &c.Genre, &c.Category, &c.Description)
	return c, err
}

// List returns the full catalog, soonest show first.
func (s *Service) List(ctx context.Context) ([]models.Concert, error) {
	return s.query(ctx,
		`SELECT `+concertColumns+` FROM concerts ORDER BY start_time ASC`)
}

// ByGenre filters the catalog by exact genre.
func (s *Service) ByGenre(ctx context.Context, genre string) ([]models.Concert, error) {
	return s.query(ctx,
		`SELECT `+concertColumns+` FROM concerts WHERE genre = ? ORDER BY start_time ASC`, genre)
}

func (s *Service) query(ctx context.Context, q string, args ...any) ([]models.Concert, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query concerts: %w", err)
	}
	defer rows.Close()

	out := make([]models.Concert, 0, 32)
	for rows.Next() {
		c, err := scanConcert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get loads one concert by id.
func (s *Service) Get(ctx context.Context, id string) (models.Concert, error) {
	c, err := scanConcert(s.conn.QueryRowContext(ctx,
		`SELECT `+concertColumns+` FROM concerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Concert{}, apperr.NotFound("concert " + id)
	}
	if err != nil {
		return models.Concert{}, fmt.Errorf("load concert %s: %w", id, err)
	}
	return c, nil
}

// Search fuzzy-matches the query against concert names and artists and
// returns results best match first. An empty query returns the whole
// catalog in its usual order.
func (s *Service) Search(ctx context.Context, query string) ([]models.Concert, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return all, nil
	}

	type hit struct {
		concert  models.Concert
		distance int
	}
	hits := make([]hit, 0, len(all))
	for _, c := range all {
		best := -1
		for _, target := range []string{c.Name, c.Artist} {
			r := fuzzy.RankMatchNormalizedFold(query, target)
			if r >= 0 && (best < 0 || r < best) {
				best = r
			}
		}
		if best >= 0 {
			hits = append(hits, hit{concert: c, distance: best})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	out := make([]models.Concert, len(hits))
	for i, h := range hits {
		out[i] = h.concert
	}
	return out, nil
}

// CheckIn marks the user as attending the concert. Checking in twice is a
// no-op.
func (s *Service) CheckIn(ctx context.Context, userID, concertID string) error {
	if _, err := s.Get(ctx, concertID); err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO attendance (user_id, concert_id) VALUES (?, ?)`,
		userID, concertID)
	if err != nil {
		return fmt.Errorf("check in %s to %s: %w", userID, concertID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.bus.Publish(live.Event{Collection: live.CollectionUsers, Scope: concertID})
	}
	return nil
}

// CheckedIn reports whether the user has checked in to the concert.
func (s *Service) CheckedIn(ctx context.Context, userID, concertID string) (bool, error) {
	var ok bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance WHERE user_id = ? AND concert_id = ?)`,
		userID, concertID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check attendance: %w", err)
	}
	return ok, nil
}

// ConcertsOf lists the ids of every concert the user has checked in to.
func (s *Service) ConcertsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT concert_id FROM attendance WHERE user_id = ? ORDER BY checked_in_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query attendance for %s: %w", userID, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MutualConcerts counts concerts both users have checked in to. The
// attendee list uses it to show how often two fans have crossed paths.
func (s *Service) MutualConcerts(ctx context.Context, userA, userB string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance a
		 JOIN attendance b ON a.concert_id = b.concert_id
		 WHERE a.user_id = ? AND b.user_id = ?`, userA, userB).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mutual concerts: %w", err)
	}
	return n, nil
}

// Seed upserts catalog entries. The catalog is maintained outside the app,
// so this runs from the seed command rather than any user-facing path.
func (s *Service) Seed(ctx context.Context, concerts []models.Concert) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, c := range concerts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO concerts (id, name, artist, venue, start_time, duration_minutes,
			                      photo_url, genre, category, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, artist = excluded.artist, venue = excluded.venue,
				start_time = excluded.start_time, duration_minutes = excluded.duration_minutes,
				photo_url = excluded.photo_url, genre = excluded.genre,
				category = excluded.category, description = excluded.description`,
			c.ID, c.Name, c.Artist, c.Venue, c.StartTime, c.DurationMinutes,
			c.PhotoURL, c.Genre, c.Category, c.Description)
		if err != nil {
			return fmt.Errorf("seed concert %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Attendees returns everyone checked in to the concert, sorted by
// username.
func (s *Service) Attendees(ctx context.Context, concertID string) ([]models.User, error) {
	items, err := s.fetchAttendees(ctx, live.Query{Collection: live.CollectionUsers, Scope: concertID})
	if err != nil {
		return nil, err
	}
	out := make([]models.User, len(items))
	for i, it := range items {
		out[i] = it.(models.User)
	}
	return out, nil
}

// RegisterFetchers wires the attendee roster into the live-query manager as
// the "users" collection, scoped by concert id.
func (s *Service) RegisterFetchers(m *live.Manager) {
	m.RegisterFetcher(live.CollectionUsers, s.fetchAttendees)
}

func (s *Service) fetchAttendees(ctx context.Context, q live.Query) ([]any, error) {
	if q.Scope == "" {
		return nil, apperr.Validation("attendees query requires a concert scope")
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.profile_image_url, u.created_at
		FROM attendance a
		JOIN users u ON u.id = a.user_id
		WHERE a.concert_id = ?
		ORDER BY u.username ASC`, q.Scope)
	if err != nil {
		return nil, fmt.Errorf("query attendees for %s: %w", q.Scope, err)
	}
	defer rows.Close()

	items := make([]any, 0, 32)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.ProfileImageURL, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.ProfileImageURL == nil || *u.ProfileImageURL == "" {
			img := s.defaultImage
			u.ProfileImageURL = &img
		}
		items = append(items, u)
	}
	return items, rows.Err()
}
