// Package emergency handles incident reports raised from inside a show:
// validation against the concert's live window, the newest-first report
// feed, and fan-out to push notifications.
package emergency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/apperr"
	"github.com/concertify/concertify/internal/live"
	"github.com/concertify/concertify/internal/models"
)

// Catalog is the slice of the concert service reports are validated
// against.
type Catalog interface {
	Get(ctx context.Context, id string) (models.Concert, error)
	CheckedIn(ctx context.Context, userID, concertID string) (bool, error)
}

// Notifier is told about each accepted report so attendees can be alerted
// out-of-band. Delivery failures are the notifier's problem; the report is
// already committed.
type Notifier interface {
	EmergencyReported(ctx context.Context, concert models.Concert, report models.EmergencyReport)
}

type Service struct {
	conn     *sql.DB
	bus      *live.Manager
	catalog  Catalog
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(conn *sql.DB, bus *live.Manager, catalog Catalog, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		conn:     conn,
		bus:      bus,
		catalog:  catalog,
		notifier: notifier,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Report files an emergency for a running concert. The reporter must be
// checked in, the type must be one of the accepted kinds, and the concert
// must be inside its live window.
func (s *Service) Report(ctx context.Context, concertID, reportType, userID, username string) (models.EmergencyReport, error) {
	if !models.ValidReportType(reportType) {
		return models.EmergencyReport{}, apperr.Validation("unknown report type " + reportType)
	}

	concert, err := s.catalog.Get(ctx, concertID)
	if err != nil {
		return models.EmergencyReport{}, err
	}
	now := s.now()
	if !concert.Active(now) {
		return models.EmergencyReport{}, apperr.Validation("concert is not live")
	}
	checkedIn, err := s.catalog.CheckedIn(ctx, userID, concertID)
	if err != nil {
		return models.EmergencyReport{}, err
	}
	if !checkedIn {
		return models.EmergencyReport{}, apperr.Permission("report emergency at " + concertID)
	}

	report := models.EmergencyReport{
		ID:                uuid.NewString(),
		ConcertID:         concertID,
		Type:              reportType,
		ReportingUsername: username,
		CreatedAt:         now,
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO emergency_reports (id, concert_id, report_type, reporting_username, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		report.ID, report.ConcertID, report.Type, report.ReportingUsername, report.CreatedAt)
	if err != nil {
		return models.EmergencyReport{}, fmt.Errorf("insert report: %w", err)
	}

	s.log.Warn().
		Str("concert_id", concertID).
		Str("type", reportType).
		Str("reported_by", username).
		Msg("emergency reported")

	s.bus.Publish(live.Event{Collection: live.CollectionEmergencies, Scope: concertID})
	if s.notifier != nil {
		s.notifier.EmergencyReported(ctx, concert, report)
	}
	return report, nil
}

// Active reports whether the concert has at least one report filed within
// its current live window.
func (s *Service) Active(ctx context.Context, concertID string) (bool, error) {
	concert, err := s.catalog.Get(ctx, concertID)
	if err != nil {
		return false, err
	}
	var n int
	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emergency_reports WHERE concert_id = ? AND created_at >= ?`,
		concertID, concert.StartTime).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count reports: %w", err)
	}
	return n > 0, nil
}

// Reports returns a concert's report feed newest-first.
func (s *Service) Reports(ctx context.Context, concertID string) ([]models.EmergencyReport, error) {
	items, err := s.fetchReports(ctx, live.Query{Collection: live.CollectionEmergencies, Scope: concertID})
	if err != nil {
		return nil, err
	}
	out := make([]models.EmergencyReport, len(items))
	for i, it := range items {
		out[i] = it.(models.EmergencyReport)
	}
	return out, nil
}

// RegisterFetchers wires the report feed into the live-query manager as the
// "emergencies" collection, newest first, scoped by concert id.
func (s *Service) RegisterFetchers(m *live.Manager) {
	m.RegisterFetcher(live.CollectionEmergencies, s.fetchReports)
}

func (s *Service) fetchReports(ctx context.Context, q live.Query) ([]any, error) {
	if q.Scope == "" {
		return nil, apperr.Validation("emergencies query requires a concert scope")
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, concert_id, report_type, reporting_username, created_at
		 FROM emergency_reports WHERE concert_id = ?
		 ORDER BY created_at DESC, id DESC`, q.Scope)
	if err != nil {
		return nil, fmt.Errorf("query reports for %s: %w", q.Scope, err)
	}
	defer rows.Close()

	items := make([]any, 0, 8)
	for rows.Next() {
		var r models.EmergencyReport
		if err := rows.Scan(&r.ID, &r.ConcertID, &r.Type, &r.ReportingUsername, &r.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
