package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/event-credentials/internal/model"
)

// DailyRepo provides data access to the daily_records table used for
// multi-day events.  The primary key (attendee_id, day) guarantees at
// most one record per attendee and calendar date.
type DailyRepo struct {
	q querier
}

// NewDailyRepo returns a DailyRepo bound to the given pool or transaction.
func NewDailyRepo(q querier) *DailyRepo { return &DailyRepo{q: q} }

// Get loads the record for attendee and day, or ErrNotFound.
func (r *DailyRepo) Get(ctx context.Context, attendeeID uint64, day time.Time) (*model.DailyRecord, error) {
	const q = `SELECT attendee_id, day, checked_in, checked_in_at, claims, updated_at
               FROM daily_records WHERE attendee_id = ? AND day = ?`
	var rec model.DailyRecord
	var checkedInAt sql.NullTime
	var claims string
	err := r.q.QueryRowContext(ctx, q, attendeeID, model.DayOf(day).Format("2006-01-02")).Scan(
		&rec.AttendeeID, &rec.Day, &rec.CheckedIn, &checkedInAt, &claims, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Day = model.DayOf(rec.Day)
	if checkedInAt.Valid {
		t := checkedInAt.Time.UTC()
		rec.CheckedInAt = &t
	}
	rec.Claims = splitClaims(claims)
	return &rec, nil
}

// Upsert inserts the record or overwrites the existing row for the same
// (attendee_id, day).
func (r *DailyRepo) Upsert(ctx context.Context, rec *model.DailyRecord) error {
	const q = `INSERT INTO daily_records (attendee_id, day, checked_in, checked_in_at, claims, updated_at)
               VALUES (?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE checked_in = VALUES(checked_in), checked_in_at = VALUES(checked_in_at),
                                       claims = VALUES(claims), updated_at = VALUES(updated_at)`
	var checkedInAt interface{}
	if rec.CheckedInAt != nil {
		checkedInAt = rec.CheckedInAt.UTC()
	}
	_, err := r.q.ExecContext(ctx, q, rec.AttendeeID, model.DayOf(rec.Day).Format("2006-01-02"), rec.CheckedIn,
		checkedInAt, joinClaims(rec.Claims), rec.UpdatedAt.UTC())
	return err
}

func joinClaims(claims []model.ResourceType) string {
	parts := make([]string, len(claims))
	for i, c := range claims {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func splitClaims(s string) []model.ResourceType {
	out := make([]model.ResourceType, 0)
	if s == "" {
		return out
	}
	for _, p := range strings.Split(s, ",") {
		out = append(out, model.ResourceType(p))
	}
	return out
}
