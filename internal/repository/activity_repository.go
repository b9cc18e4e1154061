package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-credentials/internal/model"
)

// ActivityRepo provides append-only access to the activities audit table.
type ActivityRepo struct {
	q querier
}

// NewActivityRepo returns an ActivityRepo bound to the given pool or transaction.
func NewActivityRepo(q querier) *ActivityRepo { return &ActivityRepo{q: q} }

// Append inserts an activity.  A missing ID or timestamp is filled in.
func (r *ActivityRepo) Append(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO activities (id, event_id, attendee_id, action, resource_type, staff_id, location, assurance, detail, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, q, a.ID, a.EventID, a.AttendeeID, a.Action, string(a.Resource),
		a.StaffID, a.Location, a.Assurance, a.Detail, a.CreatedAt.UTC())
	return err
}

// ListByAttendee returns the attendee's activities, oldest first.
func (r *ActivityRepo) ListByAttendee(ctx context.Context, eventID, attendeeID uint64) ([]model.Activity, error) {
	const q = `SELECT id, event_id, attendee_id, action, resource_type, staff_id, location, assurance, detail, created_at
               FROM activities WHERE event_id = ? AND attendee_id = ? ORDER BY created_at, id`
	rows, err := r.q.QueryContext(ctx, q, eventID, attendeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Activity, 0)
	for rows.Next() {
		var a model.Activity
		var rt string
		if err := rows.Scan(&a.ID, &a.EventID, &a.AttendeeID, &a.Action, &rt, &a.StaffID, &a.Location,
			&a.Assurance, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Resource = model.ResourceType(rt)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
