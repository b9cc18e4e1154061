package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/event-credentials/internal/model"
)

// AttendeeRepo provides data access to the attendees and attendee_claims
// tables.  It runs against either the pool or a transaction; LockByID
// only holds its lock when bound to a transaction.  All timestamps are
// stored in UTC.
type AttendeeRepo struct {
	q querier
}

// NewAttendeeRepo returns an AttendeeRepo bound to the given pool or transaction.
func NewAttendeeRepo(q querier) *AttendeeRepo { return &AttendeeRepo{q: q} }

const attendeeColumns = `id, event_id, name, email, phone, role, company, title, tags, notes,
        credential_id, checked_in, checked_in_at, check_in_location, checked_in_by, created_at, updated_at`

// existingEmailsChunk bounds the size of the IN list per query.
const existingEmailsChunk = 500

// Create inserts a new attendee.  Email is lower-cased before insert.
// It returns ErrDuplicate when (event_id, email) or credential_id is
// already taken.
func (r *AttendeeRepo) Create(ctx context.Context, a *model.Attendee) error {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	const q = `INSERT INTO attendees (event_id, name, email, phone, role, company, title, tags, notes, credential_id)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.q.ExecContext(ctx, q, a.EventID, a.Name, a.Email, a.Phone, a.Role,
		a.Company, a.Title, strings.Join(a.Tags, ","), a.Notes, a.CredentialID)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Claims == nil {
		a.Claims = map[model.ResourceType]model.ClaimState{}
	}
	return nil
}

// GetByID loads an attendee of the given event with its claims.
func (r *AttendeeRepo) GetByID(ctx context.Context, eventID, id uint64) (*model.Attendee, error) {
	return r.getOne(ctx, `SELECT `+attendeeColumns+` FROM attendees WHERE event_id = ? AND id = ?`, eventID, id)
}

// GetByCredentialID loads an attendee by stored identifier.
func (r *AttendeeRepo) GetByCredentialID(ctx context.Context, eventID uint64, credentialID string) (*model.Attendee, error) {
	return r.getOne(ctx, `SELECT `+attendeeColumns+` FROM attendees WHERE event_id = ? AND credential_id = ?`, eventID, credentialID)
}

// GetByEmail loads an attendee by normalized email.
func (r *AttendeeRepo) GetByEmail(ctx context.Context, eventID uint64, email string) (*model.Attendee, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.getOne(ctx, `SELECT `+attendeeColumns+` FROM attendees WHERE event_id = ? AND email = ?`, eventID, email)
}

// LockByID loads the attendee with SELECT ... FOR UPDATE.  Concurrent
// check-ins and claims for the same attendee serialise on this lock.
func (r *AttendeeRepo) LockByID(ctx context.Context, eventID, id uint64) (*model.Attendee, error) {
	return r.getOne(ctx, `SELECT `+attendeeColumns+` FROM attendees WHERE event_id = ? AND id = ? FOR UPDATE`, eventID, id)
}

func (r *AttendeeRepo) getOne(ctx context.Context, query string, args ...any) (*model.Attendee, error) {
	a, err := scanAttendee(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := r.loadClaims(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func scanAttendee(row *sql.Row) (*model.Attendee, error) {
	var a model.Attendee
	var tags string
	var checkedInAt sql.NullTime
	if err := row.Scan(
		&a.ID, &a.EventID, &a.Name, &a.Email, &a.Phone, &a.Role, &a.Company, &a.Title, &tags, &a.Notes,
		&a.CredentialID, &a.CheckedIn, &checkedInAt, &a.CheckInLocation, &a.CheckedInBy, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if tags != "" {
		a.Tags = strings.Split(tags, ",")
	}
	if checkedInAt.Valid {
		t := checkedInAt.Time.UTC()
		a.CheckedInAt = &t
	}
	return &a, nil
}

func (r *AttendeeRepo) loadClaims(ctx context.Context, a *model.Attendee) error {
	const q = `SELECT resource_type, claimed_at, location, staff_id FROM attendee_claims WHERE attendee_id = ?`
	rows, err := r.q.QueryContext(ctx, q, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	a.Claims = map[model.ResourceType]model.ClaimState{}
	for rows.Next() {
		var rt string
		var cs model.ClaimState
		if err := rows.Scan(&rt, &cs.ClaimedAt, &cs.Location, &cs.ClaimedBy); err != nil {
			return err
		}
		cs.ClaimedAt = cs.ClaimedAt.UTC()
		a.Claims[model.ResourceType(rt)] = cs
	}
	return rows.Err()
}

// ExistingEmails returns the subset of emails already registered for the
// event.  Input emails are expected to be normalized.
func (r *AttendeeRepo) ExistingEmails(ctx context.Context, eventID uint64, emails []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(emails); start += existingEmailsChunk {
		end := start + existingEmailsChunk
		if end > len(emails) {
			end = len(emails)
		}
		chunk := emails[start:end]
		query := `SELECT email FROM attendees WHERE event_id = ? AND email IN (?` + strings.Repeat(",?", len(chunk)-1) + `)`
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, eventID)
		for _, e := range chunk {
			args = append(args, e)
		}
		rows, err := r.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var e string
			if err := rows.Scan(&e); err != nil {
				rows.Close()
				return nil, err
			}
			found[e] = true
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// MarkCheckedIn sets the check-in columns only while checked_in is still
// 0, so the flag can never be written twice.
func (r *AttendeeRepo) MarkCheckedIn(ctx context.Context, id uint64, at time.Time, location, staffID string) error {
	const q = `UPDATE attendees
               SET checked_in = 1, checked_in_at = ?, check_in_location = ?, checked_in_by = ?
               WHERE id = ? AND checked_in = 0`
	res, err := r.q.ExecContext(ctx, q, at.UTC(), location, staffID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// AddClaim inserts a claim record.  The primary key (attendee_id,
// resource_type) rejects a second claim of the same type.
func (r *AttendeeRepo) AddClaim(ctx context.Context, c model.ClaimRecord) error {
	const q = `INSERT INTO attendee_claims (attendee_id, event_id, resource_type, claimed_at, location, staff_id)
               VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, q, c.AttendeeID, c.EventID, string(c.Resource), c.ClaimedAt.UTC(), c.Location, c.StaffID)
	if err != nil && isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}
