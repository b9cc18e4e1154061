package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-credentials/internal/model"
)

// AttendeeStore persists attendees and their claim records.
type AttendeeStore interface {
	// Create inserts a and populates its ID.  Returns ErrDuplicate when
	// the email or credential id is already registered for the event.
	Create(ctx context.Context, a *model.Attendee) error
	GetByID(ctx context.Context, eventID, id uint64) (*model.Attendee, error)
	GetByCredentialID(ctx context.Context, eventID uint64, credentialID string) (*model.Attendee, error)
	GetByEmail(ctx context.Context, eventID uint64, email string) (*model.Attendee, error)
	// LockByID loads the attendee and holds a row lock until the
	// surrounding transaction ends.
	LockByID(ctx context.Context, eventID, id uint64) (*model.Attendee, error)
	// ExistingEmails returns the subset of emails already registered.
	ExistingEmails(ctx context.Context, eventID uint64, emails []string) (map[string]bool, error)
	// MarkCheckedIn flips the check-in flag.  Returns ErrConflict when
	// the attendee is already checked in.
	MarkCheckedIn(ctx context.Context, id uint64, at time.Time, location, staffID string) error
	// AddClaim appends a claim record.  Returns ErrDuplicate when the
	// resource type was already claimed by this attendee.
	AddClaim(ctx context.Context, c model.ClaimRecord) error
}

// ResourceStore persists per-event resource counters.
type ResourceStore interface {
	Create(ctx context.Context, r *model.Resource) error
	Get(ctx context.Context, eventID uint64, rt model.ResourceType) (*model.Resource, error)
	GetByID(ctx context.Context, eventID, id uint64) (*model.Resource, error)
	// Lock loads the resource and holds a row lock until the surrounding
	// transaction ends.
	Lock(ctx context.Context, eventID uint64, rt model.ResourceType) (*model.Resource, error)
	List(ctx context.Context, eventID uint64) ([]model.Resource, error)
	UpdateCapacity(ctx context.Context, id uint64, total, lowThreshold int) error
	// IncrementClaimed adds one to claimed if and only if claimed < total,
	// as a single guarded statement.  Returns the updated row, ErrDepleted
	// when no unit is left, or ErrNotFound when the resource is unknown.
	IncrementClaimed(ctx context.Context, eventID uint64, rt model.ResourceType, at time.Time) (*model.Resource, error)
	SetLowThreshold(ctx context.Context, eventID, id uint64, value int) (*model.Resource, error)
}

// DailyStore persists per-day activity records.
type DailyStore interface {
	Get(ctx context.Context, attendeeID uint64, day time.Time) (*model.DailyRecord, error)
	// Upsert creates the (attendee, day) record or replaces its content.
	Upsert(ctx context.Context, rec *model.DailyRecord) error
}

// ActivityStore persists the audit trail.
type ActivityStore interface {
	Append(ctx context.Context, a *model.Activity) error
	ListByAttendee(ctx context.Context, eventID, attendeeID uint64) ([]model.Activity, error)
}

// Stores groups the stores available inside or outside a transaction.
type Stores struct {
	Attendees AttendeeStore
	Resources ResourceStore
	Daily     DailyStore
	Activity  ActivityStore
}

// Store is the storage boundary used by the service layer.  RunInTx
// executes fn with stores bound to one transaction; when fn returns an
// error or the commit fails, nothing fn did is visible afterwards.
type Store interface {
	Stores() Stores
	RunInTx(ctx context.Context, fn func(s Stores) error) error
}

// querier is satisfied by both *sql.DB and *sql.Tx so the same
// repository code runs inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
