package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/credential"
	"github.com/iliyamo/event-credentials/internal/metrics"
	"github.com/iliyamo/event-credentials/internal/model"
	"github.com/iliyamo/event-credentials/internal/queue"
	"github.com/iliyamo/event-credentials/internal/repository"
)

// Ledger runs the check-in and claim state transitions.  Both axes are
// monotonic: check-in goes NOT_CHECKED_IN -> CHECKED_IN once, and each
// resource type goes NOT_CLAIMED -> CLAIMED once per attendee.  Replays
// return the original outcome flagged as a duplicate.
//
// Every transition runs in one store transaction that first takes a row
// lock on the attendee, so concurrent requests for the same attendee
// serialise and the loser observes the winner's committed state.
// Notifications are sent only after commit and never affect the result.
type Ledger struct {
	store     repository.Store
	verifier  *credential.Verifier
	inventory *Inventory
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewLedger returns a Ledger; a nil notifier drops notifications.
func NewLedger(store repository.Store, verifier *credential.Verifier, inventory *Inventory,
	notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:     store,
		verifier:  verifier,
		inventory: inventory,
		notifier:  notifier,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Resolution is an attendee resolved from a presentation together with
// the assurance level of that resolution.
type Resolution struct {
	Attendee  *model.Attendee `json:"attendee"`
	Assurance string          `json:"assurance"`
}

// CheckInRequest describes a check-in.  Day, when set, enables per-day
// tracking for multi-day events.
type CheckInRequest struct {
	EventID      uint64
	Presentation credential.Presentation
	StaffID      string
	Location     string
	Day          *time.Time
}

// ClaimRequest describes a resource claim.
type ClaimRequest struct {
	EventID      uint64
	Resource     model.ResourceType
	Presentation credential.Presentation
	StaffID      string
	Location     string
	Day          *time.Time
}

// CheckInResult is returned for both first and replayed check-ins.  For a
// duplicate, CheckedInAt and Location are the original values.
type CheckInResult struct {
	Attendee    *model.Attendee    `json:"attendee"`
	Duplicate   bool               `json:"duplicate"`
	CheckedInAt time.Time          `json:"checked_in_at"`
	Location    string             `json:"location,omitempty"`
	Assurance   string             `json:"assurance"`
	Daily       *model.DailyRecord `json:"daily,omitempty"`
}

// ClaimResult is returned for both first and replayed claims.  For a
// duplicate, ClaimedAt and Location are the original values and the
// counters reflect the current inventory.
type ClaimResult struct {
	Attendee     *model.Attendee    `json:"attendee"`
	Resource     model.ResourceType `json:"resource"`
	Duplicate    bool               `json:"duplicate"`
	ClaimedAt    time.Time          `json:"claimed_at"`
	Location     string             `json:"location,omitempty"`
	Remaining    int                `json:"remaining"`
	Total        int                `json:"total"`
	LowThreshold int                `json:"low_threshold"`
	IsLow        bool               `json:"is_low"`
	Assurance    string             `json:"assurance"`
	Daily        *model.DailyRecord `json:"daily,omitempty"`
}

var errNotCheckedIn = apperrors.New(apperrors.CodeStateConflict, "prerequisite not met: attendee is not checked in")

// Resolve maps a presentation to an attendee.  A scanned token must pass
// full verification; a manual entry is looked up by stored identifier or
// email and resolves with operator assurance only.
func (l *Ledger) Resolve(ctx context.Context, eventID uint64, p credential.Presentation) (Resolution, error) {
	if eventID == 0 {
		return Resolution{}, apperrors.New(apperrors.CodeValidation, "event id required")
	}
	s := l.store.Stores()
	var (
		a         *model.Attendee
		assurance string
		err       error
	)
	switch v := p.(type) {
	case credential.Scanned:
		if v.Token == "" {
			return Resolution{}, apperrors.New(apperrors.CodeValidation, "token required")
		}
		claims, verr := l.verifier.Verify(v.Token)
		if verr != nil {
			return Resolution{}, verr
		}
		a, err = s.Attendees.GetByCredentialID(ctx, eventID, claims.ID)
		assurance = model.AssuranceVerified
	case credential.Manual:
		id := v.Normalized()
		if id == "" {
			return Resolution{}, apperrors.New(apperrors.CodeValidation, "identifier required")
		}
		if v.IsEmail() {
			a, err = s.Attendees.GetByEmail(ctx, eventID, id)
		} else {
			a, err = s.Attendees.GetByCredentialID(ctx, eventID, id)
		}
		assurance = model.AssuranceOperator
	case nil:
		return Resolution{}, apperrors.New(apperrors.CodeValidation, "token or identifier required")
	default:
		return Resolution{}, apperrors.New(apperrors.CodeValidation, "unsupported presentation")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return Resolution{}, apperrors.New(apperrors.CodeNotFound, "attendee not found")
	}
	if err != nil {
		return Resolution{}, persistenceError(l.logger, "resolve attendee", err)
	}
	return Resolution{Attendee: a, Assurance: assurance}, nil
}

// lockAttendee re-reads the resolved attendee under a row lock.
func lockAttendee(ctx context.Context, s repository.Stores, eventID, id uint64) (*model.Attendee, error) {
	a, err := s.Attendees.LockByID(ctx, eventID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "attendee not found")
	}
	return a, err
}

// CheckIn checks the attendee in, or reports the original check-in when
// it already happened.
func (l *Ledger) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	res, err := l.Resolve(ctx, req.EventID, req.Presentation)
	if err != nil {
		l.metrics.CheckIn(metrics.OutcomeRejected)
		return nil, err
	}

	start := time.Now()
	var out *CheckInResult
	err = l.store.RunInTx(ctx, func(s repository.Stores) error {
		a, err := lockAttendee(ctx, s, req.EventID, res.Attendee.ID)
		if err != nil {
			return err
		}
		now := l.now().UTC()

		if a.CheckedIn {
			out = &CheckInResult{
				Attendee:  a,
				Duplicate: true,
				Location:  a.CheckInLocation,
				Assurance: res.Assurance,
			}
			if a.CheckedInAt != nil {
				out.CheckedInAt = *a.CheckedInAt
			}
			if req.Day != nil {
				out.Daily, err = recordDay(ctx, s, a.ID, *req.Day, now, func(rec *model.DailyRecord) {
					if !rec.CheckedIn {
						rec.CheckedIn = true
						rec.CheckedInAt = &now
					}
				})
			}
			return err
		}

		if err := s.Attendees.MarkCheckedIn(ctx, a.ID, now, req.Location, req.StaffID); err != nil {
			return err
		}
		a.CheckedIn = true
		a.CheckedInAt = &now
		a.CheckInLocation = req.Location
		a.CheckedInBy = req.StaffID
		a.UpdatedAt = now

		out = &CheckInResult{Attendee: a, CheckedInAt: now, Location: req.Location, Assurance: res.Assurance}
		if req.Day != nil {
			out.Daily, err = recordDay(ctx, s, a.ID, *req.Day, now, func(rec *model.DailyRecord) {
				rec.CheckedIn = true
				rec.CheckedInAt = &now
			})
			if err != nil {
				return err
			}
		}
		return s.Activity.Append(ctx, &model.Activity{
			EventID:    req.EventID,
			AttendeeID: a.ID,
			Action:     model.ActionCheckIn,
			StaffID:    req.StaffID,
			Location:   req.Location,
			Assurance:  res.Assurance,
			CreatedAt:  now,
		})
	})
	l.metrics.ObserveTx("checkin", time.Since(start).Seconds())
	if err != nil {
		l.metrics.CheckIn(outcomeOf(err))
		return nil, persistenceError(l.logger, "check-in", err)
	}
	if out.Duplicate {
		l.metrics.CheckIn(metrics.OutcomeDuplicate)
		return out, nil
	}

	l.metrics.CheckIn(metrics.OutcomeOK)
	l.logger.Info("attendee checked in", "event_id", req.EventID, "attendee_id", out.Attendee.ID,
		"location", req.Location, "staff_id", req.StaffID, "assurance", res.Assurance)
	l.notifier.Notify(queue.CheckedInEvent{
		EventID:     req.EventID,
		AttendeeID:  out.Attendee.ID,
		Name:        out.Attendee.Name,
		Email:       out.Attendee.Email,
		Location:    req.Location,
		StaffID:     req.StaffID,
		Assurance:   res.Assurance,
		CheckedInAt: out.CheckedInAt,
	})
	return out, nil
}

// Claim hands one unit of a resource to a checked-in attendee.  The
// inventory increment, the attendee's claim record, the day record and
// the audit entry commit together or not at all.
func (l *Ledger) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	rt, ok := model.ParseResourceType(string(req.Resource))
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeValidation, "invalid resource type %q", req.Resource)
	}
	res, err := l.Resolve(ctx, req.EventID, req.Presentation)
	if err != nil {
		l.metrics.Claim(string(rt), metrics.OutcomeRejected, false)
		return nil, err
	}

	start := time.Now()
	var out *ClaimResult
	err = l.store.RunInTx(ctx, func(s repository.Stores) error {
		a, err := lockAttendee(ctx, s, req.EventID, res.Attendee.ID)
		if err != nil {
			return err
		}
		if !a.CheckedIn {
			return errNotCheckedIn
		}
		now := l.now().UTC()

		if cs, claimed := a.Claim(rt); claimed {
			out = &ClaimResult{
				Attendee:  a,
				Resource:  rt,
				Duplicate: true,
				ClaimedAt: cs.ClaimedAt,
				Location:  cs.Location,
				Assurance: res.Assurance,
			}
			if r, err := s.Resources.Get(ctx, req.EventID, rt); err == nil {
				out.Remaining, out.Total, out.LowThreshold, out.IsLow = r.Remaining(), r.Total, r.LowThreshold, r.IsLow()
			} else if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if req.Day != nil {
				out.Daily, err = recordDay(ctx, s, a.ID, *req.Day, now, func(rec *model.DailyRecord) {
					if !rec.HasClaim(rt) {
						rec.Claims = append(rec.Claims, rt)
					}
				})
			}
			return err
		}

		outcome, err := l.inventory.TryClaimIn(ctx, s, req.EventID, rt)
		if err != nil {
			return err
		}
		if err := s.Attendees.AddClaim(ctx, model.ClaimRecord{
			AttendeeID: a.ID,
			EventID:    req.EventID,
			Resource:   rt,
			ClaimedAt:  now,
			Location:   req.Location,
			StaffID:    req.StaffID,
		}); err != nil {
			return err
		}
		a.Claims[rt] = model.ClaimState{ClaimedAt: now, Location: req.Location, ClaimedBy: req.StaffID}
		a.UpdatedAt = now

		out = &ClaimResult{
			Attendee:     a,
			Resource:     rt,
			ClaimedAt:    now,
			Location:     req.Location,
			Remaining:    outcome.Remaining,
			Total:        outcome.Total,
			LowThreshold: outcome.LowThreshold,
			IsLow:        outcome.IsLow,
			Assurance:    res.Assurance,
		}
		if req.Day != nil {
			out.Daily, err = recordDay(ctx, s, a.ID, *req.Day, now, func(rec *model.DailyRecord) {
				if !rec.HasClaim(rt) {
					rec.Claims = append(rec.Claims, rt)
				}
			})
			if err != nil {
				return err
			}
		}
		return s.Activity.Append(ctx, &model.Activity{
			EventID:    req.EventID,
			AttendeeID: a.ID,
			Action:     model.ActionClaim,
			Resource:   rt,
			StaffID:    req.StaffID,
			Location:   req.Location,
			Assurance:  res.Assurance,
			CreatedAt:  now,
		})
	})
	l.metrics.ObserveTx("claim", time.Since(start).Seconds())
	if err != nil {
		l.metrics.Claim(string(rt), outcomeOf(err), false)
		return nil, persistenceError(l.logger, "claim", err)
	}
	if out.Duplicate {
		l.metrics.Claim(string(rt), metrics.OutcomeDuplicate, false)
		return out, nil
	}

	l.metrics.Claim(string(rt), metrics.OutcomeOK, out.IsLow)
	l.logger.Info("resource claimed", "event_id", req.EventID, "attendee_id", out.Attendee.ID,
		"resource", rt, "remaining", out.Remaining, "total", out.Total)
	l.notifier.Notify(queue.ResourceClaimedEvent{
		EventID:    req.EventID,
		AttendeeID: out.Attendee.ID,
		Resource:   string(rt),
		Location:   req.Location,
		StaffID:    req.StaffID,
		Remaining:  out.Remaining,
		Total:      out.Total,
		ClaimedAt:  out.ClaimedAt,
	})
	if out.IsLow {
		l.logger.Warn("resource low", "event_id", req.EventID, "resource", rt, "remaining", out.Remaining)
		l.notifier.Notify(queue.LowStockEvent{
			EventID:      req.EventID,
			Resource:     string(rt),
			Remaining:    out.Remaining,
			Total:        out.Total,
			LowThreshold: out.LowThreshold,
			At:           out.ClaimedAt,
		})
	}
	return out, nil
}

// Attendee returns a read-only snapshot.
func (l *Ledger) Attendee(ctx context.Context, eventID, attendeeID uint64) (*model.Attendee, error) {
	a, err := l.store.Stores().Attendees.GetByID(ctx, eventID, attendeeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "attendee not found")
	}
	if err != nil {
		return nil, persistenceError(l.logger, "load attendee", err)
	}
	return a, nil
}

// History returns the attendee's audit trail, oldest first.
func (l *Ledger) History(ctx context.Context, eventID, attendeeID uint64) ([]model.Activity, error) {
	if _, err := l.Attendee(ctx, eventID, attendeeID); err != nil {
		return nil, err
	}
	acts, err := l.store.Stores().Activity.ListByAttendee(ctx, eventID, attendeeID)
	if err != nil {
		return nil, persistenceError(l.logger, "load history", err)
	}
	return acts, nil
}

// recordDay loads or creates the (attendee, day) record, applies mutate
// and writes it back.
func recordDay(ctx context.Context, s repository.Stores, attendeeID uint64, day, now time.Time,
	mutate func(*model.DailyRecord)) (*model.DailyRecord, error) {
	rec, err := s.Daily.Get(ctx, attendeeID, day)
	if errors.Is(err, repository.ErrNotFound) {
		rec = &model.DailyRecord{AttendeeID: attendeeID, Day: model.DayOf(day), Claims: []model.ResourceType{}}
	} else if err != nil {
		return nil, err
	}
	mutate(rec)
	rec.UpdatedAt = now
	if err := s.Daily.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func outcomeOf(err error) string {
	switch apperrors.CodeOf(err) {
	case "", apperrors.CodePersistence:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}
