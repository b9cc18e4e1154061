package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/model"
	"github.com/iliyamo/event-credentials/internal/repository"
)

// Inventory owns the per-event resource counters.  Every increment goes
// through ResourceStore.IncrementClaimed, a single guarded update at the
// storage layer; no counter is ever held in process memory.
type Inventory struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewInventory returns an Inventory over store.
func NewInventory(store repository.Store, logger *slog.Logger) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{store: store, logger: logger, now: time.Now}
}

// ClaimOutcome is the result of a successful increment.
type ClaimOutcome struct {
	Resource     model.ResourceType
	Remaining    int
	Total        int
	LowThreshold int
	IsLow        bool
}

// ResourceStatus is the externally visible state of one resource.
type ResourceStatus struct {
	ID           uint64             `json:"id"`
	Type         model.ResourceType `json:"type"`
	Total        int                `json:"total"`
	Claimed      int                `json:"claimed"`
	Remaining    int                `json:"remaining"`
	LowThreshold int                `json:"low_threshold"`
	IsLow        bool               `json:"is_low"`
	Depleted     bool               `json:"depleted"`
}

func statusOf(r *model.Resource) ResourceStatus {
	return ResourceStatus{
		ID:           r.ID,
		Type:         r.Type,
		Total:        r.Total,
		Claimed:      r.Claimed,
		Remaining:    r.Remaining(),
		LowThreshold: r.LowThreshold,
		IsLow:        r.IsLow(),
		Depleted:     r.Depleted(),
	}
}

// TryClaim takes one unit of rt in its own transaction.
func (inv *Inventory) TryClaim(ctx context.Context, eventID uint64, rt model.ResourceType) (ClaimOutcome, error) {
	var out ClaimOutcome
	err := inv.store.RunInTx(ctx, func(s repository.Stores) error {
		var err error
		out, err = inv.TryClaimIn(ctx, s, eventID, rt)
		return err
	})
	if err != nil {
		return ClaimOutcome{}, persistenceError(inv.logger, "claim", err)
	}
	return out, nil
}

// TryClaimIn takes one unit of rt using the caller's transaction.  It
// returns a depleted error when claimed already equals total, and a
// not-found error when the event has no such resource.  Other errors are
// returned untouched for the caller's transaction to handle.
func (inv *Inventory) TryClaimIn(ctx context.Context, s repository.Stores, eventID uint64, rt model.ResourceType) (ClaimOutcome, error) {
	r, err := s.Resources.IncrementClaimed(ctx, eventID, rt, inv.now())
	switch {
	case errors.Is(err, repository.ErrDepleted):
		return ClaimOutcome{}, apperrors.Newf(apperrors.CodeDepleted, "%s is depleted", rt)
	case errors.Is(err, repository.ErrNotFound):
		return ClaimOutcome{}, apperrors.Newf(apperrors.CodeNotFound, "resource %s is not defined for this event", rt)
	case err != nil:
		return ClaimOutcome{}, err
	}
	return ClaimOutcome{
		Resource:     r.Type,
		Remaining:    r.Remaining(),
		Total:        r.Total,
		LowThreshold: r.LowThreshold,
		IsLow:        r.IsLow(),
	}, nil
}

// SetLowThreshold changes the low-stock threshold and returns the status
// evaluated against the new value.
func (inv *Inventory) SetLowThreshold(ctx context.Context, eventID, resourceID uint64, value int) (ResourceStatus, error) {
	if value < 0 {
		return ResourceStatus{}, apperrors.New(apperrors.CodeValidation, "low_threshold must be >= 0")
	}
	r, err := inv.store.Stores().Resources.SetLowThreshold(ctx, eventID, resourceID, value)
	if errors.Is(err, repository.ErrNotFound) {
		return ResourceStatus{}, apperrors.New(apperrors.CodeNotFound, "resource not found")
	}
	if err != nil {
		return ResourceStatus{}, persistenceError(inv.logger, "set low threshold", err)
	}
	return statusOf(r), nil
}

// Define creates rt for the event or updates its capacity.  Total may
// not drop below the number of units already claimed.
func (inv *Inventory) Define(ctx context.Context, eventID uint64, rt model.ResourceType, total, lowThreshold int) (ResourceStatus, error) {
	if total < 0 || lowThreshold < 0 {
		return ResourceStatus{}, apperrors.New(apperrors.CodeValidation, "total and low_threshold must be >= 0")
	}
	var out *model.Resource
	err := inv.store.RunInTx(ctx, func(s repository.Stores) error {
		cur, err := s.Resources.Lock(ctx, eventID, rt)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			out = &model.Resource{EventID: eventID, Type: rt, Total: total, LowThreshold: lowThreshold}
			if err := s.Resources.Create(ctx, out); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return apperrors.New(apperrors.CodeStateConflict, "resource was defined concurrently, retry")
				}
				return err
			}
			return nil
		case err != nil:
			return err
		}
		if err := s.Resources.UpdateCapacity(ctx, cur.ID, total, lowThreshold); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.Newf(apperrors.CodeStateConflict, "total %d is below the %d units already claimed", total, cur.Claimed)
			}
			return err
		}
		out, err = s.Resources.Get(ctx, eventID, rt)
		return err
	})
	if err != nil {
		return ResourceStatus{}, persistenceError(inv.logger, "define resource", err)
	}
	return statusOf(out), nil
}

// Status lists every resource of the event.
func (inv *Inventory) Status(ctx context.Context, eventID uint64) ([]ResourceStatus, error) {
	rs, err := inv.store.Stores().Resources.List(ctx, eventID)
	if err != nil {
		return nil, persistenceError(inv.logger, "list resources", err)
	}
	out := make([]ResourceStatus, len(rs))
	for i := range rs {
		out[i] = statusOf(&rs[i])
	}
	return out, nil
}
