package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/event-credentials/internal/model"
)

// ResourceRepo provides data access to the resources table.  The claimed
// counter is only ever changed by IncrementClaimed, which guards the
// increment in the UPDATE itself rather than in application code.
type ResourceRepo struct {
	q querier
}

// NewResourceRepo returns a ResourceRepo bound to the given pool or transaction.
func NewResourceRepo(q querier) *ResourceRepo { return &ResourceRepo{q: q} }

const resourceColumns = `id, event_id, type, total, claimed, low_threshold, created_at, updated_at`

// Create inserts a resource row with claimed = 0 and populates its ID.
func (r *ResourceRepo) Create(ctx context.Context, res *model.Resource) error {
	const q = `INSERT INTO resources (event_id, type, total, low_threshold) VALUES (?, ?, ?, ?)`
	result, err := r.q.ExecContext(ctx, q, res.EventID, string(res.Type), res.Total, res.LowThreshold)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.Claimed = 0
	now := time.Now().UTC()
	res.CreatedAt, res.UpdatedAt = now, now
	return nil
}

// Get loads a resource by event and type.
func (r *ResourceRepo) Get(ctx context.Context, eventID uint64, rt model.ResourceType) (*model.Resource, error) {
	return r.getOne(ctx, `SELECT `+resourceColumns+` FROM resources WHERE event_id = ? AND type = ?`, eventID, string(rt))
}

// GetByID loads a resource by primary key, scoped to the event.
func (r *ResourceRepo) GetByID(ctx context.Context, eventID, id uint64) (*model.Resource, error) {
	return r.getOne(ctx, `SELECT `+resourceColumns+` FROM resources WHERE event_id = ? AND id = ?`, eventID, id)
}

// Lock loads a resource with SELECT ... FOR UPDATE.
func (r *ResourceRepo) Lock(ctx context.Context, eventID uint64, rt model.ResourceType) (*model.Resource, error) {
	return r.getOne(ctx, `SELECT `+resourceColumns+` FROM resources WHERE event_id = ? AND type = ? FOR UPDATE`, eventID, string(rt))
}

func (r *ResourceRepo) getOne(ctx context.Context, query string, args ...any) (*model.Resource, error) {
	var res model.Resource
	var rt string
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&res.ID, &res.EventID, &rt, &res.Total, &res.Claimed, &res.LowThreshold, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	res.Type = model.ResourceType(rt)
	return &res, nil
}

// List returns all resources of an event ordered by type.
func (r *ResourceRepo) List(ctx context.Context, eventID uint64) ([]model.Resource, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE event_id = ? ORDER BY type`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Resource, 0)
	for rows.Next() {
		var res model.Resource
		var rt string
		if err := rows.Scan(&res.ID, &res.EventID, &rt, &res.Total, &res.Claimed, &res.LowThreshold, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		res.Type = model.ResourceType(rt)
		out = append(out, res)
	}
	return out, rows.Err()
}

// UpdateCapacity sets total and low_threshold.  The WHERE clause refuses
// a total below the current claimed count and returns ErrConflict.
func (r *ResourceRepo) UpdateCapacity(ctx context.Context, id uint64, total, lowThreshold int) error {
	const q = `UPDATE resources SET total = ?, low_threshold = ? WHERE id = ? AND claimed <= ?`
	res, err := r.q.ExecContext(ctx, q, total, lowThreshold, id, total)
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

// IncrementClaimed is the only write path for the claimed counter.  The
// guard `claimed < total` is evaluated by InnoDB against the latest
// committed row under its row lock, so concurrent callers racing for the
// last unit cannot both succeed.
func (r *ResourceRepo) IncrementClaimed(ctx context.Context, eventID uint64, rt model.ResourceType, at time.Time) (*model.Resource, error) {
	const q = `UPDATE resources SET claimed = claimed + 1, updated_at = ?
               WHERE event_id = ? AND type = ? AND claimed < total`
	res, err := r.q.ExecContext(ctx, q, at.UTC(), eventID, string(rt))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Either the resource does not exist or it is depleted.
		if _, err := r.Get(ctx, eventID, rt); err != nil {
			return nil, err
		}
		return nil, ErrDepleted
	}
	return r.Get(ctx, eventID, rt)
}

// SetLowThreshold updates the low-stock threshold and returns the row.
func (r *ResourceRepo) SetLowThreshold(ctx context.Context, eventID, id uint64, value int) (*model.Resource, error) {
	const q = `UPDATE resources SET low_threshold = ? WHERE event_id = ? AND id = ?`
	res, err := r.q.ExecContext(ctx, q, value, eventID, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, eventID, id)
}
