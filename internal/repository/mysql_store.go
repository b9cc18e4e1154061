package repository

import (
	"context"
	"database/sql"
	"time"
)

// DefaultTxTimeout bounds a transaction when the caller's context has no
// deadline.
const DefaultTxTimeout = 5 * time.Second

// SQLStore implements Store on a MySQL pool.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLStore returns a Store backed by db.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db, timeout: DefaultTxTimeout} }

// DB exposes the underlying pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Stores returns repositories bound to the pool (autocommit).
func (s *SQLStore) Stores() Stores { return storesOn(s.db) }

func storesOn(q querier) Stores {
	return Stores{
		Attendees: NewAttendeeRepo(q),
		Resources: NewResourceRepo(q),
		Daily:     NewDailyRepo(q),
		Activity:  NewActivityRepo(q),
	}
}

// RunInTx begins a transaction, runs fn with repositories bound to it and
// commits when fn returns nil.  Any error rolls the transaction back.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(storesOn(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
