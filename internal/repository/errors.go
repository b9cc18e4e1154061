// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow the service layer to
// distinguish between different failure scenarios without inspecting
// driver errors. Both the MySQL repositories and the in-memory store
// return exactly these values.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique key, such as
// a second attendee with the same email for an event or a second claim of
// the same resource type.
var ErrDuplicate = errors.New("duplicate")

// ErrDepleted is returned by IncrementClaimed when claimed has already
// reached total. No row was modified.
var ErrDepleted = errors.New("depleted")

// ErrConflict is returned when an update cannot be applied because of the
// current state of the row, e.g. checking in an attendee who is already
// checked in or lowering capacity below the claimed count.
var ErrConflict = errors.New("conflict")

// mysqlDuplicateEntry is the server error number for ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL duplicate key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
