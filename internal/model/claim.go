package model

import "time"

// ClaimRecord is one row of the append-only `attendee_claims` table.
// A unique key on (attendee_id, resource_type) makes every resource type
// claimable at most once per attendee.
type ClaimRecord struct {
	AttendeeID uint64       `json:"attendee_id"`
	EventID    uint64       `json:"event_id"`
	Resource   ResourceType `json:"resource"`
	ClaimedAt  time.Time    `json:"claimed_at"`
	Location   string       `json:"location,omitempty"`
	StaffID    string       `json:"staff_id,omitempty"`
}

// DailyRecord tracks per-day activity for multi-day events.  There is at
// most one record per (attendee, day); Day is truncated to midnight UTC.
type DailyRecord struct {
	AttendeeID  uint64         `json:"attendee_id"`
	Day         time.Time      `json:"day"`
	CheckedIn   bool           `json:"checked_in"`
	CheckedInAt *time.Time     `json:"checked_in_at,omitempty"`
	Claims      []ResourceType `json:"claims"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasClaim reports whether rt was claimed on this day.
func (d *DailyRecord) HasClaim(rt ResourceType) bool {
	for _, c := range d.Claims {
		if c == rt {
			return true
		}
	}
	return false
}

// DayOf truncates t to its UTC calendar date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
