package model

import (
	"regexp"
	"strings"
	"time"
)

// ResourceType tags a claimable resource.  The well-known types are
// listed below; events may define further lower-case tags.
type ResourceType string

const (
	ResourceLunch ResourceType = "lunch"
	ResourceKit   ResourceType = "kit"
	ResourceBadge ResourceType = "badge"
	ResourceSwag  ResourceType = "swag"
)

var resourceTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// ParseResourceType normalises s and reports whether it is a valid tag.
func ParseResourceType(s string) (ResourceType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !resourceTypePattern.MatchString(s) {
		return "", false
	}
	return ResourceType(s), true
}

// Resource mirrors the `resources` table.  The invariant
// 0 <= Claimed <= Total is enforced by the conditional increment in the
// repository layer and by a CHECK constraint in the schema.
//
// Fields:
//
//	ID           – primary key identifier.
//	EventID      – owning event.
//	Type         – resource tag, unique per event.
//	Total        – total capacity.
//	Claimed      – number of units handed out.
//	LowThreshold – remaining quantity at or below which claims carry a low-stock signal.
type Resource struct {
	ID           uint64       `json:"id"`
	EventID      uint64       `json:"event_id"`
	Type         ResourceType `json:"type"`
	Total        int          `json:"total"`
	Claimed      int          `json:"claimed"`
	LowThreshold int          `json:"low_threshold"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Remaining returns Total - Claimed, never below zero.
func (r Resource) Remaining() int {
	if r.Claimed >= r.Total {
		return 0
	}
	return r.Total - r.Claimed
}

// IsLow reports whether remaining stock is at or below the threshold.
func (r Resource) IsLow() bool { return r.Remaining() <= r.LowThreshold }

// Depleted reports whether every unit has been claimed.
func (r Resource) Depleted() bool { return r.Claimed >= r.Total }
