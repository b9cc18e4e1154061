package model

import "time"

// Activity actions written to the audit trail.
const (
	ActionCheckIn  = "CHECK_IN"
	ActionClaim    = "CLAIM"
	ActionAdmitted = "ADMITTED"
)

// Assurance levels of an identity resolution.  Verified means a scanned
// token passed decryption, signature and expiry checks; Operator means
// the attendee was looked up from a manually entered identifier or email
// and trust rests with the staff member who typed it.
const (
	AssuranceVerified = "VERIFIED"
	AssuranceOperator = "OPERATOR"
)

// Activity mirrors the `activities` audit table.
type Activity struct {
	ID         string       `json:"id"`
	EventID    uint64       `json:"event_id"`
	AttendeeID uint64       `json:"attendee_id"`
	Action     string       `json:"action"`
	Resource   ResourceType `json:"resource,omitempty"`
	StaffID    string       `json:"staff_id,omitempty"`
	Location   string       `json:"location,omitempty"`
	Assurance  string       `json:"assurance,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
