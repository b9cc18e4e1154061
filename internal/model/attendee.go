package model

import "time"

// Attendee represents a row in the `attendees` table together with the
// claim state loaded from `attendee_claims`.  Check-in and every claim
// are monotonic: once set they are never cleared by this service.
//
// Fields:
//
//	ID              – primary key identifier.
//	EventID         – event the attendee is registered for.
//	Name            – display name.
//	Email           – lower-cased email, unique per event.
//	Phone           – contact phone number.
//	Role            – attendee role (e.g. attendee, speaker, volunteer).
//	Company, Title  – optional metadata from the import.
//	Tags            – optional free-form labels.
//	Notes           – optional operator notes.
//	CredentialID    – four-part stored identifier (version:det:rand:sig).
//	CheckedIn       – whether the attendee has checked in.
//	CheckedInAt     – when the check-in happened (nil until checked in).
//	CheckInLocation – gate or desk where the check-in happened.
//	CheckedInBy     – staff identifier that performed the check-in.
//	Claims          – claimed resources keyed by type; absent means not claimed.
type Attendee struct {
	ID              uint64                      `json:"id"`
	EventID         uint64                      `json:"event_id"`
	Name            string                      `json:"name"`
	Email           string                      `json:"email"`
	Phone           string                      `json:"phone"`
	Role            string                      `json:"role"`
	Company         string                      `json:"company,omitempty"`
	Title           string                      `json:"title,omitempty"`
	Tags            []string                    `json:"tags,omitempty"`
	Notes           string                      `json:"notes,omitempty"`
	CredentialID    string                      `json:"credential_id"`
	CheckedIn       bool                        `json:"checked_in"`
	CheckedInAt     *time.Time                  `json:"checked_in_at,omitempty"`
	CheckInLocation string                      `json:"check_in_location,omitempty"`
	CheckedInBy     string                      `json:"checked_in_by,omitempty"`
	Claims          map[ResourceType]ClaimState `json:"claims"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// ClaimState is the per-resource claim state of an attendee.
type ClaimState struct {
	ClaimedAt time.Time `json:"claimed_at"`
	Location  string    `json:"location,omitempty"`
	ClaimedBy string    `json:"claimed_by,omitempty"`
}

// Claim returns the claim state for rt and whether it has been claimed.
func (a *Attendee) Claim(rt ResourceType) (ClaimState, bool) {
	if a.Claims == nil {
		return ClaimState{}, false
	}
	cs, ok := a.Claims[rt]
	return cs, ok
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing the claims map or time pointers.
func (a *Attendee) Clone() *Attendee {
	if a == nil {
		return nil
	}
	cp := *a
	if a.CheckedInAt != nil {
		t := *a.CheckedInAt
		cp.CheckedInAt = &t
	}
	if a.Tags != nil {
		cp.Tags = append([]string(nil), a.Tags...)
	}
	cp.Claims = make(map[ResourceType]ClaimState, len(a.Claims))
	for k, v := range a.Claims {
		cp.Claims[k] = v
	}
	return &cp
}
