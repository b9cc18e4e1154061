// Package queue defines the notification payloads published after ledger
// and import operations commit, the RabbitMQ publisher that carries them
// and the background consumer that writes them to the activity log.
package queue

import "time"

// Queue names.  Each message type is routed to its own durable queue on
// the default exchange.
const (
	QueueCheckedIn        = "attendee.checked_in"
	QueueResourceClaimed  = "resource.claimed"
	QueueLowStock         = "resource.low_stock"
	QueueCredentialIssued = "credential.issued"
)

// Queues lists every queue the consumer listens on.
var Queues = []string{QueueCheckedIn, QueueResourceClaimed, QueueLowStock, QueueCredentialIssued}

// Message is implemented by every payload.  RoutingKey names the queue.
type Message interface {
	RoutingKey() string
}

// CheckedInEvent is published when an attendee checks in for the first
// time.  Duplicate check-ins publish nothing.
type CheckedInEvent struct {
	EventID     uint64    `json:"event_id"`
	AttendeeID  uint64    `json:"attendee_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Location    string    `json:"location,omitempty"`
	StaffID     string    `json:"staff_id,omitempty"`
	Assurance   string    `json:"assurance"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

func (CheckedInEvent) RoutingKey() string { return QueueCheckedIn }

// ResourceClaimedEvent is published for every successful claim.
type ResourceClaimedEvent struct {
	EventID    uint64    `json:"event_id"`
	AttendeeID uint64    `json:"attendee_id"`
	Resource   string    `json:"resource"`
	Location   string    `json:"location,omitempty"`
	StaffID    string    `json:"staff_id,omitempty"`
	Remaining  int       `json:"remaining"`
	Total      int       `json:"total"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

func (ResourceClaimedEvent) RoutingKey() string { return QueueResourceClaimed }

// LowStockEvent is published when a claim leaves the remaining quantity
// at or below the resource's low threshold.
type LowStockEvent struct {
	EventID      uint64    `json:"event_id"`
	Resource     string    `json:"resource"`
	Remaining    int       `json:"remaining"`
	Total        int       `json:"total"`
	LowThreshold int       `json:"low_threshold"`
	At           time.Time `json:"at"`
}

func (LowStockEvent) RoutingKey() string { return QueueLowStock }

// CredentialIssuedEvent asks the delivery side to send an attendee their
// token.  Token is the encrypted QR payload, never the stored identifier.
type CredentialIssuedEvent struct {
	EventID    uint64    `json:"event_id"`
	AttendeeID uint64    `json:"attendee_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (CredentialIssuedEvent) RoutingKey() string { return QueueCredentialIssued }
