package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-credentials/internal/credential"
	"github.com/iliyamo/event-credentials/internal/metrics"
	"github.com/iliyamo/event-credentials/internal/model"
	"github.com/iliyamo/event-credentials/internal/queue"
	"github.com/iliyamo/event-credentials/internal/repository"
)

const testEvent uint64 = 42

// recorder captures notifications and deliveries.
type recorder struct {
	mu       sync.Mutex
	msgs     []queue.Message
	failWith error
}

func (r *recorder) Notify(msg queue.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) Publish(_ context.Context, msg queue.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) byKey(key string) []queue.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []queue.Message
	for _, m := range r.msgs {
		if m.RoutingKey() == key {
			out = append(out, m)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	store     *repository.MemoryStore
	issuer    *credential.Issuer
	verifier  *credential.Verifier
	inventory *Inventory
	ledger    *Ledger
	importer  *Importer
	notes     *recorder
	clock     *clock
	metrics   *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	issuer, verifier, err := credential.New(credential.Config{
		Secret:        []byte("service-test-secret-0123456789"),
		KDFIterations: 1000,
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	notes := &recorder{}
	clk := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}

	inv := NewInventory(store, logger)
	inv.now = clk.Now
	ledger := NewLedger(store, verifier, inv, notes, logger, m)
	ledger.now = clk.Now
	importer := NewImporter(store, issuer, notes, logger, m, 10, 0)
	importer.now = clk.Now

	return &env{
		store:     store,
		issuer:    issuer,
		verifier:  verifier,
		inventory: inv,
		ledger:    ledger,
		importer:  importer,
		notes:     notes,
		clock:     clk,
		metrics:   m,
	}
}

// admit registers an attendee and returns it with a scannable token.
func (e *env) admit(t *testing.T, email string) (*model.Attendee, string) {
	t.Helper()
	ad, err := e.importer.Admit(context.Background(), testEvent, ImportRow{
		Name: "Attendee " + email, Email: email, Phone: "555-0100", Role: "attendee",
	}, false)
	require.NoError(t, err)
	return ad.Attendee, ad.Token.Value
}

func (e *env) define(t *testing.T, rt model.ResourceType, total, low int) {
	t.Helper()
	_, err := e.inventory.Define(context.Background(), testEvent, rt, total, low)
	require.NoError(t, err)
}

func (e *env) checkIn(t *testing.T, token string) *CheckInResult {
	t.Helper()
	res, err := e.ledger.CheckIn(context.Background(), CheckInRequest{
		EventID: testEvent, Presentation: credential.Scanned{Token: token}, StaffID: "staff-1", Location: "gate-a",
	})
	require.NoError(t, err)
	return res
}

func (e *env) claim(token string, rt model.ResourceType) (*ClaimResult, error) {
	return e.ledger.Claim(context.Background(), ClaimRequest{
		EventID: testEvent, Resource: rt, Presentation: credential.Scanned{Token: token}, StaffID: "staff-2", Location: "hall-b",
	})
}

var errBroker = errors.New("broker unavailable")

// lookupStore records every ExistingEmails call made through Stores.
type lookupStore struct {
	*repository.MemoryStore
	lookups [][]string
}

func (l *lookupStore) Stores() repository.Stores {
	s := l.MemoryStore.Stores()
	s.Attendees = lookupAttendees{AttendeeStore: s.Attendees, owner: l}
	return s
}

type lookupAttendees struct {
	repository.AttendeeStore
	owner *lookupStore
}

func (a lookupAttendees) ExistingEmails(ctx context.Context, eventID uint64, emails []string) (map[string]bool, error) {
	a.owner.lookups = append(a.owner.lookups, emails)
	return a.AttendeeStore.ExistingEmails(ctx, eventID, emails)
}
