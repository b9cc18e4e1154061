package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-credentials/internal/model"
)

// MemoryStore is an in-process Store for tests and single-instance dev
// runs.  A single mutex stands in for transaction isolation and each
// transaction works on live state with a snapshot taken up front that is
// restored on error.  It gives no guarantees across processes.
type MemoryStore struct {
	mu         sync.Mutex
	st         *memState
	failCommit error
}

type dailyKey struct {
	attendeeID uint64
	day        int64
}

type memState struct {
	nextAttendee uint64
	nextResource uint64
	attendees    map[uint64]*model.Attendee
	resources    map[uint64]*model.Resource
	daily        map[dailyKey]*model.DailyRecord
	activities   []model.Activity
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{
		attendees: map[uint64]*model.Attendee{},
		resources: map[uint64]*model.Resource{},
		daily:     map[dailyKey]*model.DailyRecord{},
	}}
}

func (s *memState) clone() *memState {
	cp := &memState{
		nextAttendee: s.nextAttendee,
		nextResource: s.nextResource,
		attendees:    make(map[uint64]*model.Attendee, len(s.attendees)),
		resources:    make(map[uint64]*model.Resource, len(s.resources)),
		daily:        make(map[dailyKey]*model.DailyRecord, len(s.daily)),
		activities:   append([]model.Activity(nil), s.activities...),
	}
	for k, v := range s.attendees {
		cp.attendees[k] = v.Clone()
	}
	for k, v := range s.resources {
		r := *v
		cp.resources[k] = &r
	}
	for k, v := range s.daily {
		cp.daily[k] = cloneDaily(v)
	}
	return cp
}

func cloneDaily(d *model.DailyRecord) *model.DailyRecord {
	cp := *d
	if d.CheckedInAt != nil {
		t := *d.CheckedInAt
		cp.CheckedInAt = &t
	}
	cp.Claims = append([]model.ResourceType{}, d.Claims...)
	return &cp
}

// FailNextCommit makes the next RunInTx roll back with err after fn
// succeeds, emulating a commit failure.
func (m *MemoryStore) FailNextCommit(err error) {
	m.mu.Lock()
	m.failCommit = err
	m.mu.Unlock()
}

// Stores returns views that lock per call.
func (m *MemoryStore) Stores() Stores { return m.bind(false) }

// RunInTx runs fn while holding the store lock and restores the snapshot
// when fn or the emulated commit fails.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	err := fn(m.bind(true))
	if err == nil && m.failCommit != nil {
		err, m.failCommit = m.failCommit, nil
	}
	if err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

type memView struct {
	m    *MemoryStore
	inTx bool
}

func (v *memView) do(fn func(st *memState) error) error {
	if !v.inTx {
		v.m.mu.Lock()
		defer v.m.mu.Unlock()
	}
	return fn(v.m.st)
}

func (m *MemoryStore) bind(inTx bool) Stores {
	v := &memView{m: m, inTx: inTx}
	return Stores{
		Attendees: memAttendees{v},
		Resources: memResources{v},
		Daily:     memDaily{v},
		Activity:  memActivity{v},
	}
}

type memAttendees struct{ v *memView }

func (s memAttendees) Create(_ context.Context, a *model.Attendee) error {
	return s.v.do(func(st *memState) error {
		a.Email = strings.ToLower(strings.TrimSpace(a.Email))
		for _, o := range st.attendees {
			if (o.EventID == a.EventID && o.Email == a.Email) || o.CredentialID == a.CredentialID {
				return ErrDuplicate
			}
		}
		st.nextAttendee++
		a.ID = st.nextAttendee
		now := time.Now().UTC()
		a.CreatedAt, a.UpdatedAt = now, now
		if a.Claims == nil {
			a.Claims = map[model.ResourceType]model.ClaimState{}
		}
		st.attendees[a.ID] = a.Clone()
		return nil
	})
}

func (s memAttendees) find(eventID uint64, match func(*model.Attendee) bool) (*model.Attendee, error) {
	var out *model.Attendee
	err := s.v.do(func(st *memState) error {
		for _, a := range st.attendees {
			if a.EventID == eventID && match(a) {
				out = a.Clone()
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s memAttendees) GetByID(_ context.Context, eventID, id uint64) (*model.Attendee, error) {
	return s.find(eventID, func(a *model.Attendee) bool { return a.ID == id })
}

func (s memAttendees) GetByCredentialID(_ context.Context, eventID uint64, credentialID string) (*model.Attendee, error) {
	return s.find(eventID, func(a *model.Attendee) bool { return a.CredentialID == credentialID })
}

func (s memAttendees) GetByEmail(_ context.Context, eventID uint64, email string) (*model.Attendee, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.find(eventID, func(a *model.Attendee) bool { return a.Email == email })
}

func (s memAttendees) LockByID(ctx context.Context, eventID, id uint64) (*model.Attendee, error) {
	return s.GetByID(ctx, eventID, id)
}

func (s memAttendees) ExistingEmails(_ context.Context, eventID uint64, emails []string) (map[string]bool, error) {
	found := map[string]bool{}
	err := s.v.do(func(st *memState) error {
		want := make(map[string]bool, len(emails))
		for _, e := range emails {
			want[e] = true
		}
		for _, a := range st.attendees {
			if a.EventID == eventID && want[a.Email] {
				found[a.Email] = true
			}
		}
		return nil
	})
	return found, err
}

func (s memAttendees) MarkCheckedIn(_ context.Context, id uint64, at time.Time, location, staffID string) error {
	return s.v.do(func(st *memState) error {
		a, ok := st.attendees[id]
		if !ok {
			return ErrNotFound
		}
		if a.CheckedIn {
			return ErrConflict
		}
		t := at.UTC()
		a.CheckedIn = true
		a.CheckedInAt = &t
		a.CheckInLocation = location
		a.CheckedInBy = staffID
		a.UpdatedAt = t
		return nil
	})
}

func (s memAttendees) AddClaim(_ context.Context, c model.ClaimRecord) error {
	return s.v.do(func(st *memState) error {
		a, ok := st.attendees[c.AttendeeID]
		if !ok {
			return ErrNotFound
		}
		if _, dup := a.Claims[c.Resource]; dup {
			return ErrDuplicate
		}
		a.Claims[c.Resource] = model.ClaimState{ClaimedAt: c.ClaimedAt.UTC(), Location: c.Location, ClaimedBy: c.StaffID}
		a.UpdatedAt = c.ClaimedAt.UTC()
		return nil
	})
}

type memResources struct{ v *memView }

func (s memResources) Create(_ context.Context, r *model.Resource) error {
	return s.v.do(func(st *memState) error {
		for _, o := range st.resources {
			if o.EventID == r.EventID && o.Type == r.Type {
				return ErrDuplicate
			}
		}
		st.nextResource++
		r.ID = st.nextResource
		r.Claimed = 0
		now := time.Now().UTC()
		r.CreatedAt, r.UpdatedAt = now, now
		cp := *r
		st.resources[r.ID] = &cp
		return nil
	})
}

func (s memResources) find(match func(*model.Resource) bool) (*model.Resource, error) {
	var out *model.Resource
	err := s.v.do(func(st *memState) error {
		for _, r := range st.resources {
			if match(r) {
				cp := *r
				out = &cp
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s memResources) Get(_ context.Context, eventID uint64, rt model.ResourceType) (*model.Resource, error) {
	return s.find(func(r *model.Resource) bool { return r.EventID == eventID && r.Type == rt })
}

func (s memResources) GetByID(_ context.Context, eventID, id uint64) (*model.Resource, error) {
	return s.find(func(r *model.Resource) bool { return r.EventID == eventID && r.ID == id })
}

func (s memResources) Lock(ctx context.Context, eventID uint64, rt model.ResourceType) (*model.Resource, error) {
	return s.Get(ctx, eventID, rt)
}

func (s memResources) List(_ context.Context, eventID uint64) ([]model.Resource, error) {
	out := make([]model.Resource, 0)
	err := s.v.do(func(st *memState) error {
		for _, r := range st.resources {
			if r.EventID == eventID {
				out = append(out, *r)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, err
}

func (s memResources) UpdateCapacity(_ context.Context, id uint64, total, lowThreshold int) error {
	return s.v.do(func(st *memState) error {
		r, ok := st.resources[id]
		if !ok || r.Claimed > total {
			return ErrConflict
		}
		r.Total = total
		r.LowThreshold = lowThreshold
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s memResources) IncrementClaimed(_ context.Context, eventID uint64, rt model.ResourceType, at time.Time) (*model.Resource, error) {
	var out *model.Resource
	err := s.v.do(func(st *memState) error {
		for _, r := range st.resources {
			if r.EventID != eventID || r.Type != rt {
				continue
			}
			if r.Claimed >= r.Total {
				return ErrDepleted
			}
			r.Claimed++
			r.UpdatedAt = at.UTC()
			cp := *r
			out = &cp
			return nil
		}
		return ErrNotFound
	})
	return out, err
}

func (s memResources) SetLowThreshold(_ context.Context, eventID, id uint64, value int) (*model.Resource, error) {
	var out *model.Resource
	err := s.v.do(func(st *memState) error {
		r, ok := st.resources[id]
		if !ok || r.EventID != eventID {
			return ErrNotFound
		}
		r.LowThreshold = value
		r.UpdatedAt = time.Now().UTC()
		cp := *r
		out = &cp
		return nil
	})
	return out, err
}

type memDaily struct{ v *memView }

func (s memDaily) Get(_ context.Context, attendeeID uint64, day time.Time) (*model.DailyRecord, error) {
	var out *model.DailyRecord
	err := s.v.do(func(st *memState) error {
		rec, ok := st.daily[dailyKey{attendeeID, model.DayOf(day).Unix()}]
		if !ok {
			return ErrNotFound
		}
		out = cloneDaily(rec)
		return nil
	})
	return out, err
}

func (s memDaily) Upsert(_ context.Context, rec *model.DailyRecord) error {
	return s.v.do(func(st *memState) error {
		cp := cloneDaily(rec)
		cp.Day = model.DayOf(rec.Day)
		st.daily[dailyKey{rec.AttendeeID, cp.Day.Unix()}] = cp
		return nil
	})
}

type memActivity struct{ v *memView }

func (s memActivity) Append(_ context.Context, a *model.Activity) error {
	return s.v.do(func(st *memState) error {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		st.activities = append(st.activities, *a)
		return nil
	})
}

func (s memActivity) ListByAttendee(_ context.Context, eventID, attendeeID uint64) ([]model.Activity, error) {
	out := make([]model.Activity, 0)
	err := s.v.do(func(st *memState) error {
		for _, a := range st.activities {
			if a.EventID == eventID && a.AttendeeID == attendeeID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}
