package reservations

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"eventrsvp/internal/events"
	"eventrsvp/pkg/cache"

	"github.com/google/uuid"
)

type fakeTxKey struct{}

type fakeTx struct {
	locks []uuid.UUID
	undo  []func()
}

// fakeRepo is an in-memory Repository. Event locks are real mutexes held
// until the surrounding WithTx returns, and a failed transaction rolls back
// its writes before releasing them.
type fakeRepo struct {
	mu           sync.Mutex
	events       map[uuid.UUID]events.Event
	reservations map[uuid.UUID]Reservation
	eventLocks   map[uuid.UUID]*sync.Mutex

	lockErrs  []error
	createErr error
	lockCalls int
	lockHold  time.Duration
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:       map[uuid.UUID]events.Event{},
		reservations: map[uuid.UUID]Reservation{},
		eventLocks:   map[uuid.UUID]*sync.Mutex{},
	}
}

func (f *fakeRepo) addEvent(capacity int) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.events[id] = events.Event{ID: id, Name: "Launch party", Venue: "Hall A", Capacity: capacity, StartsAt: time.Now().Add(24 * time.Hour)}
	f.eventLocks[id] = &sync.Mutex{}
	return id
}

func (f *fakeRepo) put(r Reservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reservations[r.ID] = r
}

func (f *fakeRepo) activeSeats(eventID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, r := range f.reservations {
		if r.EventID == eventID && r.Status.IsActive() {
			total += r.SeatCount
		}
	}
	return total
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reservations)
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	tx := &fakeTx{}
	err := fn(context.WithValue(ctx, fakeTxKey{}, tx))

	f.mu.Lock()
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	locks := make([]*sync.Mutex, 0, len(tx.locks))
	for _, id := range tx.locks {
		locks = append(locks, f.eventLocks[id])
	}
	f.mu.Unlock()

	for _, l := range locks {
		l.Unlock()
	}
	return err
}

func txOf(ctx context.Context) *fakeTx {
	tx, _ := ctx.Value(fakeTxKey{}).(*fakeTx)
	return tx
}

func (f *fakeRepo) LockEvent(ctx context.Context, eventID uuid.UUID) (*events.Event, error) {
	tx := txOf(ctx)
	if tx == nil {
		panic("LockEvent called outside a transaction")
	}

	f.mu.Lock()
	f.lockCalls++
	if len(f.lockErrs) > 0 {
		err := f.lockErrs[0]
		f.lockErrs = f.lockErrs[1:]
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
	}
	ev, ok := f.events[eventID]
	lock := f.eventLocks[eventID]
	f.mu.Unlock()
	if !ok {
		return nil, ErrEventNotFound
	}

	for _, held := range tx.locks {
		if held == eventID {
			return &ev, nil
		}
	}
	lock.Lock()
	tx.locks = append(tx.locks, eventID)
	if f.lockHold > 0 {
		time.Sleep(f.lockHold)
	}
	return &ev, nil
}

func (f *fakeRepo) GetEvent(_ context.Context, eventID uuid.UUID) (*events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return &ev, nil
}

func (f *fakeRepo) SumActiveSeats(_ context.Context, eventID uuid.UUID) (int, error) {
	return f.activeSeats(eventID), nil
}

func (f *fakeRepo) FindActiveByRequester(_ context.Context, eventID, requesterID uuid.UUID) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.EventID == eventID && r.RequesterID == requesterID && r.Status.IsActive() {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindByIdempotencyKey(_ context.Context, eventID, requesterID uuid.UUID, key string) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.EventID == eventID && r.RequesterID == requesterID && r.IdempotencyKey != nil && *r.IdempotencyKey == key {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) Create(ctx context.Context, reservation *Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	stored := *reservation
	f.reservations[stored.ID] = stored
	if tx := txOf(ctx); tx != nil {
		tx.undo = append(tx.undo, func() { delete(f.reservations, stored.ID) })
	}
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return &r, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	if r.Status != from {
		return ErrConflict
	}
	previous := r
	r.Status = to
	r.UpdatedAt = at
	switch to {
	case StatusConfirmed:
		r.ConfirmedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
	}
	f.reservations[id] = r
	if tx := txOf(ctx); tx != nil {
		tx.undo = append(tx.undo, func() { f.reservations[id] = previous })
	}
	return nil
}

func (f *fakeRepo) IssueTicket(ctx context.Context, id uuid.UUID, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	if r.TicketNumber != nil {
		return ErrConflict
	}
	for _, other := range f.reservations {
		if other.TicketNumber != nil && *other.TicketNumber == number {
			return ErrConflict
		}
	}
	previous := r
	r.TicketNumber = &number
	f.reservations[id] = r
	if tx := txOf(ctx); tx != nil {
		tx.undo = append(tx.undo, func() { f.reservations[id] = previous })
	}
	return nil
}

func (f *fakeRepo) ListByEvent(_ context.Context, eventID uuid.UUID, q ListQuery) ([]Reservation, int64, error) {
	return f.list(func(r Reservation) bool { return r.EventID == eventID }, q)
}

func (f *fakeRepo) ListByRequester(_ context.Context, requesterID uuid.UUID, q ListQuery) ([]Reservation, int64, error) {
	return f.list(func(r Reservation) bool { return r.RequesterID == requesterID }, q)
}

func (f *fakeRepo) list(match func(Reservation) bool, q ListQuery) ([]Reservation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []Reservation
	for _, r := range f.reservations {
		if match(r) && (q.Status == "" || string(r.Status) == q.Status) {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := q.offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (f *fakeRepo) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reservation
	for _, r := range f.reservations {
		if r.Status == StatusPending && r.CreatedAt.Before(createdBefore) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	ctxErr  error
	err     error
}

func (n *recordingNotifier) ReservationChanged(ctx context.Context, change Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	n.ctxErr = ctx.Err()
	return n.err
}

func (n *recordingNotifier) lastCtxErr() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ctxErr
}

func (n *recordingNotifier) types() []ChangeType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChangeType, 0, len(n.changes))
	for _, c := range n.changes {
		out = append(out, c.Type)
	}
	return out
}

// memoryCache is a cache.Service backed by a map.
type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ cache.Service = (*memoryCache)(nil)

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryCache) DeletePattern(context.Context, string) error { return nil }

func (m *memoryCache) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memoryCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fetcher func(ctx context.Context) (interface{}, error), dest interface{}) error {
	if err := m.Get(ctx, key, dest); err == nil {
		return nil
	}
	v, err := fetcher(ctx)
	if err != nil {
		return err
	}
	if err := m.Set(ctx, key, v, ttl); err != nil {
		return err
	}
	return m.Get(ctx, key, dest)
}

func (m *memoryCache) Ping(context.Context) error { return nil }

type testHarness struct {
	svc      *service
	repo     *fakeRepo
	notifier *recordingNotifier
	sleeps   []time.Duration
	now      time.Time
}

func newHarness(t *testing.T, policy Policy) *testHarness {
	t.Helper()
	h := &testHarness{
		repo:     newFakeRepo(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	}
	cfg := DefaultServiceConfig()
	cfg.Policy = policy
	h.svc = NewService(h.repo, cfg, h.notifier, nil).(*service)
	h.svc.now = func() time.Time { return h.now }
	var sleepMu sync.Mutex
	h.svc.sleep = func(_ context.Context, d time.Duration) error {
		sleepMu.Lock()
		defer sleepMu.Unlock()
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *testHarness) reserve(t *testing.T, eventID, requester uuid.UUID, seats int) *Reservation {
	t.Helper()
	res, err := h.svc.Reserve(context.Background(), ReserveInput{RequesterID: requester, EventID: eventID, SeatCount: seats})
	if err != nil {
		t.Fatalf("Reserve(%d seats): %v", seats, err)
	}
	return res.Reservation
}
