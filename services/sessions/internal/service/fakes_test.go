package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/payments"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func testConfig() *config.Config {
	return &config.Config{
		Stripe: config.StripeConfig{Currency: "usd"},
		Sessions: config.SessionsConfig{
			DefaultTimezone:   "UTC",
			ResponseDeadline:  24 * time.Hour,
			ServiceFeePercent: 10,
			CommissionPercent: 20,
		},
	}
}

// fakeBookingRepo serializes Update the way SELECT ... FOR UPDATE does and
// discards fn's changes when it fails.
type fakeBookingRepo struct {
	mu       sync.Mutex
	clock    *testClock
	bookings map[string]domain.Booking
}

func newFakeBookingRepo(clock *testClock) *fakeBookingRepo {
	return &fakeBookingRepo{clock: clock, bookings: make(map[string]domain.Booking)}
}

func (r *fakeBookingRepo) Create(_ context.Context, b *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.CreatedAt = r.clock.Now()
	b.UpdatedAt = b.CreatedAt
	r.bookings[b.ID] = *b
	return nil
}

func (r *fakeBookingRepo) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *fakeBookingRepo) ListForUser(_ context.Context, userID string, role domain.Role, status *domain.BookingStatus, limit, offset int) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		owner := b.CustomerID
		if role == domain.RoleProvider {
			owner = b.ProviderID
		}
		if owner != userID || (status != nil && b.Status != *status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeBookingRepo) ListPendingCandidates(_ context.Context, _, _ time.Time, _ int) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.Status == domain.BookingPending {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeBookingRepo) Update(_ context.Context, id string, fn func(b *domain.Booking) error) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, apperr.NotFound("booking %s not found", id)
	}
	if err := fn(&b); err != nil {
		return nil, err
	}
	b.UpdatedAt = r.clock.Now()
	r.bookings[id] = b
	return &b, nil
}

func (r *fakeBookingRepo) put(b domain.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[b.ID] = b
}

func (r *fakeBookingRepo) get(id string) domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[id]
}

type fakeEditingRepo struct {
	mu       sync.Mutex
	requests map[string]domain.EditingRequest
	order    []string
}

func newFakeEditingRepo() *fakeEditingRepo {
	return &fakeEditingRepo{requests: make(map[string]domain.EditingRequest)}
}

func (r *fakeEditingRepo) Create(_ context.Context, e *domain.EditingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.requests {
		if existing.BookingID == e.BookingID && existing.Status.Open() {
			return apperr.Conflict("booking %s already has an open editing request", e.BookingID)
		}
	}
	r.requests[e.ID] = *e
	r.order = append(r.order, e.ID)
	return nil
}

func (r *fakeEditingRepo) GetByID(_ context.Context, id string) (*domain.EditingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *fakeEditingRepo) LatestForBooking(_ context.Context, bookingID string) (*domain.EditingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if e := r.requests[r.order[i]]; e.BookingID == bookingID {
			return &e, nil
		}
	}
	return nil, nil
}

func (r *fakeEditingRepo) Update(_ context.Context, id string, fn func(e *domain.EditingRequest) error) (*domain.EditingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.requests[id]
	if !ok {
		return nil, apperr.NotFound("editing request %s not found", id)
	}
	if err := fn(&e); err != nil {
		return nil, err
	}
	r.requests[id] = e
	return &e, nil
}

type fakeEarningRepo struct {
	mu       sync.Mutex
	earnings map[string]domain.Earning
	bookings *fakeBookingRepo
	editing  *fakeEditingRepo
}

func newFakeEarningRepo(bookings *fakeBookingRepo, editing *fakeEditingRepo) *fakeEarningRepo {
	return &fakeEarningRepo{earnings: make(map[string]domain.Earning), bookings: bookings, editing: editing}
}

func (r *fakeEarningRepo) Create(_ context.Context, e *domain.Earning) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.earnings {
		if existing.Source != e.Source {
			continue
		}
		if e.Source == domain.SourceSession && existing.BookingID == e.BookingID {
			return false, nil
		}
		if e.Source == domain.SourceEditing && *existing.EditingRequestID == *e.EditingRequestID {
			return false, nil
		}
	}
	r.earnings[e.ID] = *e
	return true, nil
}

func (r *fakeEarningRepo) find(match func(e domain.Earning) bool) *domain.Earning {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.earnings {
		if match(e) {
			return &e
		}
	}
	return nil
}

func (r *fakeEarningRepo) GetByID(_ context.Context, id string) (*domain.Earning, error) {
	return r.find(func(e domain.Earning) bool { return e.ID == id }), nil
}

func (r *fakeEarningRepo) GetForSession(_ context.Context, bookingID string) (*domain.Earning, error) {
	return r.find(func(e domain.Earning) bool {
		return e.BookingID == bookingID && e.Source == domain.SourceSession
	}), nil
}

func (r *fakeEarningRepo) GetForEditing(_ context.Context, editingRequestID string) (*domain.Earning, error) {
	return r.find(func(e domain.Earning) bool {
		return e.EditingRequestID != nil && *e.EditingRequestID == editingRequestID
	}), nil
}

func (r *fakeEarningRepo) Transition(_ context.Context, id string, from, to domain.EarningStatus, payoutRef string, at time.Time) (*domain.Earning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.earnings[id]
	if !ok || e.Status != from {
		return nil, nil
	}
	e.Status = to
	if payoutRef != "" {
		e.PayoutRef = payoutRef
	}
	switch to {
	case domain.EarningPending:
		e.AvailableAt = &at
	case domain.EarningPaid:
		e.PaidAt = &at
	}
	r.earnings[id] = e
	return &e, nil
}

func (r *fakeEarningRepo) DeleteHeld(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.earnings[id]; ok && e.Status == domain.EarningHeld {
		delete(r.earnings, id)
	}
	return nil
}

func (r *fakeEarningRepo) ListByProvider(_ context.Context, providerID string, status *domain.EarningStatus, _, _ int) ([]domain.Earning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Earning
	for _, e := range r.earnings {
		if e.ProviderID == providerID && (status == nil || e.Status == *status) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEarningRepo) Totals(_ context.Context, providerID string) (map[domain.EarningStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := make(map[domain.EarningStatus]int64)
	for _, e := range r.earnings {
		if e.ProviderID == providerID {
			totals[e.Status] += e.NetAmount
		}
	}
	return totals, nil
}

func (r *fakeEarningRepo) BillableWithoutEarning(ctx context.Context, _ int) ([]domain.Booking, error) {
	r.bookings.mu.Lock()
	var candidates []domain.Booking
	for _, b := range r.bookings.bookings {
		if b.Status == domain.BookingConfirmed || b.Status == domain.BookingCompleted {
			candidates = append(candidates, b)
		}
	}
	r.bookings.mu.Unlock()

	var out []domain.Booking
	for _, b := range candidates {
		if e, _ := r.GetForSession(ctx, b.ID); e == nil {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeEarningRepo) EditingWithoutEarning(ctx context.Context, _ int) ([]domain.EditingRequest, error) {
	r.editing.mu.Lock()
	var candidates []domain.EditingRequest
	for _, e := range r.editing.requests {
		if e.Status.Billable() {
			candidates = append(candidates, e)
		}
	}
	r.editing.mu.Unlock()

	var out []domain.EditingRequest
	for _, e := range candidates {
		if earning, _ := r.GetForEditing(ctx, e.ID); earning == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEarningRepo) HeldForCompleted(ctx context.Context, _ int) ([]domain.Earning, error) {
	r.mu.Lock()
	var held []domain.Earning
	for _, e := range r.earnings {
		if e.Status == domain.EarningHeld {
			held = append(held, e)
		}
	}
	r.mu.Unlock()

	var out []domain.Earning
	for _, e := range held {
		switch e.Source {
		case domain.SourceSession:
			if r.bookings.get(e.BookingID).Status == domain.BookingCompleted {
				out = append(out, e)
			}
		case domain.SourceEditing:
			if req, _ := r.editing.GetByID(ctx, *e.EditingRequestID); req != nil && req.Status == domain.EditingCompleted {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

type fakeIdempotencyRepo struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{keys: make(map[string]bool)}
}

func (r *fakeIdempotencyRepo) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys[key] {
		return false, nil
	}
	r.keys[key] = true
	return true, nil
}

func (r *fakeIdempotencyRepo) Forget(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}

func (r *fakeIdempotencyRepo) CleanupExpired(context.Context) (int64, error) { return 0, nil }

type posKey struct {
	booking string
	role    domain.Role
}

// fakePositionStore mirrors the last-write-wins and stop marker rules of
// the Redis script.
type fakePositionStore struct {
	mu        sync.Mutex
	positions map[posKey]domain.LivePosition
	stopped   map[posKey]time.Time
	cleared   []string
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		positions: make(map[posKey]domain.LivePosition),
		stopped:   make(map[posKey]time.Time),
	}
}

func (s *fakePositionStore) Upsert(_ context.Context, p domain.LivePosition, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := posKey{p.BookingID, p.Role}
	if at, ok := s.stopped[k]; ok && !p.UpdatedAt.After(at) {
		return false, nil
	}
	if cur, ok := s.positions[k]; ok && cur.UpdatedAt.After(p.UpdatedAt) {
		return false, nil
	}
	s.positions[k] = p
	return true, nil
}

func (s *fakePositionStore) Get(_ context.Context, bookingID string, role domain.Role) (*domain.LivePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[posKey{bookingID, role}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakePositionStore) Delete(_ context.Context, bookingID string, role domain.Role, stoppedAt time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := posKey{bookingID, role}
	delete(s.positions, k)
	s.stopped[k] = stoppedAt
	return nil
}

func (s *fakePositionStore) ClearBooking(_ context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, posKey{bookingID, domain.RoleCustomer})
	delete(s.positions, posKey{bookingID, domain.RoleProvider})
	s.cleared = append(s.cleared, bookingID)
	return nil
}

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subjects...)
}

var _ events.Publisher = (*recordingBus)(nil)

// failingGateway wraps the dev gateway and fails the named operations.
type failingGateway struct {
	*payments.DevGateway
	fail map[string]bool
}

var errProcessor = errors.New("processor unavailable")

func (g *failingGateway) Authorize(ctx context.Context, req payments.AuthorizeRequest) (*payments.Authorization, error) {
	if g.fail["authorize"] {
		return nil, errProcessor
	}
	return g.DevGateway.Authorize(ctx, req)
}

func (g *failingGateway) Capture(ctx context.Context, intentID, key string) error {
	if g.fail["capture"] {
		return errProcessor
	}
	return g.DevGateway.Capture(ctx, intentID, key)
}

func (g *failingGateway) Release(ctx context.Context, intentID, key string) error {
	if g.fail["release"] {
		return errProcessor
	}
	return g.DevGateway.Release(ctx, intentID, key)
}

// harness wires every service against the fakes.
type harness struct {
	clock     *testClock
	cfg       *config.Config
	bookings  *fakeBookingRepo
	editing   *fakeEditingRepo
	earnings  *fakeEarningRepo
	positions *fakePositionStore
	gateway   *failingGateway
	bus       *recordingBus

	booking  BookingService
	meeting  MeetingPointService
	location LocationService
	edits    EditingService
	ledger   LedgerService
}

var (
	baseTime  = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	customer  = domain.Actor{UserID: "cust-1"}
	provider  = domain.Actor{UserID: "prov-1"}
	stranger  = domain.Actor{UserID: "someone-else"}
	adminUser = domain.Actor{UserID: "admin-1", Admin: true}
)

// session starts 2026-03-12 14:00 UTC and lasts two hours
var (
	sessionStart = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	sessionEnd   = sessionStart.Add(2 * time.Hour)
)

func newHarness() *harness {
	h := &harness{
		clock:     newClock(baseTime),
		cfg:       testConfig(),
		editing:   newFakeEditingRepo(),
		positions: newFakePositionStore(),
		gateway:   &failingGateway{DevGateway: payments.NewDevGateway(), fail: map[string]bool{}},
		bus:       &recordingBus{},
	}
	h.bookings = newFakeBookingRepo(h.clock)
	h.earnings = newFakeEarningRepo(h.bookings, h.editing)
	h.ledger = NewLedgerService(h.earnings, newFakeIdempotencyRepo(), h.bus, h.cfg, h.clock.Now)
	h.booking = NewBookingService(h.bookings, h.positions, h.gateway, h.ledger, h.bus, h.cfg, h.clock.Now)
	h.meeting = NewMeetingPointService(h.bookings, h.bus, h.clock.Now)
	h.location = NewLocationService(h.bookings, h.positions, h.clock.Now)
	h.edits = NewEditingService(h.editing, h.bookings, h.gateway, h.ledger, h.bus, h.cfg, h.clock.Now)
	return h
}

func validBookingReq() *domain.CreateBookingReq {
	return &domain.CreateBookingReq{
		ProviderID:     provider.UserID,
		SessionDate:    "2026-03-12",
		SessionTime:    "2:00 PM",
		DurationHours:  2,
		LocationLabel:  "Golden Gate Park",
		SubtotalAmount: 10000,
	}
}
