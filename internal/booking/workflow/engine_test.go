package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/memstore"
	"housingBack/internal/booking/money"
	"housingBack/internal/booking/schedule"
	"housingBack/internal/booking/workflow"
)

var (
	ict      = time.FixedZone("ICT", 7*3600)
	renter   = lifecycle.Actor{ID: 10, Role: fsm.RoleRenter}
	renter2  = lifecycle.Actor{ID: 11, Role: fsm.RoleRenter}
	owner    = lifecycle.Actor{ID: 20, Role: fsm.RoleOwner}
	stranger = lifecycle.Actor{ID: 30, Role: fsm.RoleOwner}
	admin    = lifecycle.Actor{ID: 1, Role: fsm.RoleAdmin}
)

const propertyID = 5

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	mu      sync.Mutex
	paid    map[string]bool
	fail    bool
	calls   int
	chunked []int
}

func (f *fakeSource) Status(ctx context.Context, hash string) (ledger.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", errors.New("settlement down")
	}
	if f.paid[hash] {
		return ledger.StatusPaid, nil
	}
	return ledger.StatusUnknown, nil
}

func (f *fakeSource) PaidAmong(ctx context.Context, hashes []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunked = append(f.chunked, len(hashes))
	if f.fail {
		return nil, errors.New("settlement down")
	}
	var out []string
	for _, h := range hashes {
		if f.paid[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeSource) markPaid(hash string) {
	f.mu.Lock()
	f.paid[hash] = true
	f.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (r *recorder) Notify(kind lifecycle.Event, b lifecycle.Booking, ownerID int64) {
	r.mu.Lock()
	r.events = append(r.events, kind)
	r.mu.Unlock()
}

func (r *recorder) Events() []lifecycle.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.Event(nil), r.events...)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type harness struct {
	engine *workflow.Engine
	store  *memstore.Store
	source *fakeSource
	events *recorder
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test interpose on the ledger's descriptor storage.
func newHarnessWith(t *testing.T, wrap func(*memstore.Store) ledger.Repository) *harness {
	t.Helper()
	store := memstore.New()
	store.PutProperty(lifecycle.Property{ID: propertyID, OwnerID: owner.ID, Title: "Riverside loft", IsAvailable: true})

	clk := &clock{now: time.Date(2025, 5, 30, 8, 0, 0, 0, ict)}
	src := &fakeSource{paid: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	merchant := ledger.DefaultMerchant()
	merchant.AccountID = "housing@bank"
	var descriptors ledger.Repository = store
	if wrap != nil {
		descriptors = wrap(store)
	}
	led := ledger.New(ledger.Config{Merchant: merchant, StatusTimeout: time.Second}, descriptors, src, nil, logger).WithClock(clk.Now)

	grid, err := schedule.NewGrid(nil, ict)
	require.NoError(t, err)
	cfg := lifecycle.DefaultConfig()
	cfg.Location = ict
	events := &recorder{}
	engine, err := workflow.New(workflow.Deps{
		Store:      store,
		Properties: store,
		Service:    lifecycle.NewService(cfg),
		Grid:       grid,
		Ledger:     led,
		Notifier:   events,
		Logger:     nopLogger{},
		Now:        clk.Now,
	})
	require.NoError(t, err)
	return &harness{engine: engine, store: store, source: src, events: events, clock: clk}
}

func (h *harness) rental(t *testing.T) *lifecycle.Booking {
	t.Helper()
	b, err := h.engine.CreateRental(context.Background(), renter, lifecycle.RentalRequest{
		PropertyID:    propertyID,
		StartDate:     time.Date(2025, 6, 10, 0, 0, 0, 0, ict),
		MonthlyRent:   money.FromCents(40000),
		DepositAmount: money.FromCents(10000),
	})
	require.NoError(t, err)
	return b
}

func (h *harness) visit(t *testing.T, actor lifecycle.Actor, at time.Time) (*lifecycle.Booking, error) {
	t.Helper()
	return h.engine.CreateVisit(context.Background(), actor, lifecycle.VisitRequest{PropertyID: propertyID, VisitTime: at})
}

func TestVisitScenarioConfirmComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.visit(t, renter, time.Date(2025, 6, 1, 10, 0, 0, 0, ict))
	require.NoError(t, err)
	require.Equal(t, fsm.StatusPending, b.Status)
	msgs, err := h.engine.Messages(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, owner.ID, msgs[0].ReceiverID)
	require.Equal(t, "Viewing request for 2025-06-01 10:00.", msgs[0].Content)

	b, err = h.engine.Confirm(ctx, owner, b.ID)
	require.NoError(t, err)
	require.NotNil(t, b.ConfirmedAt)

	b, err = h.engine.Complete(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Equal(t, fsm.StatusCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)
	require.Nil(t, b.CheckedOutAt)

	_, err = h.engine.Checkout(ctx, owner, b.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	require.Equal(t, []lifecycle.Event{
		lifecycle.EventVisitRequested,
		lifecycle.EventConfirmed,
		lifecycle.EventVisitCompleted,
	}, h.events.Events())
}

func TestRentalScenarioCheckoutMovesToHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.rental(t)

	_, err := h.engine.Confirm(ctx, owner, b.ID)
	require.NoError(t, err)
	prop, err := h.store.Property(ctx, propertyID)
	require.NoError(t, err)
	require.False(t, prop.IsAvailable)

	active, err := h.engine.List(ctx, owner, lifecycle.ListFilter{}, lifecycle.ViewActiveCustomers)
	require.NoError(t, err)
	require.Len(t, active, 1)

	b, err = h.engine.Complete(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Equal(t, fsm.StatusCompleted, b.Status)
	require.Nil(t, b.CheckedOutAt)

	b, err = h.engine.Checkout(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Equal(t, fsm.StatusCheckedOut, b.Status)
	require.NotNil(t, b.CheckedOutAt)

	active, err = h.engine.List(ctx, owner, lifecycle.ListFilter{}, lifecycle.ViewActiveCustomers)
	require.NoError(t, err)
	require.Empty(t, active)
	history, err := h.engine.List(ctx, owner, lifecycle.ListFilter{}, lifecycle.ViewHistory)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, b.ID, history[0].ID)
}

func TestHideAndRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.rental(t)
	_, err := h.engine.Confirm(ctx, owner, b.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, owner, b.ID)
	require.NoError(t, err)

	b, err = h.engine.Hide(ctx, owner, b.ID)
	require.NoError(t, err)
	require.True(t, b.HiddenByOwner)

	list, err := h.engine.List(ctx, owner, lifecycle.ListFilter{}, lifecycle.ViewAll)
	require.NoError(t, err)
	require.Empty(t, list)
	_, err = h.engine.Get(ctx, owner, b.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.engine.Restore(ctx, owner, b.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	all, err := h.engine.List(ctx, admin, lifecycle.ListFilter{}, lifecycle.ViewAll)
	require.NoError(t, err)
	require.Len(t, all, 1)

	b, err = h.engine.Restore(ctx, admin, b.ID)
	require.NoError(t, err)
	require.False(t, b.HiddenByOwner)
	list, err = h.engine.List(ctx, owner, lifecycle.ListFilter{}, lifecycle.ViewActiveCustomers)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestDescriptorReissueOrphansOldHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.rental(t)

	first, err := h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(5000), "USD")
	require.NoError(t, err)
	again, err := h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(5000), "USD")
	require.NoError(t, err)
	require.Equal(t, first.Descriptor.Hash, again.Descriptor.Hash)
	require.True(t, again.Reused)

	second, err := h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(6000), "USD")
	require.NoError(t, err)
	require.NotEqual(t, first.Descriptor.Hash, second.Descriptor.Hash)
	require.Equal(t, first.Descriptor.Hash, second.Superseded)

	old := h.engine.PaymentStatus(ctx, first.Descriptor.Hash)
	require.Equal(t, ledger.StatusPending, old.Status)

	h.source.fail = true
	degraded := h.engine.PaymentStatus(ctx, first.Descriptor.Hash)
	require.True(t, degraded.Degraded)
	require.Equal(t, ledger.StatusPending, degraded.Status)
}

func TestIssueDescriptorRequiresAwaitingPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.rental(t)

	_, err := h.engine.IssueDescriptor(ctx, stranger, b.ID, money.FromCents(5000), "USD")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.engine.Confirm(ctx, owner, b.ID)
	require.NoError(t, err)
	_, err = h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(5000), "USD")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestReconcilePaymentConfirmsBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.rental(t)

	_, _, err := h.engine.ReconcilePayment(ctx, owner, b.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	issued, err := h.engine.IssueDescriptor(ctx, renter, b.ID, money.Money(0), "")
	require.NoError(t, err)
	require.Equal(t, money.FromCents(50000), issued.Descriptor.Amount)

	same, res, err := h.engine.ReconcilePayment(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, res.Status)
	require.Equal(t, fsm.StatusPending, same.Status)
	require.Empty(t, same.PaymentCorrelationHash)

	h.source.markPaid(issued.Descriptor.Hash)
	confirmed, res, err := h.engine.ReconcilePayment(ctx, owner, b.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPaid, res.Status)
	require.Equal(t, fsm.StatusConfirmed, confirmed.Status)
	require.Equal(t, issued.Descriptor.Hash, confirmed.PaymentCorrelationHash)

	payments, err := h.engine.Payments(ctx, renter, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, lifecycle.PaymentCompleted, payments[0].Status)
}

func TestReconcileOutstandingSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	paid := h.rental(t)
	unpaid := h.rental(t)

	d1, err := h.engine.IssueDescriptor(ctx, renter, paid.ID, money.FromCents(5000), "USD")
	require.NoError(t, err)
	_, err = h.engine.IssueDescriptor(ctx, renter, unpaid.ID, money.FromCents(7000), "USD")
	require.NoError(t, err)
	h.source.markPaid(d1.Descriptor.Hash)

	n, err := h.engine.ReconcileOutstanding(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := h.engine.Get(ctx, admin, paid.ID)
	require.NoError(t, err)
	require.Equal(t, fsm.StatusConfirmed, got.Status)
	got, err = h.engine.Get(ctx, admin, unpaid.ID)
	require.NoError(t, err)
	require.Equal(t, fsm.StatusPending, got.Status)

	n, err = h.engine.ReconcileOutstanding(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCreateWithPaymentPaths(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	review, err := h.engine.CreateWithPayment(ctx, renter, lifecycle.PaymentRequest{
		Kind:     fsm.KindVisit,
		Visit:    lifecycle.VisitRequest{PropertyID: propertyID, VisitTime: time.Date(2025, 6, 2, 9, 0, 0, 0, ict)},
		Method:   lifecycle.PaymentMethodUpload,
		Amount:   money.FromCents(500),
		ProofRef: "/uploads/proofs/r1.png",
	})
	require.NoError(t, err)
	require.Equal(t, fsm.StatusPendingReview, review.Status)

	qr, err := h.engine.CreateWithPayment(ctx, renter2, lifecycle.PaymentRequest{
		Kind:            fsm.KindRental,
		Rental:          lifecycle.RentalRequest{PropertyID: propertyID, StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, ict), MonthlyRent: money.FromCents(40000)},
		Method:          lifecycle.PaymentMethodQRCorrelation,
		CorrelationHash: "ABCDEF0123",
	})
	require.NoError(t, err)
	require.Equal(t, fsm.StatusConfirmed, qr.Status)
	require.Equal(t, "abcdef0123", qr.PaymentCorrelationHash)
	prop, err := h.store.Property(ctx, propertyID)
	require.NoError(t, err)
	require.False(t, prop.IsAvailable)

	h.store.PutProperty(lifecycle.Property{ID: propertyID, OwnerID: owner.ID, IsAvailable: true})
	_, err = h.engine.CreateWithPayment(ctx, renter, lifecycle.PaymentRequest{
		Kind:            fsm.KindRental,
		Rental:          lifecycle.RentalRequest{PropertyID: propertyID, StartDate: time.Date(2025, 8, 1, 0, 0, 0, 0, ict)},
		Method:          lifecycle.PaymentMethodQRCorrelation,
		CorrelationHash: "abcdef0123",
	})
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCancelWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	early := h.rental(t)
	h.clock.Advance(24 * time.Hour)
	_, err := h.engine.Cancel(ctx, renter, early.ID)
	require.NoError(t, err)

	late := h.rental(t)
	h.clock.Advance(24*time.Hour + time.Nanosecond)
	_, err = h.engine.Cancel(ctx, renter, late.ID)
	require.ErrorIs(t, err, lifecycle.ErrCancelWindowElapsed)

	_, err = h.engine.Cancel(ctx, owner, late.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestAvailabilityAndSlotConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, ict)

	avail, err := h.engine.Availability(ctx, propertyID, day)
	require.NoError(t, err)
	require.Len(t, avail.Available, 7)

	_, err = h.visit(t, renter, day.Add(10*time.Hour))
	require.NoError(t, err)
	avail, err = h.engine.Availability(ctx, propertyID, day)
	require.NoError(t, err)
	require.Len(t, avail.Available, 6)
	require.Equal(t, []string{"10:00"}, avail.Booked)

	_, err = h.visit(t, renter2, day.Add(10*time.Hour))
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = h.visit(t, renter2, day.Add(12*time.Hour+30*time.Minute))
	require.NoError(t, err, "off-grid times bypass the slot check")

	_, err = h.engine.Availability(ctx, 999, day)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeletePermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.rental(t)
	_, err := h.engine.Reject(ctx, owner, b.ID, "  ")
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.engine.Reject(ctx, owner, b.ID, "unit unavailable")
	require.NoError(t, err)
	msgs, err := h.engine.Messages(ctx, renter, b.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "Booking request rejected: unit unavailable", msgs[0].Content)

	require.ErrorIs(t, h.engine.Delete(ctx, stranger, b.ID), apperr.ErrForbidden)
	require.ErrorIs(t, h.engine.Delete(ctx, renter, b.ID), apperr.ErrForbidden)
	require.NoError(t, h.engine.Delete(ctx, owner, b.ID))
	msgs, err = h.store.Messages(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)
	_, err = h.engine.Get(ctx, admin, b.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
