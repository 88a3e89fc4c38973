package workflow_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/memstore"
	"housingBack/internal/booking/money"
)

func TestConcurrentConfirmSingleWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		b := h.rental(t)
		n := 2 + rand.Intn(14)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			invalid int
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			actor := owner
			if i%2 == 1 {
				actor = admin
			}
			wg.Add(1)
			go func(a lifecycle.Actor) {
				defer wg.Done()
				<-start
				_, err := h.engine.Confirm(context.Background(), a, b.ID)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, apperr.ErrInvalidTransition):
					invalid++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(actor)
		}
		close(start)
		wg.Wait()
		require.Equal(t, 1, wins, "round %d", round)
		require.Equal(t, n-1, invalid, "round %d", round)
	}
}

func TestCancelRacesConfirm(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		b := h.rental(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = h.engine.Confirm(context.Background(), owner, b.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = h.engine.Cancel(context.Background(), renter, b.ID)
		}()
		close(start)
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				require.ErrorIs(t, err, apperr.ErrInvalidTransition)
			}
		}
		require.Equal(t, 1, winners)

		got, err := h.engine.Get(context.Background(), admin, b.ID)
		require.NoError(t, err)
		if errs[0] == nil {
			require.Equal(t, fsm.StatusConfirmed, got.Status)
		} else {
			require.Equal(t, fsm.StatusCancelled, got.Status)
		}
	}
}

func TestConcurrentVisitsSameSlot(t *testing.T) {
	h := newHarness(t)
	slot := time.Date(2025, 6, 3, 14, 0, 0, 0, ict)
	const n = 12

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			<-start
			_, err := h.engine.CreateVisit(context.Background(), lifecycle.Actor{ID: id, Role: fsm.RoleRenter},
				lifecycle.VisitRequest{PropertyID: propertyID, VisitTime: slot})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.Is(err, apperr.ErrConflict) {
				conflicts++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(100 + i))
	}
	close(start)
	wg.Wait()
	require.Equal(t, 1, created)
	require.Equal(t, n-1, conflicts)
}

// heldRepo runs hold after every CurrentDescriptor read, widening the gap
// between the ledger reading the current descriptor and saving a new one.
type heldRepo struct {
	*memstore.Store
	mu   sync.Mutex
	hold func()
}

func (r *heldRepo) CurrentDescriptor(ctx context.Context, bookingID int64) (*ledger.Descriptor, error) {
	d, err := r.Store.CurrentDescriptor(ctx, bookingID)
	r.mu.Lock()
	hold := r.hold
	r.mu.Unlock()
	if hold != nil {
		hold()
	}
	return d, err
}

func (r *heldRepo) setHold(f func()) {
	r.mu.Lock()
	r.hold = f
	r.mu.Unlock()
}

func newHeldHarness(t *testing.T) (*harness, *heldRepo) {
	var repo *heldRepo
	h := newHarnessWith(t, func(s *memstore.Store) ledger.Repository {
		repo = &heldRepo{Store: s}
		return repo
	})
	return h, repo
}

func currentDescriptors(t *testing.T, h *harness, bookingID int64) []ledger.Descriptor {
	t.Helper()
	all, err := h.store.OutstandingDescriptors(context.Background(), 0)
	require.NoError(t, err)
	var out []ledger.Descriptor
	for _, d := range all {
		if d.BookingID == bookingID {
			out = append(out, d)
		}
	}
	return out
}

func TestConcurrentIssueLeavesOneCurrentDescriptor(t *testing.T) {
	for round := 0; round < 10; round++ {
		h, repo := newHeldHarness(t)
		ctx := context.Background()
		b := h.rental(t)
		_, err := h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(5000), "USD")
		require.NoError(t, err)

		const n = 8
		// Every issuer reads the same current descriptor before any of
		// them saves.
		var arrived int32
		release := make(chan struct{})
		repo.setHold(func() {
			if atomic.AddInt32(&arrived, 1) == n {
				close(release)
			}
			<-release
		})

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			issued = map[string]bool{}
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(cents int64) {
				defer wg.Done()
				res, err := h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(cents), "USD")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					issued[res.Descriptor.Hash] = true
				case errors.Is(err, apperr.ErrConflict):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(int64(6000 + 100*i))
		}
		wg.Wait()

		require.NotEmpty(t, issued, "round %d", round)
		live := currentDescriptors(t, h, b.ID)
		require.Len(t, live, 1, "round %d", round)
		require.True(t, issued[live[0].Hash], "round %d", round)
		for hash := range issued {
			d, err := h.store.DescriptorByHash(ctx, hash)
			require.NoError(t, err)
			require.NotNil(t, d, "issued descriptors are kept")
		}
	}
}

func TestIssueParkedWhileBookingLeavesPayment(t *testing.T) {
	tests := []struct {
		name string
		move func(h *harness, id int64) error
	}{
		{"confirm", func(h *harness, id int64) error {
			_, err := h.engine.Confirm(context.Background(), owner, id)
			return err
		}},
		{"cancel", func(h *harness, id int64) error {
			_, err := h.engine.Cancel(context.Background(), renter, id)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo := newHeldHarness(t)
			ctx := context.Background()
			b := h.rental(t)

			parked := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			repo.setHold(func() {
				once.Do(func() { close(parked) })
				<-release
			})

			done := make(chan error, 1)
			go func() {
				_, err := h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(5000), "USD")
				done <- err
			}()
			<-parked
			require.NoError(t, tt.move(h, b.ID))
			close(release)

			require.ErrorIs(t, <-done, apperr.ErrInvalidTransition)
			cur, err := h.store.CurrentDescriptor(ctx, b.ID)
			require.NoError(t, err)
			require.Nil(t, cur, "no descriptor may be minted for a booking that stopped awaiting payment")
		})
	}
}

func TestIssueRacesConfirm(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		ctx := context.Background()
		b := h.rental(t)

		var (
			wg         sync.WaitGroup
			confirmErr error
			issueErr   error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, confirmErr = h.engine.Confirm(ctx, owner, b.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, issueErr = h.engine.IssueDescriptor(ctx, renter, b.ID, money.FromCents(5000), "USD")
		}()
		close(start)
		wg.Wait()

		require.NoError(t, confirmErr, "round %d", round)
		if issueErr != nil {
			require.ErrorIs(t, issueErr, apperr.ErrInvalidTransition, "round %d", round)
		}
		// Whichever won, the confirmed booking is never polled again.
		require.Empty(t, currentDescriptors(t, h, b.ID), "round %d", round)
	}
}
