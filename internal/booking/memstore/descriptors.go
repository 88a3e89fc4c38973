package memstore

import (
	"context"
	"sort"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/ledger"
)

func awaitingPayment(s fsm.Status) bool {
	return s == fsm.StatusPending || s == fsm.StatusPendingReview
}

func copyDescriptor(d *ledger.Descriptor) *ledger.Descriptor {
	c := *d
	if d.SupersededAt != nil {
		at := *d.SupersededAt
		c.SupersededAt = &at
	}
	if d.CheckedAt != nil {
		at := *d.CheckedAt
		c.CheckedAt = &at
	}
	return &c
}

// CurrentDescriptor implements ledger.Repository.
func (s *Store) CurrentDescriptor(ctx context.Context, bookingID int64) (*ledger.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.currentHashLocked(bookingID); h != "" {
		return copyDescriptor(s.descriptors[h]), nil
	}
	return nil, nil
}

// DescriptorByHash implements ledger.Repository.
func (s *Store) DescriptorByHash(ctx context.Context, hash string) (*ledger.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[hash]
	if !ok {
		return nil, nil
	}
	return copyDescriptor(d), nil
}

func (s *Store) currentHashLocked(bookingID int64) string {
	for _, d := range s.descriptors {
		if d.BookingID == bookingID && d.SupersededAt == nil {
			return d.Hash
		}
	}
	return ""
}

// SaveDescriptor implements ledger.Repository. It holds the booking row
// lock, so it serializes with Mutate and concurrent issuances.
func (s *Store) SaveDescriptor(ctx context.Context, d ledger.Descriptor, supersede string, at time.Time) error {
	rl := s.rowLock(d.BookingID)
	rl.Lock()
	defer rl.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[d.BookingID]
	if !ok {
		return apperr.NotFound("booking", d.BookingID)
	}
	if !awaitingPayment(b.Status) {
		return apperr.InvalidTransition("booking %d is %s and no longer awaits payment", b.ID, b.Status)
	}
	if s.currentHashLocked(d.BookingID) != supersede {
		return ledger.ErrCurrentChanged
	}
	if old, ok := s.descriptors[supersede]; ok && supersede != "" {
		t := at
		old.SupersededAt = &t
	}
	if existing, ok := s.descriptors[d.Hash]; ok {
		existing.SupersededAt = nil
		return nil
	}
	s.descriptors[d.Hash] = copyDescriptor(&d)
	return nil
}

// RecordStatus implements ledger.Repository.
func (s *Store) RecordStatus(ctx context.Context, hash string, status ledger.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.descriptors[hash]; ok {
		t := at
		d.Status = status
		d.CheckedAt = &t
	}
	return nil
}

// OutstandingDescriptors implements ledger.Repository. Oldest first.
// Paid descriptors stay listed until their booking leaves the awaiting
// statuses so a failed confirmation is retried by the next sweep.
func (s *Store) OutstandingDescriptors(ctx context.Context, limit int) ([]ledger.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Descriptor, 0)
	for _, d := range s.descriptors {
		if d.SupersededAt != nil {
			continue
		}
		b, ok := s.bookings[d.BookingID]
		if !ok || !awaitingPayment(b.Status) {
			continue
		}
		out = append(out, *copyDescriptor(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
