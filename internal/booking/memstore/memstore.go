// Package memstore keeps bookings, properties and payment descriptors in
// process memory. It backs the development mode and the engine tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/workflow"
)

// Store is safe for concurrent use. Lock order: booking row, property row,
// then the table mutex.
type Store struct {
	mu          sync.Mutex
	bookings    map[int64]*lifecycle.Booking
	props       map[int64]lifecycle.Property
	payments    map[int64][]lifecycle.Payment
	messages    map[int64][]lifecycle.Message
	descriptors map[string]*ledger.Descriptor
	hashes      map[string]int64
	tokens      map[int64][]string
	rowLocks    map[int64]*sync.Mutex
	propLocks   map[int64]*sync.Mutex
	nextBooking int64
	nextPayment int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		bookings:    make(map[int64]*lifecycle.Booking),
		props:       make(map[int64]lifecycle.Property),
		payments:    make(map[int64][]lifecycle.Payment),
		messages:    make(map[int64][]lifecycle.Message),
		descriptors: make(map[string]*ledger.Descriptor),
		hashes:      make(map[string]int64),
		tokens:      make(map[int64][]string),
		rowLocks:    make(map[int64]*sync.Mutex),
		propLocks:   make(map[int64]*sync.Mutex),
	}
}

var (
	_ workflow.Store      = (*Store)(nil)
	_ workflow.Properties = (*Store)(nil)
	_ ledger.Repository   = (*Store)(nil)
)

func (s *Store) rowLock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

func (s *Store) propLock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.propLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.propLocks[id] = l
	}
	return l
}

// PutProperty registers or replaces a property in the directory.
func (s *Store) PutProperty(p lifecycle.Property) {
	s.mu.Lock()
	s.props[p.ID] = p
	s.mu.Unlock()
}

// Property implements workflow.Properties.
func (s *Store) Property(ctx context.Context, id int64) (lifecycle.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[id]
	if !ok {
		return lifecycle.Property{}, apperr.NotFound("property", id)
	}
	return p, nil
}

func (s *Store) visitsBetweenLocked(propertyID int64, from, to time.Time) []lifecycle.Booking {
	var out []lifecycle.Booking
	for _, b := range s.bookings {
		if b.PropertyID != propertyID || b.Kind != fsm.KindVisit || b.VisitTime == nil {
			continue
		}
		if b.VisitTime.Before(from) || !b.VisitTime.Before(to) {
			continue
		}
		out = append(out, *b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitTime.Before(*out[j].VisitTime) })
	return out
}

// Insert implements workflow.Store.
func (s *Store) Insert(ctx context.Context, spec workflow.InsertSpec) (*lifecycle.Booking, lifecycle.Effects, error) {
	if err := ctx.Err(); err != nil {
		return nil, lifecycle.Effects{}, err
	}
	pl := s.propLock(spec.PropertyID)
	pl.Lock()
	defer pl.Unlock()

	s.mu.Lock()
	prop, ok := s.props[spec.PropertyID]
	var sameDay []lifecycle.Booking
	if ok && spec.VisitDay != nil {
		sameDay = s.visitsBetweenLocked(spec.PropertyID, spec.VisitDay.From, spec.VisitDay.To)
	}
	s.mu.Unlock()
	if !ok {
		return nil, lifecycle.Effects{}, apperr.NotFound("property", spec.PropertyID)
	}

	c, err := spec.Build(prop, sameDay)
	if err != nil {
		return nil, lifecycle.Effects{}, err
	}
	b := c.Booking.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claimHashLocked(b, 0); err != nil {
		return nil, lifecycle.Effects{}, err
	}
	s.nextBooking++
	b.ID = s.nextBooking
	if b.PaymentCorrelationHash != "" {
		s.hashes[b.PaymentCorrelationHash] = b.ID
	}
	s.bookings[b.ID] = b
	eff := s.applyEffectsLocked(b, c.Effects)
	return b.Clone(), eff, nil
}

func (s *Store) claimHashLocked(b *lifecycle.Booking, id int64) error {
	if b.PaymentCorrelationHash == "" {
		return nil
	}
	if owner, taken := s.hashes[b.PaymentCorrelationHash]; taken && owner != id {
		return apperr.Conflict("payment correlation hash already bound to booking %d", owner)
	}
	return nil
}

func (s *Store) applyEffectsLocked(b *lifecycle.Booking, eff lifecycle.Effects) lifecycle.Effects {
	if eff.PropertyAvailable != nil {
		p := s.props[b.PropertyID]
		p.IsAvailable = *eff.PropertyAvailable
		s.props[b.PropertyID] = p
	}
	if eff.CompletePendingPayments {
		list := s.payments[b.ID]
		for i := range list {
			if list[i].Status == lifecycle.PaymentPending {
				at := b.UpdatedAt
				list[i].Status = lifecycle.PaymentCompleted
				list[i].CompletedAt = &at
			}
		}
	}
	if eff.NewPayment != nil {
		p := *eff.NewPayment
		s.nextPayment++
		p.ID = s.nextPayment
		p.BookingID = b.ID
		s.payments[b.ID] = append(s.payments[b.ID], p)
		eff.NewPayment = &p
	}
	if len(eff.Messages) > 0 {
		msgs := make([]lifecycle.Message, len(eff.Messages))
		for i, m := range eff.Messages {
			m.BookingID = b.ID
			msgs[i] = m
		}
		s.messages[b.ID] = append(s.messages[b.ID], msgs...)
		eff.Messages = msgs
	}
	return eff
}

// Get implements workflow.Store.
func (s *Store) Get(ctx context.Context, id int64) (*lifecycle.Booking, lifecycle.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, lifecycle.Property{}, apperr.NotFound("booking", id)
	}
	return b.Clone(), s.props[b.PropertyID], nil
}

// Mutate implements workflow.Store.
func (s *Store) Mutate(ctx context.Context, id int64, fn workflow.MutateFunc) (*lifecycle.Booking, lifecycle.Effects, lifecycle.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, lifecycle.Effects{}, lifecycle.Property{}, err
	}
	rl := s.rowLock(id)
	rl.Lock()
	defer rl.Unlock()

	s.mu.Lock()
	cur, ok := s.bookings[id]
	var snapshot *lifecycle.Booking
	if ok {
		snapshot = cur.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return nil, lifecycle.Effects{}, lifecycle.Property{}, apperr.NotFound("booking", id)
	}

	pl := s.propLock(snapshot.PropertyID)
	pl.Lock()
	defer pl.Unlock()
	s.mu.Lock()
	prop := s.props[snapshot.PropertyID]
	s.mu.Unlock()

	from := snapshot.Status
	eff, err := fn(snapshot, prop)
	if err != nil {
		return nil, lifecycle.Effects{}, prop, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok = s.bookings[id]
	if !ok || cur.Status != from {
		return nil, lifecycle.Effects{}, prop, &apperr.Error{
			Kind:    apperr.KindInvalidTransition,
			Message: "booking status changed concurrently",
			Err:     fsm.ErrStatusChanged,
		}
	}
	if err := s.claimHashLocked(snapshot, id); err != nil {
		return nil, lifecycle.Effects{}, prop, err
	}
	if snapshot.PaymentCorrelationHash != "" {
		s.hashes[snapshot.PaymentCorrelationHash] = id
	}
	s.bookings[id] = snapshot
	eff = s.applyEffectsLocked(snapshot, eff)
	return snapshot.Clone(), eff, s.props[snapshot.PropertyID], nil
}

// List implements workflow.Store. Newest bookings come first.
func (s *Store) List(ctx context.Context, f lifecycle.ListFilter) ([]lifecycle.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lifecycle.Booking, 0)
	for _, b := range s.bookings {
		if f.Matches(b, s.props[b.PropertyID]) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Offset >= len(out) {
		return []lifecycle.Booking{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// VisitsBetween implements workflow.Store.
func (s *Store) VisitsBetween(ctx context.Context, propertyID int64, from, to time.Time) ([]lifecycle.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitsBetweenLocked(propertyID, from, to), nil
}

// Delete implements workflow.Store. Payments, messages and descriptors of
// the booking go with it.
func (s *Store) Delete(ctx context.Context, id int64, check func(b *lifecycle.Booking, prop lifecycle.Property) error) error {
	rl := s.rowLock(id)
	rl.Lock()
	defer rl.Unlock()

	b, prop, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := check(b, prop); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bookings, id)
	delete(s.payments, id)
	delete(s.messages, id)
	for h, d := range s.descriptors {
		if d.BookingID == id {
			delete(s.descriptors, h)
		}
	}
	if b.PaymentCorrelationHash != "" {
		delete(s.hashes, b.PaymentCorrelationHash)
	}
	return nil
}

// Payments implements workflow.Store.
func (s *Store) Payments(ctx context.Context, bookingID int64) ([]lifecycle.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lifecycle.Payment{}, s.payments[bookingID]...), nil
}

// Messages implements workflow.Store.
func (s *Store) Messages(ctx context.Context, bookingID int64) ([]lifecycle.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lifecycle.Message{}, s.messages[bookingID]...), nil
}

// Register remembers a device token for userID.
func (s *Store) Register(ctx context.Context, userID int64, token string) error {
	if token == "" {
		return apperr.Validation("token", "is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens[userID] {
		if t == token {
			return nil
		}
	}
	s.tokens[userID] = append(s.tokens[userID], token)
	return nil
}

// TokensFor returns the device tokens registered for userID.
func (s *Store) TokensFor(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens[userID]...), nil
}
