package workflow

import (
	"context"
	"errors"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
	"housingBack/internal/booking/schedule"
)

// MaxStatusBatch bounds a single bulk status request from a client.
const MaxStatusBatch = 500

// Deps are the collaborators of an Engine.
type Deps struct {
	Store      Store
	Properties Properties
	Service    *lifecycle.Service
	Grid       *schedule.Grid
	Ledger     PaymentLedger
	Notifier   Notifier
	Logger     Logger
	Now        func() time.Time
}

// Engine runs every booking operation as one atomic unit and publishes
// notifications once the unit has committed.
type Engine struct {
	store    Store
	props    Properties
	svc      *lifecycle.Service
	grid     *schedule.Grid
	ledger   PaymentLedger
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// New validates deps and constructs an Engine.
func New(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("workflow: store is required")
	}
	if deps.Properties == nil {
		return nil, errors.New("workflow: property directory is required")
	}
	if deps.Service == nil {
		return nil, errors.New("workflow: lifecycle service is required")
	}
	if deps.Grid == nil {
		return nil, errors.New("workflow: slot grid is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("workflow: payment ledger is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("workflow: logger is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		store:    deps.Store,
		props:    deps.Properties,
		svc:      deps.Service,
		grid:     deps.Grid,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      deps.Now,
	}, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(lifecycle.Event, lifecycle.Booking, int64) {}

func (e *Engine) publish(kind lifecycle.Event, b *lifecycle.Booking, prop lifecycle.Property) {
	if kind == lifecycle.EventNone || b == nil {
		return
	}
	e.notifier.Notify(kind, *b, prop.OwnerID)
}

func (e *Engine) create(ctx context.Context, propertyID int64, visitAt *time.Time, build func(prop lifecycle.Property, now time.Time) (lifecycle.Creation, error)) (*lifecycle.Booking, error) {
	if propertyID <= 0 {
		return nil, apperr.Validation("property_id", "is required")
	}
	spec := InsertSpec{PropertyID: propertyID}
	if visitAt != nil && !visitAt.IsZero() {
		from, to := e.grid.DayBounds(*visitAt)
		spec.VisitDay = &DayRange{From: from, To: to}
	}
	now := e.now()
	spec.Build = func(prop lifecycle.Property, sameDay []lifecycle.Booking) (lifecycle.Creation, error) {
		c, err := build(prop, now)
		if err != nil {
			return c, err
		}
		if c.SlotGuarded {
			if err := e.grid.CheckFree(c.Booking, sameDay); err != nil {
				return c, err
			}
		}
		return c, c.Booking.Validate()
	}
	b, eff, err := e.store.Insert(ctx, spec)
	if err != nil {
		return nil, err
	}
	prop, err := e.props.Property(ctx, b.PropertyID)
	if err != nil {
		e.logger.Errorf("load property %d for notification: %v", b.PropertyID, err)
		return b, nil
	}
	e.publish(eff.Event, b, prop)
	return b, nil
}

// CreateRental records a pending rental reservation.
func (e *Engine) CreateRental(ctx context.Context, actor lifecycle.Actor, req lifecycle.RentalRequest) (*lifecycle.Booking, error) {
	return e.create(ctx, req.PropertyID, nil, func(prop lifecycle.Property, now time.Time) (lifecycle.Creation, error) {
		return e.svc.NewRental(req, actor, prop, now)
	})
}

// CreateVisit records a pending viewing visit. The slot check and insert
// happen in the same unit so two renters cannot take one slot.
func (e *Engine) CreateVisit(ctx context.Context, actor lifecycle.Actor, req lifecycle.VisitRequest) (*lifecycle.Booking, error) {
	return e.create(ctx, req.PropertyID, &req.VisitTime, func(prop lifecycle.Property, now time.Time) (lifecycle.Creation, error) {
		return e.svc.NewVisit(req, actor, prop, now)
	})
}

func paymentTarget(req lifecycle.PaymentRequest) (int64, *time.Time) {
	if req.Kind == fsm.KindVisit {
		return req.Visit.PropertyID, &req.Visit.VisitTime
	}
	return req.Rental.PropertyID, nil
}

// CreateWithPayment records a booking together with its first payment attempt.
func (e *Engine) CreateWithPayment(ctx context.Context, actor lifecycle.Actor, req lifecycle.PaymentRequest) (*lifecycle.Booking, error) {
	propertyID, visitAt := paymentTarget(req)
	return e.create(ctx, propertyID, visitAt, func(prop lifecycle.Property, now time.Time) (lifecycle.Creation, error) {
		return e.svc.NewWithPayment(req, actor, prop, now)
	})
}

// CheckCreateWithPayment runs the checks of CreateWithPayment without
// recording anything, so handlers can refuse a request before storing its
// upload. The slot check is repeated under the property lock on create.
func (e *Engine) CheckCreateWithPayment(ctx context.Context, actor lifecycle.Actor, req lifecycle.PaymentRequest) error {
	propertyID, visitAt := paymentTarget(req)
	if propertyID <= 0 {
		return apperr.Validation("property_id", "is required")
	}
	prop, err := e.props.Property(ctx, propertyID)
	if err != nil {
		return err
	}
	c, err := e.svc.NewWithPayment(req, actor, prop, e.now())
	if err != nil {
		return err
	}
	if c.SlotGuarded && visitAt != nil && !visitAt.IsZero() {
		from, to := e.grid.DayBounds(*visitAt)
		sameDay, err := e.store.VisitsBetween(ctx, propertyID, from, to)
		if err != nil {
			return err
		}
		if err := e.grid.CheckFree(c.Booking, sameDay); err != nil {
			return err
		}
	}
	return c.Booking.Validate()
}

// transition runs fn on the locked booking and publishes the resulting event.
func (e *Engine) transition(ctx context.Context, id int64, fn func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error)) (*lifecycle.Booking, error) {
	now := e.now()
	b, eff, prop, err := e.store.Mutate(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property) (lifecycle.Effects, error) {
		eff, err := fn(b, prop, now)
		if err != nil {
			return eff, err
		}
		return eff, b.Validate()
	})
	if err != nil {
		return nil, err
	}
	e.publish(eff.Event, b, prop)
	return b, nil
}

// Confirm accepts a pending booking.
func (e *Engine) Confirm(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.Confirm(b, actor, prop, now)
	})
}

// Reject declines a booking with a reason relayed to the renter.
func (e *Engine) Reject(ctx context.Context, actor lifecycle.Actor, id int64, reason string) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.Reject(b, actor, prop, reason, now)
	})
}

// Cancel withdraws a pending booking within the cancellation window.
func (e *Engine) Cancel(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.Cancel(b, actor, prop, now)
	})
}

// Complete marks a confirmed booking as fulfilled.
func (e *Engine) Complete(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.Complete(b, actor, prop, now)
	})
}

// Checkout closes a completed rental.
func (e *Engine) Checkout(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.Checkout(b, actor, prop, now)
	})
}

// Hide removes a completed rental from the owner's views.
func (e *Engine) Hide(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.Hide(b, actor, prop, now)
	})
}

// Restore brings a hidden booking back. Admin only.
func (e *Engine) Restore(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.Restore(b, actor, prop, now)
	})
}

// SubmitProof attaches an uploaded receipt and moves the booking under review.
func (e *Engine) SubmitProof(ctx context.Context, actor lifecycle.Actor, id int64, proofRef string, amount money.Money, currency string) (*lifecycle.Booking, error) {
	return e.transition(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.SubmitProof(b, actor, prop, proofRef, amount, currency, now)
	})
}

// Authorize reports whether actor may perform action on booking id without
// changing it. Used by handlers that do work (uploads) before the transition.
func (e *Engine) Authorize(ctx context.Context, actor lifecycle.Actor, id int64, action fsm.Action) error {
	b, prop, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = e.svc.Authorize(action, actor, b, prop)
	return err
}

// Delete physically removes a booking with its payments, messages and
// descriptors.
func (e *Engine) Delete(ctx context.Context, actor lifecycle.Actor, id int64) error {
	return e.store.Delete(ctx, id, func(b *lifecycle.Booking, prop lifecycle.Property) error {
		return e.svc.CheckDelete(b, actor, prop)
	})
}

// Get returns a booking visible to actor. Bookings the actor may not see
// are reported as missing.
func (e *Engine) Get(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
	b, prop, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanView(actor, b, prop) {
		return nil, apperr.NotFound("booking", id)
	}
	return b, nil
}

// Payments lists the payment attempts of a booking visible to actor.
func (e *Engine) Payments(ctx context.Context, actor lifecycle.Actor, id int64) ([]lifecycle.Payment, error) {
	if _, err := e.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return e.store.Payments(ctx, id)
}

// Messages lists the notes exchanged about a booking visible to actor.
func (e *Engine) Messages(ctx context.Context, actor lifecycle.Actor, id int64) ([]lifecycle.Message, error) {
	if _, err := e.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return e.store.Messages(ctx, id)
}

// List returns the bookings actor may see, narrowed by f and view.
func (e *Engine) List(ctx context.Context, actor lifecycle.Actor, f lifecycle.ListFilter, view lifecycle.View) ([]lifecycle.Booking, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, apperr.Validation("kind", "must be rental or visit")
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return nil, apperr.Validation("status", "unknown status %q", s)
		}
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return e.store.List(ctx, lifecycle.ScopeFor(actor, f, view))
}

// Availability computes the slot grid of a property for one local date.
func (e *Engine) Availability(ctx context.Context, propertyID int64, date time.Time) (schedule.Availability, error) {
	if propertyID <= 0 {
		return schedule.Availability{}, apperr.Validation("property_id", "is required")
	}
	if _, err := e.props.Property(ctx, propertyID); err != nil {
		return schedule.Availability{}, err
	}
	from, to := e.grid.DayBounds(date)
	visits, err := e.store.VisitsBetween(ctx, propertyID, from, to)
	if err != nil {
		return schedule.Availability{}, err
	}
	return e.grid.Compute(propertyID, date, visits), nil
}

// Location is the zone availability dates are interpreted in.
func (e *Engine) Location() *time.Location {
	return e.grid.Location()
}
