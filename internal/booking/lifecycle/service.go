package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/money"
)

// ErrCancelWindowElapsed is returned when a renter cancels too late.
var ErrCancelWindowElapsed = &apperr.Error{
	Kind:    apperr.KindInvalidTransition,
	Code:    "cancel_window_elapsed",
	Message: "cancellation window elapsed",
}

// Service encapsulates business operations for the booking lifecycle.
// Methods mutate the booking in place and return the side effects the
// caller must persist in the same atomic unit.
type Service struct {
	cfg Config
}

// NewService constructs a Service instance.
func NewService(cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &Service{cfg: cfg}
}

// Config returns copy of the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Capabilities derives what actor may do on b.
func Capabilities(actor Actor, b *Booking, prop Property) fsm.Capability {
	var caps fsm.Capability
	if actor.IsAdmin() {
		caps |= fsm.CapAdmin
	}
	if actor.ID != 0 && actor.ID == b.RenterID {
		caps |= fsm.CapRenter
	}
	if actor.ID != 0 && actor.ID == prop.OwnerID {
		caps |= fsm.CapOwner
	}
	return caps
}

// Authorize evaluates the fixed transition table for action once.
// Capability is checked before status so callers without access learn nothing.
func (s *Service) Authorize(action fsm.Action, actor Actor, b *Booking, prop Property) (fsm.Rule, error) {
	rule, ok := fsm.Lookup(action)
	if !ok {
		return fsm.Rule{}, fmt.Errorf("unknown action %q", action)
	}
	caps := Capabilities(actor, b, prop)
	if !caps.Any(rule.Actors) {
		return rule, apperr.Forbidden("not permitted to %s booking %d", action, b.ID)
	}
	if !rule.AllowsKind(b.Kind) {
		return rule, apperr.InvalidTransition("cannot %s a %s booking", action, b.Kind)
	}
	if !rule.AllowsFrom(b.Status) {
		return rule, apperr.InvalidTransition("cannot %s booking %d: status is %s", action, b.ID, b.Status)
	}
	return rule, nil
}

// CanView reports whether actor may read b. Hidden bookings disappear
// from the owner's perspective until an admin restores them.
func CanView(actor Actor, b *Booking, prop Property) bool {
	caps := Capabilities(actor, b, prop)
	if caps.Has(fsm.CapAdmin) || caps.Has(fsm.CapRenter) {
		return true
	}
	return caps.Has(fsm.CapOwner) && !b.HiddenByOwner
}

// Confirm accepts a pending booking.
func (s *Service) Confirm(b *Booking, actor Actor, prop Property, now time.Time) (Effects, error) {
	rule, err := s.Authorize(fsm.ActionConfirm, actor, b, prop)
	if err != nil {
		return Effects{}, err
	}
	b.setStatus(rule.To, now)
	b.ConfirmedAt = &now
	eff := Effects{CompletePendingPayments: true, Event: EventConfirmed}
	if b.Kind == fsm.KindRental {
		eff.PropertyAvailable = boolPtr(false)
	}
	return eff, nil
}

// Reject declines a booking with a mandatory reason that is relayed to the renter.
func (s *Service) Reject(b *Booking, actor Actor, prop Property, reason string, now time.Time) (Effects, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Effects{}, apperr.Validation("reason", "is required")
	}
	rule, err := s.Authorize(fsm.ActionReject, actor, b, prop)
	if err != nil {
		return Effects{}, err
	}
	b.setStatus(rule.To, now)
	b.OwnerNotes = reason
	msg := s.newMessage(b, actor.ID, b.RenterID, rejectionText(b.Kind, reason), now)
	return Effects{Messages: []Message{msg}, Event: EventRejected}, nil
}

func rejectionText(kind fsm.Kind, reason string) string {
	if kind == fsm.KindVisit {
		return "Viewing request rejected: " + reason
	}
	return "Booking request rejected: " + reason
}

// Cancel withdraws a pending booking within the cancellation window.
func (s *Service) Cancel(b *Booking, actor Actor, prop Property, now time.Time) (Effects, error) {
	rule, err := s.Authorize(fsm.ActionCancel, actor, b, prop)
	if err != nil {
		return Effects{}, err
	}
	if b.Status != fsm.StatusPending {
		return Effects{}, apperr.InvalidTransition("cannot cancel booking %d: status is %s", b.ID, b.Status)
	}
	if now.Sub(b.CreatedAt) > s.cfg.CancelWindow {
		return Effects{}, ErrCancelWindowElapsed
	}
	b.setStatus(rule.To, now)
	return Effects{Event: EventCancelled}, nil
}

// Complete marks a confirmed booking as fulfilled.
func (s *Service) Complete(b *Booking, actor Actor, prop Property, now time.Time) (Effects, error) {
	rule, err := s.Authorize(fsm.ActionComplete, actor, b, prop)
	if err != nil {
		return Effects{}, err
	}
	b.setStatus(rule.To, now)
	b.CompletedAt = &now
	if b.Kind == fsm.KindRental {
		b.CheckedOutAt = nil
		return Effects{Event: EventRentalCompleted}, nil
	}
	return Effects{Event: EventVisitCompleted}, nil
}

// Checkout moves a completed rental into the owner's history.
func (s *Service) Checkout(b *Booking, actor Actor, prop Property, now time.Time) (Effects, error) {
	rule, err := s.Authorize(fsm.ActionCheckout, actor, b, prop)
	if err != nil {
		return Effects{}, err
	}
	if b.HiddenByOwner {
		return Effects{}, apperr.InvalidTransition("cannot checkout booking %d: booking is hidden", b.ID)
	}
	b.setStatus(rule.To, now)
	b.CheckedOutAt = &now
	b.CompletedAt = &now
	return Effects{Event: EventCheckedOut}, nil
}

// Hide removes a completed rental from owner-facing views.
func (s *Service) Hide(b *Booking, actor Actor, prop Property, now time.Time) (Effects, error) {
	if _, err := s.Authorize(fsm.ActionHide, actor, b, prop); err != nil {
		return Effects{}, err
	}
	if b.HiddenByOwner {
		return Effects{}, apperr.InvalidTransition("booking %d is already hidden", b.ID)
	}
	b.HiddenByOwner = true
	b.UpdatedAt = now
	return Effects{}, nil
}

// Restore clears the hidden flag. Admin only.
func (s *Service) Restore(b *Booking, actor Actor, prop Property, now time.Time) (Effects, error) {
	if _, err := s.Authorize(fsm.ActionRestore, actor, b, prop); err != nil {
		return Effects{}, err
	}
	if !b.HiddenByOwner {
		return Effects{}, apperr.InvalidTransition("booking %d is not hidden", b.ID)
	}
	b.HiddenByOwner = false
	b.UpdatedAt = now
	return Effects{}, nil
}

// SubmitProof attaches a receipt to a pending booking and puts it under review.
func (s *Service) SubmitProof(b *Booking, actor Actor, prop Property, proofRef string, amount money.Money, currency string, now time.Time) (Effects, error) {
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return Effects{}, apperr.Validation("transaction_proof", "is required")
	}
	if amount < 0 {
		return Effects{}, apperr.Validation("amount", "must not be negative")
	}
	rule, err := s.Authorize(fsm.ActionSubmitProof, actor, b, prop)
	if err != nil {
		return Effects{}, err
	}
	if amount.IsZero() {
		amount = b.TotalAmount
	}
	b.setStatus(rule.To, now)
	b.PaymentMethod = PaymentMethodUpload
	b.TransactionProofRef = proofRef
	b.TransactionSubmittedAt = &now
	pay := &Payment{
		BookingID: b.ID,
		PayerID:   actor.ID,
		Amount:    amount,
		Currency:  s.currency(currency),
		Method:    PaymentMethodUpload,
		Status:    PaymentPending,
		ProofRef:  proofRef,
		CreatedAt: now,
	}
	return Effects{NewPayment: pay}, nil
}

// ConfirmPaid confirms a booking whose correlation hash the ledger reported as paid.
// The hash is bound to the booking here and never changes afterwards.
func (s *Service) ConfirmPaid(b *Booking, actor Actor, prop Property, hash string, amount money.Money, currency string, now time.Time) (Effects, error) {
	if hash == "" {
		return Effects{}, apperr.Validation("payment_correlation_hash", "is required")
	}
	rule, err := s.Authorize(fsm.ActionReconcilePayment, actor, b, prop)
	if err != nil {
		return Effects{}, err
	}
	if b.PaymentCorrelationHash != "" && b.PaymentCorrelationHash != hash {
		return Effects{}, apperr.Conflict("booking %d is already bound to another payment", b.ID)
	}
	b.setStatus(rule.To, now)
	b.ConfirmedAt = &now
	b.PaymentMethod = PaymentMethodQRCorrelation
	b.PaymentCorrelationHash = hash
	pay := &Payment{
		BookingID:       b.ID,
		PayerID:         b.RenterID,
		Amount:          amount,
		Currency:        s.currency(currency),
		Method:          PaymentMethodQRCorrelation,
		Status:          PaymentCompleted,
		CorrelationHash: hash,
		CreatedAt:       now,
		CompletedAt:     &now,
	}
	eff := Effects{NewPayment: pay, CompletePendingPayments: true, Event: EventConfirmed}
	if b.Kind == fsm.KindRental {
		eff.PropertyAvailable = boolPtr(false)
	}
	return eff, nil
}

// CheckDescriptorIssuable guards payment descriptor issuance.
func (s *Service) CheckDescriptorIssuable(b *Booking, actor Actor, prop Property) error {
	_, err := s.Authorize(fsm.ActionIssueDescriptor, actor, b, prop)
	return err
}

// CheckDelete guards physical deletion.
func (s *Service) CheckDelete(b *Booking, actor Actor, prop Property) error {
	_, err := s.Authorize(fsm.ActionDelete, actor, b, prop)
	return err
}

func (s *Service) currency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return s.cfg.DefaultCurrency
	}
	return c
}

func (s *Service) newMessage(b *Booking, from, to int64, content string, now time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		BookingID:  b.ID,
		PropertyID: b.PropertyID,
		SenderID:   from,
		ReceiverID: to,
		Content:    content,
		CreatedAt:  now,
	}
}
