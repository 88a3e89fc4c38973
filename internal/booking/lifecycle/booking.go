package lifecycle

import (
	"fmt"
	"time"

	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/money"
)

// PaymentMethod identifies how a booking is being paid for.
type PaymentMethod string

const (
	PaymentMethodNone          PaymentMethod = ""
	PaymentMethodUpload        PaymentMethod = "upload"
	PaymentMethodQRCorrelation PaymentMethod = "qr_correlation"
)

// Valid reports whether m is a usable payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodUpload || m == PaymentMethodQRCorrelation
}

// Booking is the aggregate tracked by the lifecycle engine.
type Booking struct {
	ID         int64      `json:"id"`
	PropertyID int64      `json:"property_id"`
	RenterID   int64      `json:"renter_id"`
	Kind       fsm.Kind   `json:"kind"`
	Status     fsm.Status `json:"status"`

	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	VisitTime *time.Time `json:"visit_time,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty"`

	MonthlyRent   money.Money `json:"monthly_rent"`
	DepositAmount money.Money `json:"deposit_amount"`
	TotalAmount   money.Money `json:"total_amount"`

	PaymentMethod          PaymentMethod `json:"payment_method,omitempty"`
	TransactionProofRef    string        `json:"transaction_proof_ref,omitempty"`
	TransactionSubmittedAt *time.Time    `json:"transaction_submitted_at,omitempty"`
	PaymentCorrelationHash string        `json:"payment_correlation_hash,omitempty"`

	Message      string `json:"message,omitempty"`
	OwnerNotes   string `json:"owner_notes,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	MemberCount  int    `json:"member_count"`

	HiddenByOwner bool `json:"hidden_by_owner"`
}

// Clone returns a deep copy so callers can mutate without aliasing timestamps.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.EndDate = cloneTime(b.EndDate)
	c.VisitTime = cloneTime(b.VisitTime)
	c.ConfirmedAt = cloneTime(b.ConfirmedAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	c.CheckedOutAt = cloneTime(b.CheckedOutAt)
	c.TransactionSubmittedAt = cloneTime(b.TransactionSubmittedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (b *Booking) setStatus(to fsm.Status, now time.Time) {
	b.Status = to
	b.UpdatedAt = now
}

// Validate checks the structural invariants that must hold after every operation.
func (b *Booking) Validate() error {
	if !b.Kind.Valid() {
		return fmt.Errorf("booking %d: unknown kind %q", b.ID, b.Kind)
	}
	if !b.Status.Valid() {
		return fmt.Errorf("booking %d: unknown status %q", b.ID, b.Status)
	}
	switch b.Kind {
	case fsm.KindVisit:
		if b.EndDate != nil {
			return fmt.Errorf("booking %d: visit must not carry an end date", b.ID)
		}
		if !b.MonthlyRent.IsZero() || !b.DepositAmount.IsZero() {
			return fmt.Errorf("booking %d: visit must not carry rent or deposit", b.ID)
		}
		if b.VisitTime == nil {
			return fmt.Errorf("booking %d: visit requires a visit time", b.ID)
		}
	case fsm.KindRental:
		if b.StartDate.IsZero() {
			return fmt.Errorf("booking %d: rental requires a start date", b.ID)
		}
		if b.VisitTime != nil {
			return fmt.Errorf("booking %d: rental must not carry a visit time", b.ID)
		}
		if b.Status == fsm.StatusCompleted && b.CheckedOutAt != nil {
			return fmt.Errorf("booking %d: completed rental must not be checked out", b.ID)
		}
		if b.CheckedOutAt != nil && b.Status != fsm.StatusCheckedOut {
			return fmt.Errorf("booking %d: checked_out_at set while %s", b.ID, b.Status)
		}
	}
	if b.HiddenByOwner && b.Status != fsm.StatusCompleted {
		return fmt.Errorf("booking %d: hidden while %s", b.ID, b.Status)
	}
	if b.ConfirmedAt != nil && !passedConfirmation(b.Status) {
		return fmt.Errorf("booking %d: confirmed_at set while %s", b.ID, b.Status)
	}
	if b.ConfirmedAt == nil && mustHaveConfirmed(b.Status) {
		return fmt.Errorf("booking %d: %s without confirmed_at", b.ID, b.Status)
	}
	if b.MemberCount < 1 {
		return fmt.Errorf("booking %d: member count must be positive", b.ID)
	}
	return nil
}

// passedConfirmation reports statuses reachable after confirmed.
// Cancelled and rejected bookings may or may not have been confirmed.
func passedConfirmation(s fsm.Status) bool {
	switch s {
	case fsm.StatusConfirmed, fsm.StatusCompleted, fsm.StatusCheckedOut, fsm.StatusCancelled, fsm.StatusRejected:
		return true
	}
	return false
}

func mustHaveConfirmed(s fsm.Status) bool {
	switch s {
	case fsm.StatusConfirmed, fsm.StatusCompleted, fsm.StatusCheckedOut:
		return true
	}
	return false
}

// InActiveView reports membership in the owner's active-customers view.
func InActiveView(b *Booking) bool {
	if b.Kind != fsm.KindRental || b.CheckedOutAt != nil {
		return false
	}
	return b.Status == fsm.StatusConfirmed || b.Status == fsm.StatusCompleted
}

// InHistoryView reports membership in the owner's history view.
func InHistoryView(b *Booking) bool {
	return b.Kind == fsm.KindRental && b.CheckedOutAt != nil
}
