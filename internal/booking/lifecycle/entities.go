package lifecycle

import (
	"time"

	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/money"
)

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   int64    `json:"id"`
	Role fsm.Role `json:"role"`
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool { return a.Role == fsm.RoleAdmin }

// SystemActor is used by background reconciliation.
var SystemActor = Actor{ID: 0, Role: fsm.RoleAdmin}

// Property is the slice of the listing directory the engine depends on.
type Property struct {
	ID          int64  `json:"id"`
	OwnerID     int64  `json:"owner_id"`
	Title       string `json:"title,omitempty"`
	IsAvailable bool   `json:"is_available"`
}

// PaymentStatus is the state of a single payment attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is one payment attempt against a booking.
type Payment struct {
	ID              int64         `json:"id"`
	BookingID       int64         `json:"booking_id"`
	PayerID         int64         `json:"payer_id"`
	Amount          money.Money   `json:"amount"`
	Currency        string        `json:"currency"`
	Method          PaymentMethod `json:"method"`
	Status          PaymentStatus `json:"status"`
	TransactionID   string        `json:"transaction_id,omitempty"`
	ProofRef        string        `json:"proof_ref,omitempty"`
	CorrelationHash string        `json:"correlation_hash,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Message is a note delivered between renter and owner about a booking.
type Message struct {
	ID         string    `json:"id"`
	BookingID  int64     `json:"booking_id"`
	PropertyID int64     `json:"property_id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event names a notification emitted after a committed transition.
type Event string

const (
	EventNone            Event = ""
	EventConfirmed       Event = "booking_confirmed"
	EventRejected        Event = "booking_rejected"
	EventCancelled       Event = "booking_cancelled"
	EventRentalCompleted Event = "booking_completed"
	EventVisitCompleted  Event = "visit_completed"
	EventCheckedOut      Event = "booking_checked_out"
	EventVisitRequested  Event = "visit_requested"
)

// Effects are the side effects a transition requires inside the same atomic unit.
type Effects struct {
	// PropertyAvailable, when set, updates the property's availability flag.
	PropertyAvailable *bool
	// Messages are inserted with the booking write.
	Messages []Message
	// NewPayment is inserted with the booking write.
	NewPayment *Payment
	// CompletePendingPayments marks the booking's pending payment attempts completed.
	CompletePendingPayments bool
	// Event is dispatched after commit.
	Event Event
}

func boolPtr(v bool) *bool { return &v }
