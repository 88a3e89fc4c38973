package workflow

import (
	"context"
	"time"

	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
)

// DayRange is a half-open [From, To) interval of one property-local day.
type DayRange struct {
	From time.Time
	To   time.Time
}

// BuildFunc constructs a new booking while the property row is locked.
// sameDay holds the property's visits within InsertSpec.VisitDay.
type BuildFunc func(prop lifecycle.Property, sameDay []lifecycle.Booking) (lifecycle.Creation, error)

// InsertSpec describes one atomic booking creation.
type InsertSpec struct {
	PropertyID int64
	// VisitDay, when set, loads the day's visits under the property lock so
	// Build can refuse an occupied slot.
	VisitDay *DayRange
	Build    BuildFunc
}

// MutateFunc applies a transition to a locked snapshot of the booking.
type MutateFunc func(b *lifecycle.Booking, prop lifecycle.Property) (lifecycle.Effects, error)

// Store persists bookings. Every method is one atomic unit; Mutate holds a
// per-booking lock (and a lock on the referenced property) for its duration.
type Store interface {
	Insert(ctx context.Context, spec InsertSpec) (*lifecycle.Booking, lifecycle.Effects, error)
	Get(ctx context.Context, id int64) (*lifecycle.Booking, lifecycle.Property, error)
	Mutate(ctx context.Context, id int64, fn MutateFunc) (*lifecycle.Booking, lifecycle.Effects, lifecycle.Property, error)
	List(ctx context.Context, f lifecycle.ListFilter) ([]lifecycle.Booking, error)
	VisitsBetween(ctx context.Context, propertyID int64, from, to time.Time) ([]lifecycle.Booking, error)
	Delete(ctx context.Context, id int64, check func(b *lifecycle.Booking, prop lifecycle.Property) error) error
	Payments(ctx context.Context, bookingID int64) ([]lifecycle.Payment, error)
	Messages(ctx context.Context, bookingID int64) ([]lifecycle.Message, error)
}

// Properties is the read side of the listing directory.
type Properties interface {
	Property(ctx context.Context, id int64) (lifecycle.Property, error)
}

// Notifier receives committed events. It must not block.
type Notifier interface {
	Notify(kind lifecycle.Event, b lifecycle.Booking, ownerID int64)
}

// PaymentLedger is the ledger surface the engine depends on.
type PaymentLedger interface {
	Issue(ctx context.Context, bookingID int64, amount money.Money, currency string) (*ledger.Issued, error)
	Current(ctx context.Context, bookingID int64) (*ledger.Descriptor, error)
	CheckStatus(ctx context.Context, hash string) ledger.Result
	CheckBulk(ctx context.Context, hashes []string) ledger.BulkResult
	Outstanding(ctx context.Context, limit int) ([]ledger.Descriptor, error)
}

// Logger provides minimal logging required by the engine.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
