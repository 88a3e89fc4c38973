package lifecycle

import "housingBack/internal/booking/fsm"

// View selects one of the owner-facing projections.
type View string

const (
	ViewAll             View = ""
	ViewActiveCustomers View = "active"
	ViewHistory         View = "history"
)

// ListFilter narrows a booking listing. Zero values do not filter.
type ListFilter struct {
	RenterID   int64
	OwnerID    int64
	PropertyID int64
	Kind       fsm.Kind
	Statuses   []fsm.Status
	Hidden     *bool
	CheckedOut *bool
	Limit      int
	Offset     int
}

// ScopeFor restricts f to what actor may see and applies view semantics.
// Admins see every booking including hidden ones; owners never see hidden
// bookings; renters see their own.
func ScopeFor(actor Actor, f ListFilter, view View) ListFilter {
	switch {
	case actor.IsAdmin():
	case actor.Role == fsm.RoleOwner:
		f.OwnerID = actor.ID
		f.RenterID = 0
		f.Hidden = boolPtr(false)
	default:
		f.RenterID = actor.ID
		f.OwnerID = 0
	}
	switch view {
	case ViewActiveCustomers:
		f.Kind = fsm.KindRental
		f.Statuses = []fsm.Status{fsm.StatusConfirmed, fsm.StatusCompleted}
		f.CheckedOut = boolPtr(false)
	case ViewHistory:
		f.Kind = fsm.KindRental
		f.Statuses = nil
		f.CheckedOut = boolPtr(true)
	}
	return f
}

// Matches reports whether b (on prop) passes f. Stores without a query
// language use it directly.
func (f ListFilter) Matches(b *Booking, prop Property) bool {
	if f.RenterID != 0 && b.RenterID != f.RenterID {
		return false
	}
	if f.OwnerID != 0 && prop.OwnerID != f.OwnerID {
		return false
	}
	if f.PropertyID != 0 && b.PropertyID != f.PropertyID {
		return false
	}
	if f.Kind != "" && b.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == b.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Hidden != nil && b.HiddenByOwner != *f.Hidden {
		return false
	}
	if f.CheckedOut != nil && (b.CheckedOutAt != nil) != *f.CheckedOut {
		return false
	}
	return true
}
