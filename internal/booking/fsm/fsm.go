package fsm

import (
	"context"
	"database/sql"
	"errors"
)

// Status is the lifecycle state of a booking.
type Status string

// Status constants used by the booking state machine.
const (
	StatusPending       Status = "pending"
	StatusPendingReview Status = "pending_review"
	StatusConfirmed     Status = "confirmed"
	StatusCompleted     Status = "completed"
	StatusCheckedOut    Status = "checked_out"
	StatusCancelled     Status = "cancelled"
	StatusRejected      Status = "rejected"
)

// Kind distinguishes rental reservations from viewing visits.
type Kind string

const (
	KindRental Kind = "rental"
	KindVisit  Kind = "visit"
)

// Role is the role carried by an authenticated identity.
type Role string

const (
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusPendingReview: {},
		StatusConfirmed:     {},
		StatusCancelled:     {},
		StatusRejected:      {},
	},
	StatusPendingReview: {
		StatusConfirmed: {},
		StatusCancelled: {},
		StatusRejected:  {},
	},
	StatusConfirmed: {
		StatusCompleted: {},
		StatusCancelled: {},
		StatusRejected:  {},
	},
	StatusCompleted: {
		StatusCheckedOut: {},
	},
	StatusCheckedOut: {},
	StatusCancelled:  {},
	StatusRejected:   {},
}

// ErrStatusChanged is returned by Apply when the row no longer holds the expected status.
var ErrStatusChanged = errors.New("booking status changed")

// CanTransition returns whether the status graph has an edge from -> to.
// Unlike a self-loop tolerant graph, from == to is never a transition.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further status change is possible for kind.
func (s Status) IsTerminal(kind Kind) bool {
	switch s {
	case StatusCancelled, StatusRejected, StatusCheckedOut:
		return true
	case StatusCompleted:
		return kind == KindVisit
	}
	return false
}

// Valid reports whether k is a known booking kind.
func (k Kind) Valid() bool {
	return k == KindRental || k == KindVisit
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleRenter || r == RoleOwner || r == RoleAdmin
}

// OccupiesSlot reports whether a visit in status s blocks its availability slot.
func OccupiesSlot(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

// Apply updates a booking status using optimistic validation inside tx.
// rebind converts the '?' placeholders for the driver in use; nil keeps them.
// ErrStatusChanged means another writer moved the booking first.
func Apply(ctx context.Context, tx *sql.Tx, rebind func(string) string, bookingID int64, from, to Status) error {
	if !CanTransition(from, to) {
		return errors.New("invalid status transition")
	}
	query := `UPDATE bookings SET status = ? WHERE id = ? AND status = ?`
	if rebind != nil {
		query = rebind(query)
	}
	res, err := tx.ExecContext(ctx, query, string(to), bookingID, string(from))
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStatusChanged
	}
	return nil
}
