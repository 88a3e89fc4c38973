package fsm

// Action names a mutating operation on a booking.
type Action string

const (
	ActionConfirm          Action = "confirm"
	ActionReject           Action = "reject"
	ActionCancel           Action = "cancel"
	ActionComplete         Action = "complete"
	ActionCheckout         Action = "checkout"
	ActionHide             Action = "hide"
	ActionRestore          Action = "restore"
	ActionSubmitProof      Action = "submit_proof"
	ActionReconcilePayment Action = "reconcile_payment"
	ActionIssueDescriptor  Action = "issue_descriptor"
	ActionDelete           Action = "delete"
)

// Capability is the relationship an actor holds towards a specific booking.
type Capability uint8

const (
	CapRenter Capability = 1 << iota
	CapOwner
	CapAdmin
)

// Has reports whether c includes every bit of other.
func (c Capability) Has(other Capability) bool {
	return other != 0 && c&other == other
}

// Any reports whether c shares at least one bit with other.
func (c Capability) Any(other Capability) bool {
	return c&other != 0
}

// Rule is one row of the fixed transition table.
type Rule struct {
	// From lists statuses the action may start from. Empty means any status.
	From []Status
	// To is the resulting status. Empty for flag-only actions.
	To Status
	// Actors is the set of capabilities allowed to perform the action.
	Actors Capability
	// Kinds restricts the action to booking kinds. Empty means any kind.
	Kinds []Kind
}

var rules = map[Action]Rule{
	ActionConfirm: {
		From:   []Status{StatusPending, StatusPendingReview},
		To:     StatusConfirmed,
		Actors: CapOwner | CapAdmin,
	},
	ActionReject: {
		From:   []Status{StatusPending, StatusPendingReview, StatusConfirmed},
		To:     StatusRejected,
		Actors: CapOwner | CapAdmin,
	},
	ActionCancel: {
		From:   []Status{StatusPending, StatusPendingReview, StatusConfirmed},
		To:     StatusCancelled,
		Actors: CapRenter,
	},
	ActionComplete: {
		From:   []Status{StatusConfirmed},
		To:     StatusCompleted,
		Actors: CapOwner | CapAdmin,
	},
	ActionCheckout: {
		From:   []Status{StatusCompleted},
		To:     StatusCheckedOut,
		Actors: CapOwner | CapAdmin,
		Kinds:  []Kind{KindRental},
	},
	ActionHide: {
		From:   []Status{StatusCompleted},
		Actors: CapOwner,
		Kinds:  []Kind{KindRental},
	},
	ActionRestore: {
		Actors: CapAdmin,
	},
	ActionSubmitProof: {
		From:   []Status{StatusPending},
		To:     StatusPendingReview,
		Actors: CapRenter,
	},
	ActionReconcilePayment: {
		From:   []Status{StatusPending, StatusPendingReview},
		To:     StatusConfirmed,
		Actors: CapOwner | CapAdmin,
	},
	ActionIssueDescriptor: {
		From:   []Status{StatusPending, StatusPendingReview},
		Actors: CapRenter | CapAdmin,
	},
	ActionDelete: {
		Actors: CapOwner | CapAdmin,
	},
}

// Lookup returns the rule for action.
func Lookup(action Action) (Rule, bool) {
	r, ok := rules[action]
	return r, ok
}

// AllowsFrom reports whether the rule may start from status s.
func (r Rule) AllowsFrom(s Status) bool {
	if len(r.From) == 0 {
		return true
	}
	for _, f := range r.From {
		if f == s {
			return true
		}
	}
	return false
}

// AllowsKind reports whether the rule applies to bookings of kind k.
func (r Rule) AllowsKind(k Kind) bool {
	if len(r.Kinds) == 0 {
		return true
	}
	for _, allowed := range r.Kinds {
		if allowed == k {
			return true
		}
	}
	return false
}
