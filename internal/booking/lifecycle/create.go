package lifecycle

import (
	"strings"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/money"
)

// RentalRequest carries the renter's input for a rental reservation.
type RentalRequest struct {
	PropertyID    int64       `json:"property_id"`
	StartDate     time.Time   `json:"start_date"`
	EndDate       *time.Time  `json:"end_date,omitempty"`
	MonthlyRent   money.Money `json:"monthly_rent"`
	DepositAmount money.Money `json:"deposit_amount"`
	TotalAmount   money.Money `json:"total_amount"`
	Message       string      `json:"message"`
	ContactPhone  string      `json:"contact_phone"`
	MemberCount   int         `json:"member_count"`
}

// VisitRequest carries the renter's input for a viewing visit.
type VisitRequest struct {
	PropertyID   int64     `json:"property_id"`
	VisitTime    time.Time `json:"visit_time"`
	Message      string    `json:"message"`
	ContactPhone string    `json:"contact_phone"`
	MemberCount  int       `json:"member_count"`
}

// PaymentRequest creates a booking together with its first payment attempt.
type PaymentRequest struct {
	Kind            fsm.Kind      `json:"kind"`
	Rental          RentalRequest `json:"rental"`
	Visit           VisitRequest  `json:"visit"`
	Method          PaymentMethod `json:"method"`
	Amount          money.Money   `json:"amount"`
	Currency        string        `json:"currency"`
	TransactionID   string        `json:"transaction_id"`
	ProofRef        string        `json:"transaction_proof_ref"`
	CorrelationHash string        `json:"payment_correlation_hash"`
}

// Creation is the result of building a new booking: the aggregate plus
// the rows that must be written in the same atomic unit.
type Creation struct {
	Booking *Booking
	Effects Effects
	// SlotGuarded reports whether the visit time must be checked against
	// concurrently created visits before insertion.
	SlotGuarded bool
}

func (s *Service) checkCreator(actor Actor, prop Property) error {
	if actor.ID == 0 {
		return apperr.Forbidden("anonymous actors cannot create bookings")
	}
	if actor.ID == prop.OwnerID {
		return apperr.Forbidden("owners cannot book their own property")
	}
	return nil
}

func normalizeMembers(n int) (int, error) {
	if n == 0 {
		return 1, nil
	}
	if n < 0 {
		return 0, apperr.Validation("member_count", "must be at least 1")
	}
	return n, nil
}

// NewRental validates req and builds a pending rental.
func (s *Service) NewRental(req RentalRequest, actor Actor, prop Property, now time.Time) (Creation, error) {
	if err := s.checkCreator(actor, prop); err != nil {
		return Creation{}, err
	}
	if !prop.IsAvailable {
		return Creation{}, apperr.Conflict("property %d is not available", prop.ID)
	}
	b, err := s.buildRental(req, actor, prop, now)
	if err != nil {
		return Creation{}, err
	}
	return Creation{Booking: b}, nil
}

func (s *Service) buildRental(req RentalRequest, actor Actor, prop Property, now time.Time) (*Booking, error) {
	if req.StartDate.IsZero() {
		return nil, apperr.Validation("start_date", "is required")
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return nil, apperr.Validation("end_date", "must be after start_date")
	}
	if req.MonthlyRent < 0 || req.DepositAmount < 0 || req.TotalAmount < 0 {
		return nil, apperr.Validation("amount", "must not be negative")
	}
	members, err := normalizeMembers(req.MemberCount)
	if err != nil {
		return nil, err
	}
	total := req.TotalAmount
	if total.IsZero() {
		total = req.MonthlyRent + req.DepositAmount
	}
	return &Booking{
		PropertyID:    prop.ID,
		RenterID:      actor.ID,
		Kind:          fsm.KindRental,
		Status:        fsm.StatusPending,
		StartDate:     req.StartDate,
		EndDate:       cloneTime(req.EndDate),
		CreatedAt:     now,
		UpdatedAt:     now,
		MonthlyRent:   req.MonthlyRent,
		DepositAmount: req.DepositAmount,
		TotalAmount:   total,
		Message:       strings.TrimSpace(req.Message),
		ContactPhone:  strings.TrimSpace(req.ContactPhone),
		MemberCount:   members,
	}, nil
}

// NewVisit validates req and builds a pending visit plus the viewing
// request message for the owner.
func (s *Service) NewVisit(req VisitRequest, actor Actor, prop Property, now time.Time) (Creation, error) {
	if err := s.checkCreator(actor, prop); err != nil {
		return Creation{}, err
	}
	b, err := s.buildVisit(req, actor, prop, now)
	if err != nil {
		return Creation{}, err
	}
	msg := s.newMessage(b, actor.ID, prop.OwnerID, s.visitText(b), now)
	return Creation{
		Booking:     b,
		Effects:     Effects{Messages: []Message{msg}, Event: EventVisitRequested},
		SlotGuarded: true,
	}, nil
}

func (s *Service) buildVisit(req VisitRequest, actor Actor, prop Property, now time.Time) (*Booking, error) {
	if req.VisitTime.IsZero() {
		return nil, apperr.Validation("visit_time", "is required")
	}
	if !req.VisitTime.After(now) {
		return nil, apperr.Validation("visit_time", "must be in the future")
	}
	members, err := normalizeMembers(req.MemberCount)
	if err != nil {
		return nil, err
	}
	local := req.VisitTime.In(s.cfg.Location)
	visit := req.VisitTime
	return &Booking{
		PropertyID:   prop.ID,
		RenterID:     actor.ID,
		Kind:         fsm.KindVisit,
		Status:       fsm.StatusPending,
		StartDate:    time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location),
		VisitTime:    &visit,
		CreatedAt:    now,
		UpdatedAt:    now,
		Message:      strings.TrimSpace(req.Message),
		ContactPhone: strings.TrimSpace(req.ContactPhone),
		MemberCount:  members,
	}, nil
}

func (s *Service) visitText(b *Booking) string {
	text := "Viewing request for " + b.VisitTime.In(s.cfg.Location).Format("2006-01-02 15:04") + "."
	if b.Message != "" {
		text += " " + b.Message
	}
	return text
}

// NewWithPayment builds a booking that arrives with payment evidence.
// An uploaded receipt puts it under review; a QR correlation hash means the
// payment was verified before the booking was recorded, so it starts confirmed.
func (s *Service) NewWithPayment(req PaymentRequest, actor Actor, prop Property, now time.Time) (Creation, error) {
	if err := s.checkCreator(actor, prop); err != nil {
		return Creation{}, err
	}
	if req.Amount < 0 {
		return Creation{}, apperr.Validation("amount", "must not be negative")
	}
	var (
		b   *Booking
		err error
	)
	switch req.Kind {
	case fsm.KindRental:
		if !prop.IsAvailable {
			return Creation{}, apperr.Conflict("property %d is not available", prop.ID)
		}
		b, err = s.buildRental(req.Rental, actor, prop, now)
	case fsm.KindVisit:
		b, err = s.buildVisit(req.Visit, actor, prop, now)
	default:
		return Creation{}, apperr.Validation("kind", "must be rental or visit")
	}
	if err != nil {
		return Creation{}, err
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = b.TotalAmount
	}
	pay := &Payment{
		PayerID:       actor.ID,
		Amount:        amount,
		Currency:      s.currency(req.Currency),
		Method:        req.Method,
		TransactionID: strings.TrimSpace(req.TransactionID),
		CreatedAt:     now,
	}
	c := Creation{Booking: b, SlotGuarded: b.Kind == fsm.KindVisit}
	switch req.Method {
	case PaymentMethodUpload:
		ref := strings.TrimSpace(req.ProofRef)
		if ref == "" {
			return Creation{}, apperr.Validation("transaction_proof", "is required for upload payments")
		}
		b.Status = fsm.StatusPendingReview
		b.PaymentMethod = PaymentMethodUpload
		b.TransactionProofRef = ref
		b.TransactionSubmittedAt = &now
		pay.Status = PaymentPending
		pay.ProofRef = ref
	case PaymentMethodQRCorrelation:
		hash := strings.ToLower(strings.TrimSpace(req.CorrelationHash))
		if hash == "" {
			return Creation{}, apperr.Validation("payment_correlation_hash", "is required for QR payments")
		}
		b.Status = fsm.StatusConfirmed
		b.ConfirmedAt = &now
		b.PaymentMethod = PaymentMethodQRCorrelation
		b.PaymentCorrelationHash = hash
		pay.Status = PaymentCompleted
		pay.CorrelationHash = hash
		pay.CompletedAt = &now
		c.Effects.Event = EventConfirmed
		if b.Kind == fsm.KindRental {
			c.Effects.PropertyAvailable = boolPtr(false)
		}
	default:
		return Creation{}, apperr.Validation("method", "must be upload or qr_correlation")
	}
	c.Effects.NewPayment = pay
	if b.Kind == fsm.KindVisit {
		c.Effects.Messages = []Message{s.newMessage(b, actor.ID, prop.OwnerID, s.visitText(b), now)}
	}
	return c, nil
}
