package workflow

import (
	"context"
	"errors"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
)

// IssueDescriptor issues (or reuses) the payment descriptor of a booking
// that is still awaiting payment. A zero amount falls back to the booking
// total.
func (e *Engine) IssueDescriptor(ctx context.Context, actor lifecycle.Actor, id int64, amount money.Money, currency string) (*ledger.Issued, error) {
	if amount < 0 {
		return nil, apperr.Validation("amount", "must not be negative")
	}
	b, prop, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.svc.CheckDescriptorIssuable(b, actor, prop); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		amount = b.TotalAmount
	}
	if amount.IsZero() {
		return nil, apperr.Validation("amount", "is required when the booking has no total")
	}
	if currency == "" {
		currency = e.svc.Config().DefaultCurrency
	}
	return e.ledger.Issue(ctx, b.ID, amount, currency)
}

// PaymentStatus reports the settlement status of hash. It never fails:
// an unreachable settlement source yields a degraded result.
func (e *Engine) PaymentStatus(ctx context.Context, hash string) ledger.Result {
	return e.ledger.CheckStatus(ctx, hash)
}

// BulkPaymentStatus reports which of hashes are paid.
func (e *Engine) BulkPaymentStatus(ctx context.Context, hashes []string) (ledger.BulkResult, error) {
	if len(hashes) == 0 {
		return ledger.BulkResult{Paid: []string{}}, nil
	}
	if len(hashes) > MaxStatusBatch {
		return ledger.BulkResult{}, apperr.Validation("hashes", "at most %d hashes per request", MaxStatusBatch)
	}
	return e.ledger.CheckBulk(ctx, hashes), nil
}

// ReconcilePayment checks the booking's current descriptor and confirms
// the booking when the settlement source reports it paid. A booking that
// is not yet paid is returned unchanged together with the status result.
func (e *Engine) ReconcilePayment(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, ledger.Result, error) {
	b, prop, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, ledger.Result{}, err
	}
	if _, err := e.svc.Authorize(fsm.ActionReconcilePayment, actor, b, prop); err != nil {
		return nil, ledger.Result{}, err
	}
	desc, err := e.ledger.Current(ctx, id)
	if err != nil {
		return nil, ledger.Result{}, err
	}
	if desc == nil {
		return nil, ledger.Result{}, apperr.InvalidTransition("booking %d has no payment descriptor", id)
	}
	res := e.ledger.CheckStatus(ctx, desc.Hash)
	if res.Status != ledger.StatusPaid {
		return b, res, nil
	}
	confirmed, err := e.confirmPaid(ctx, actor, *desc)
	if err != nil {
		return nil, res, err
	}
	return confirmed, res, nil
}

func (e *Engine) confirmPaid(ctx context.Context, actor lifecycle.Actor, desc ledger.Descriptor) (*lifecycle.Booking, error) {
	return e.transition(ctx, desc.BookingID, func(b *lifecycle.Booking, prop lifecycle.Property, now time.Time) (lifecycle.Effects, error) {
		return e.svc.ConfirmPaid(b, actor, prop, desc.Hash, desc.Amount, desc.Currency, now)
	})
}

// ReconcileOutstanding polls the settlement source for up to limit
// outstanding descriptors and confirms the bookings that were paid. It
// returns the number of bookings confirmed.
func (e *Engine) ReconcileOutstanding(ctx context.Context, limit int) (int, error) {
	descs, err := e.ledger.Outstanding(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(descs) == 0 {
		return 0, nil
	}
	byHash := make(map[string]ledger.Descriptor, len(descs))
	hashes := make([]string, 0, len(descs))
	for _, d := range descs {
		byHash[d.Hash] = d
		hashes = append(hashes, d.Hash)
	}
	res := e.ledger.CheckBulk(ctx, hashes)
	if res.Degraded {
		e.logger.Infof("reconcile: settlement source degraded, %d of %d answered paid", len(res.Paid), len(hashes))
	}
	confirmed := 0
	for _, h := range res.Paid {
		d, ok := byHash[h]
		if !ok {
			continue
		}
		if _, err := e.confirmPaid(ctx, lifecycle.SystemActor, d); err != nil {
			if errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrNotFound) {
				e.logger.Infof("reconcile: booking %d paid but not confirmable: %v", d.BookingID, err)
				continue
			}
			e.logger.Errorf("reconcile: confirm booking %d: %v", d.BookingID, err)
			continue
		}
		confirmed++
	}
	return confirmed, nil
}

// RunReconciler sweeps outstanding descriptors every interval until ctx is done.
func (e *Engine) RunReconciler(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ReconcileOutstanding(ctx, batch)
			if err != nil {
				e.logger.Errorf("reconcile sweep: %v", err)
				continue
			}
			if n > 0 {
				e.logger.Infof("reconcile sweep confirmed %d bookings", n)
			}
		}
	}
}
