package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/money"
)

const descriptorColumns = `hash, booking_id, payload, amount_cents, currency, bill_number, status, issued_at, superseded_at, checked_at`

// DescriptorsRepo persists payment descriptors for the ledger.
type DescriptorsRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewDescriptorsRepo constructs a DescriptorsRepo.
func NewDescriptorsRepo(db *sql.DB, dialect Dialect) *DescriptorsRepo {
	return &DescriptorsRepo{db: db, dialect: dialect}
}

var _ ledger.Repository = (*DescriptorsRepo)(nil)

func scanDescriptor(s rowScanner) (*ledger.Descriptor, error) {
	var (
		d                     ledger.Descriptor
		amount                int64
		status                string
		superseded, checkedAt sql.NullTime
	)
	if err := s.Scan(&d.Hash, &d.BookingID, &d.Payload, &amount, &d.Currency, &d.BillNumber, &status, &d.IssuedAt, &superseded, &checkedAt); err != nil {
		return nil, err
	}
	d.Amount = money.FromCents(amount)
	d.Status = ledger.Status(status)
	d.SupersededAt = timePtr(superseded)
	d.CheckedAt = timePtr(checkedAt)
	return &d, nil
}

func (r *DescriptorsRepo) one(ctx context.Context, query string, args ...interface{}) (*ledger.Descriptor, error) {
	d, err := scanDescriptor(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// CurrentDescriptor implements ledger.Repository.
func (r *DescriptorsRepo) CurrentDescriptor(ctx context.Context, bookingID int64) (*ledger.Descriptor, error) {
	return r.one(ctx, `SELECT `+descriptorColumns+` FROM payment_descriptors
		WHERE booking_id = ? AND superseded_at IS NULL ORDER BY issued_at DESC LIMIT 1`, bookingID)
}

// DescriptorByHash implements ledger.Repository.
func (r *DescriptorsRepo) DescriptorByHash(ctx context.Context, hash string) (*ledger.Descriptor, error) {
	return r.one(ctx, `SELECT `+descriptorColumns+` FROM payment_descriptors WHERE hash = ?`, hash)
}

// SaveDescriptor implements ledger.Repository. The booking row is locked
// for the duration, so issuance serializes with transitions and with other
// issuances for the same booking.
func (r *DescriptorsRepo) SaveDescriptor(ctx context.Context, d ledger.Descriptor, supersede string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, r.dialect.Rebind(`SELECT status FROM bookings WHERE id = ? FOR UPDATE`), d.BookingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("booking", d.BookingID)
	}
	if err != nil {
		return err
	}
	if s := fsm.Status(status); s != fsm.StatusPending && s != fsm.StatusPendingReview {
		return apperr.InvalidTransition("booking %d is %s and no longer awaits payment", d.BookingID, s)
	}

	var current string
	err = tx.QueryRowContext(ctx, r.dialect.Rebind(`SELECT hash FROM payment_descriptors
		WHERE booking_id = ? AND superseded_at IS NULL`), d.BookingID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if current != supersede {
		return ledger.ErrCurrentChanged
	}

	if supersede != "" {
		if _, err := r.dialect.exec(ctx, tx, `UPDATE payment_descriptors SET superseded_at = ? WHERE hash = ?`, at, supersede); err != nil {
			return err
		}
	}
	res, err := r.dialect.exec(ctx, tx, `UPDATE payment_descriptors SET superseded_at = NULL WHERE hash = ? AND booking_id = ?`, d.Hash, d.BookingID)
	if err != nil {
		return descriptorWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = r.dialect.exec(ctx, tx, `INSERT INTO payment_descriptors (`+descriptorColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			d.Hash, d.BookingID, d.Payload, d.Amount.Cents(), d.Currency, d.BillNumber, string(d.Status), d.IssuedAt, nil, nil)
		if err != nil {
			return descriptorWriteErr(err)
		}
	}
	return tx.Commit()
}

// descriptorWriteErr maps a unique violation (hash taken by another
// booking, or a second current row) to a lost race.
func descriptorWriteErr(err error) error {
	if IsDuplicate(err) {
		return ledger.ErrCurrentChanged
	}
	return err
}

// RecordStatus implements ledger.Repository.
func (r *DescriptorsRepo) RecordStatus(ctx context.Context, hash string, status ledger.Status, at time.Time) error {
	_, err := r.dialect.exec(ctx, r.db, `UPDATE payment_descriptors SET status = ?, checked_at = ? WHERE hash = ?`, string(status), at, hash)
	return err
}

// OutstandingDescriptors implements ledger.Repository.
func (r *DescriptorsRepo) OutstandingDescriptors(ctx context.Context, limit int) ([]ledger.Descriptor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT d.hash, d.booking_id, d.payload, d.amount_cents, d.currency, d.bill_number,
		d.status, d.issued_at, d.superseded_at, d.checked_at
		FROM payment_descriptors d JOIN bookings b ON b.id = d.booking_id
		WHERE d.superseded_at IS NULL AND b.status IN (?, ?)
		ORDER BY d.issued_at LIMIT ?`), string(fsm.StatusPending), string(fsm.StatusPendingReview), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Descriptor, 0)
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
