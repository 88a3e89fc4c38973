package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
	"housingBack/internal/booking/workflow"
)

var bookingColumns = []string{
	"id", "property_id", "renter_id", "kind", "status",
	"start_date", "end_date", "visit_time",
	"created_at", "updated_at", "confirmed_at", "completed_at", "checked_out_at",
	"monthly_rent_cents", "deposit_amount_cents", "total_amount_cents",
	"payment_method", "transaction_proof_ref", "transaction_submitted_at", "payment_correlation_hash",
	"message", "owner_notes", "contact_phone", "member_count", "hidden_by_owner",
}

func columns(prefix string) string {
	out := make([]string, len(bookingColumns))
	for i, c := range bookingColumns {
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s rowScanner) (*lifecycle.Booking, error) {
	var (
		b                                      lifecycle.Booking
		kind, status, method                   string
		endDate, visitTime                     sql.NullTime
		confirmedAt, completedAt, checkedOutAt sql.NullTime
		submittedAt                            sql.NullTime
		proofRef, hash, message, notes, phone  sql.NullString
		rent, deposit, total                   int64
	)
	err := s.Scan(
		&b.ID, &b.PropertyID, &b.RenterID, &kind, &status,
		&b.StartDate, &endDate, &visitTime,
		&b.CreatedAt, &b.UpdatedAt, &confirmedAt, &completedAt, &checkedOutAt,
		&rent, &deposit, &total,
		&method, &proofRef, &submittedAt, &hash,
		&message, &notes, &phone, &b.MemberCount, &b.HiddenByOwner,
	)
	if err != nil {
		return nil, err
	}
	b.Kind = fsm.Kind(kind)
	b.Status = fsm.Status(status)
	b.EndDate = timePtr(endDate)
	b.VisitTime = timePtr(visitTime)
	b.ConfirmedAt = timePtr(confirmedAt)
	b.CompletedAt = timePtr(completedAt)
	b.CheckedOutAt = timePtr(checkedOutAt)
	b.TransactionSubmittedAt = timePtr(submittedAt)
	b.MonthlyRent = money.FromCents(rent)
	b.DepositAmount = money.FromCents(deposit)
	b.TotalAmount = money.FromCents(total)
	b.PaymentMethod = lifecycle.PaymentMethod(method)
	b.TransactionProofRef = proofRef.String
	b.PaymentCorrelationHash = hash.String
	b.Message = message.String
	b.OwnerNotes = notes.String
	b.ContactPhone = phone.String
	return &b, nil
}

// BookingsRepo is the SQL implementation of workflow.Store.
type BookingsRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewBookingsRepo constructs a BookingsRepo.
func NewBookingsRepo(db *sql.DB, dialect Dialect) *BookingsRepo {
	return &BookingsRepo{db: db, dialect: dialect}
}

var _ workflow.Store = (*BookingsRepo)(nil)

func (r *BookingsRepo) lockBooking(ctx context.Context, tx *sql.Tx, id int64) (*lifecycle.Booking, error) {
	row := tx.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+columns("")+` FROM bookings WHERE id = ? FOR UPDATE`), id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("booking", id)
	}
	return b, err
}

// Insert implements workflow.Store. The property row is locked for the
// duration so concurrent visit requests for one slot serialize.
func (r *BookingsRepo) Insert(ctx context.Context, spec workflow.InsertSpec) (*lifecycle.Booking, lifecycle.Effects, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, lifecycle.Effects{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prop, err := lockProperty(ctx, tx, r.dialect, spec.PropertyID)
	if err != nil {
		return nil, lifecycle.Effects{}, err
	}
	var sameDay []lifecycle.Booking
	if spec.VisitDay != nil {
		sameDay, err = r.visitsBetween(ctx, tx, spec.PropertyID, spec.VisitDay.From, spec.VisitDay.To)
		if err != nil {
			return nil, lifecycle.Effects{}, err
		}
	}
	c, err := spec.Build(prop, sameDay)
	if err != nil {
		return nil, lifecycle.Effects{}, err
	}
	b := c.Booking.Clone()

	b.ID, err = r.dialect.insertID(ctx, tx, `INSERT INTO bookings (`+strings.Join(bookingColumns[1:], ", ")+`)
		VALUES (`+placeholders(len(bookingColumns)-1)+`)`, insertArgs(b)...)
	if err != nil {
		if IsDuplicate(err) {
			return nil, lifecycle.Effects{}, apperr.Conflict("payment correlation hash already bound to another booking")
		}
		return nil, lifecycle.Effects{}, err
	}
	eff, err := applyEffects(ctx, tx, r.dialect, b, c.Effects)
	if err != nil {
		return nil, lifecycle.Effects{}, err
	}
	if err := tx.Commit(); err != nil {
		return nil, lifecycle.Effects{}, err
	}
	return b, eff, nil
}

func insertArgs(b *lifecycle.Booking) []interface{} {
	return []interface{}{
		b.PropertyID, b.RenterID, string(b.Kind), string(b.Status),
		b.StartDate, nullTime(b.EndDate), nullTime(b.VisitTime),
		b.CreatedAt, b.UpdatedAt, nullTime(b.ConfirmedAt), nullTime(b.CompletedAt), nullTime(b.CheckedOutAt),
		b.MonthlyRent.Cents(), b.DepositAmount.Cents(), b.TotalAmount.Cents(),
		string(b.PaymentMethod), nullString(b.TransactionProofRef), nullTime(b.TransactionSubmittedAt), nullString(b.PaymentCorrelationHash),
		b.Message, b.OwnerNotes, b.ContactPhone, b.MemberCount, b.HiddenByOwner,
	}
}

// Get implements workflow.Store.
func (r *BookingsRepo) Get(ctx context.Context, id int64) (*lifecycle.Booking, lifecycle.Property, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+columns("")+` FROM bookings WHERE id = ?`), id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.Property{}, apperr.NotFound("booking", id)
	}
	if err != nil {
		return nil, lifecycle.Property{}, err
	}
	prop, err := getProperty(ctx, r.db, r.dialect, b.PropertyID)
	if err != nil {
		return nil, lifecycle.Property{}, err
	}
	return b, prop, nil
}

// Mutate implements workflow.Store. The booking and its property are
// locked, fn runs on the snapshot and the write-back is conditioned on the
// status read under the lock.
func (r *BookingsRepo) Mutate(ctx context.Context, id int64, fn workflow.MutateFunc) (*lifecycle.Booking, lifecycle.Effects, lifecycle.Property, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, lifecycle.Effects{}, lifecycle.Property{}, err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := r.lockBooking(ctx, tx, id)
	if err != nil {
		return nil, lifecycle.Effects{}, lifecycle.Property{}, err
	}
	prop, err := lockProperty(ctx, tx, r.dialect, b.PropertyID)
	if err != nil {
		return nil, lifecycle.Effects{}, lifecycle.Property{}, err
	}
	from := b.Status
	eff, err := fn(b, prop)
	if err != nil {
		return nil, lifecycle.Effects{}, prop, err
	}

	if b.Status != from {
		err = fsm.Apply(ctx, tx, r.dialect.Rebind, id, from, b.Status)
		if errors.Is(err, fsm.ErrStatusChanged) {
			return nil, lifecycle.Effects{}, prop, &apperr.Error{
				Kind:    apperr.KindInvalidTransition,
				Message: "booking status changed concurrently",
				Err:     err,
			}
		}
		if err != nil {
			return nil, lifecycle.Effects{}, prop, err
		}
	}
	_, err = r.dialect.exec(ctx, tx, `UPDATE bookings SET
		updated_at = ?, confirmed_at = ?, completed_at = ?, checked_out_at = ?,
		payment_method = ?, transaction_proof_ref = ?, transaction_submitted_at = ?, payment_correlation_hash = ?,
		owner_notes = ?, hidden_by_owner = ?
		WHERE id = ?`,
		b.UpdatedAt, nullTime(b.ConfirmedAt), nullTime(b.CompletedAt), nullTime(b.CheckedOutAt),
		string(b.PaymentMethod), nullString(b.TransactionProofRef), nullTime(b.TransactionSubmittedAt), nullString(b.PaymentCorrelationHash),
		b.OwnerNotes, b.HiddenByOwner, id)
	if err != nil {
		if IsDuplicate(err) {
			return nil, lifecycle.Effects{}, prop, apperr.Conflict("payment correlation hash already bound to another booking")
		}
		return nil, lifecycle.Effects{}, prop, err
	}
	eff, err = applyEffects(ctx, tx, r.dialect, b, eff)
	if err != nil {
		return nil, lifecycle.Effects{}, prop, err
	}
	if eff.PropertyAvailable != nil {
		prop.IsAvailable = *eff.PropertyAvailable
	}
	if err := tx.Commit(); err != nil {
		return nil, lifecycle.Effects{}, prop, err
	}
	return b, eff, prop, nil
}

func applyEffects(ctx context.Context, tx *sql.Tx, d Dialect, b *lifecycle.Booking, eff lifecycle.Effects) (lifecycle.Effects, error) {
	if eff.PropertyAvailable != nil {
		if _, err := d.exec(ctx, tx, `UPDATE properties SET is_available = ? WHERE id = ?`, *eff.PropertyAvailable, b.PropertyID); err != nil {
			return eff, err
		}
	}
	if eff.CompletePendingPayments {
		if _, err := d.exec(ctx, tx, `UPDATE booking_payments SET status = ?, completed_at = ? WHERE booking_id = ? AND status = ?`,
			string(lifecycle.PaymentCompleted), b.UpdatedAt, b.ID, string(lifecycle.PaymentPending)); err != nil {
			return eff, err
		}
	}
	if eff.NewPayment != nil {
		p := *eff.NewPayment
		p.BookingID = b.ID
		id, err := insertPayment(ctx, tx, d, p)
		if err != nil {
			return eff, err
		}
		p.ID = id
		eff.NewPayment = &p
	}
	if len(eff.Messages) > 0 {
		msgs := make([]lifecycle.Message, len(eff.Messages))
		for i, m := range eff.Messages {
			m.BookingID = b.ID
			if err := insertMessage(ctx, tx, d, m); err != nil {
				return eff, err
			}
			msgs[i] = m
		}
		eff.Messages = msgs
	}
	return eff, nil
}

// List implements workflow.Store.
func (r *BookingsRepo) List(ctx context.Context, f lifecycle.ListFilter) ([]lifecycle.Booking, error) {
	query, args := listQuery(f)
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]lifecycle.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func listQuery(f lifecycle.ListFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if f.RenterID != 0 {
		where = append(where, "b.renter_id = ?")
		args = append(args, f.RenterID)
	}
	if f.OwnerID != 0 {
		where = append(where, "p.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.PropertyID != 0 {
		where = append(where, "b.property_id = ?")
		args = append(args, f.PropertyID)
	}
	if f.Kind != "" {
		where = append(where, "b.kind = ?")
		args = append(args, string(f.Kind))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "b.status IN ("+strings.Join(marks, ",")+")")
	}
	if f.Hidden != nil {
		where = append(where, "b.hidden_by_owner = ?")
		args = append(args, *f.Hidden)
	}
	if f.CheckedOut != nil {
		if *f.CheckedOut {
			where = append(where, "b.checked_out_at IS NOT NULL")
		} else {
			where = append(where, "b.checked_out_at IS NULL")
		}
	}
	query := `SELECT ` + columns("b.") + ` FROM bookings b JOIN properties p ON p.id = b.property_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.created_at DESC, b.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return query, args
}

// VisitsBetween implements workflow.Store.
func (r *BookingsRepo) VisitsBetween(ctx context.Context, propertyID int64, from, to time.Time) ([]lifecycle.Booking, error) {
	return r.visitsBetween(ctx, r.db, propertyID, from, to)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r *BookingsRepo) visitsBetween(ctx context.Context, q querier, propertyID int64, from, to time.Time) ([]lifecycle.Booking, error) {
	rows, err := q.QueryContext(ctx, r.dialect.Rebind(`SELECT `+columns("")+` FROM bookings
		WHERE property_id = ? AND kind = ? AND visit_time >= ? AND visit_time < ?
		ORDER BY visit_time`), propertyID, string(fsm.KindVisit), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lifecycle.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Delete implements workflow.Store. Messages, payments and descriptors are
// removed in the same transaction.
func (r *BookingsRepo) Delete(ctx context.Context, id int64, check func(b *lifecycle.Booking, prop lifecycle.Property) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := r.lockBooking(ctx, tx, id)
	if err != nil {
		return err
	}
	prop, err := getProperty(ctx, tx, r.dialect, b.PropertyID)
	if err != nil {
		return err
	}
	if err := check(b, prop); err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM booking_messages WHERE booking_id = ?`,
		`DELETE FROM booking_payments WHERE booking_id = ?`,
		`DELETE FROM payment_descriptors WHERE booking_id = ?`,
		`DELETE FROM bookings WHERE id = ?`,
	} {
		if _, err := r.dialect.exec(ctx, tx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
