package repo

import (
	"context"
	"database/sql"

	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
)

func insertPayment(ctx context.Context, tx *sql.Tx, d Dialect, p lifecycle.Payment) (int64, error) {
	return d.insertID(ctx, tx, `INSERT INTO booking_payments
		(booking_id, payer_id, amount_cents, currency, method, status, transaction_id, proof_ref, correlation_hash, created_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.BookingID, p.PayerID, p.Amount.Cents(), p.Currency, string(p.Method), string(p.Status),
		nullString(p.TransactionID), nullString(p.ProofRef), nullString(p.CorrelationHash), p.CreatedAt, nullTime(p.CompletedAt))
}

func insertMessage(ctx context.Context, tx *sql.Tx, d Dialect, m lifecycle.Message) error {
	_, err := d.exec(ctx, tx, `INSERT INTO booking_messages (id, booking_id, property_id, sender_id, receiver_id, content, created_at)
		VALUES (?,?,?,?,?,?,?)`, m.ID, m.BookingID, m.PropertyID, m.SenderID, m.ReceiverID, m.Content, m.CreatedAt)
	return err
}

// Payments implements workflow.Store.
func (r *BookingsRepo) Payments(ctx context.Context, bookingID int64) ([]lifecycle.Payment, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT id, booking_id, payer_id, amount_cents, currency, method, status,
		transaction_id, proof_ref, correlation_hash, created_at, completed_at
		FROM booking_payments WHERE booking_id = ? ORDER BY id`), bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]lifecycle.Payment, 0)
	for rows.Next() {
		var (
			p                 lifecycle.Payment
			amount            int64
			method, status    string
			txID, proof, hash sql.NullString
			completedAt       sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.BookingID, &p.PayerID, &amount, &p.Currency, &method, &status,
			&txID, &proof, &hash, &p.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		p.Amount = money.FromCents(amount)
		p.Method = lifecycle.PaymentMethod(method)
		p.Status = lifecycle.PaymentStatus(status)
		p.TransactionID = txID.String
		p.ProofRef = proof.String
		p.CorrelationHash = hash.String
		p.CompletedAt = timePtr(completedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Messages lists the messages recorded for a booking, oldest first.
func (r *BookingsRepo) Messages(ctx context.Context, bookingID int64) ([]lifecycle.Message, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT id, booking_id, property_id, sender_id, receiver_id, content, created_at
		FROM booking_messages WHERE booking_id = ? ORDER BY created_at`), bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]lifecycle.Message, 0)
	for rows.Next() {
		var m lifecycle.Message
		if err := rows.Scan(&m.ID, &m.BookingID, &m.PropertyID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
