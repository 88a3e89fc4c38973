package repo

import (
	"context"
	"database/sql"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS properties (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		title VARCHAR(255) NULL,
		is_available TINYINT(1) NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		property_id BIGINT NOT NULL,
		renter_id BIGINT NOT NULL,
		kind VARCHAR(16) NOT NULL,
		status VARCHAR(32) NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NULL,
		visit_time DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		confirmed_at DATETIME NULL,
		completed_at DATETIME NULL,
		checked_out_at DATETIME NULL,
		monthly_rent_cents BIGINT NOT NULL DEFAULT 0,
		deposit_amount_cents BIGINT NOT NULL DEFAULT 0,
		total_amount_cents BIGINT NOT NULL DEFAULT 0,
		payment_method VARCHAR(32) NOT NULL DEFAULT '',
		transaction_proof_ref VARCHAR(512) NULL,
		transaction_submitted_at DATETIME NULL,
		payment_correlation_hash VARCHAR(64) NULL,
		message TEXT NULL,
		owner_notes TEXT NULL,
		contact_phone VARCHAR(32) NULL,
		member_count INT NOT NULL DEFAULT 1,
		hidden_by_owner TINYINT(1) NOT NULL DEFAULT 0,
		UNIQUE KEY uq_bookings_payment_hash (payment_correlation_hash),
		KEY idx_bookings_property_visit (property_id, visit_time),
		KEY idx_bookings_renter (renter_id),
		CONSTRAINT fk_bookings_property FOREIGN KEY (property_id) REFERENCES properties(id)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_payments (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		payer_id BIGINT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		method VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		transaction_id VARCHAR(128) NULL,
		proof_ref VARCHAR(512) NULL,
		correlation_hash VARCHAR(64) NULL,
		created_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		KEY idx_booking_payments_booking (booking_id)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_messages (
		id VARCHAR(36) PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		property_id BIGINT NOT NULL,
		sender_id BIGINT NOT NULL,
		receiver_id BIGINT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		KEY idx_booking_messages_booking (booking_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payment_descriptors (
		hash VARCHAR(64) PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		payload TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		bill_number VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		issued_at DATETIME NOT NULL,
		superseded_at DATETIME NULL,
		checked_at DATETIME NULL,
		current_booking_id BIGINT AS (IF(superseded_at IS NULL, booking_id, NULL)) STORED,
		KEY idx_payment_descriptors_booking (booking_id),
		UNIQUE KEY uq_payment_descriptors_current (current_booking_id)
	)`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		user_id BIGINT NOT NULL,
		token VARCHAR(255) NOT NULL,
		PRIMARY KEY (user_id, token)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS properties (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		title VARCHAR(255) NULL,
		is_available BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGSERIAL PRIMARY KEY,
		property_id BIGINT NOT NULL REFERENCES properties(id),
		renter_id BIGINT NOT NULL,
		kind VARCHAR(16) NOT NULL,
		status VARCHAR(32) NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NULL,
		visit_time TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		confirmed_at TIMESTAMPTZ NULL,
		completed_at TIMESTAMPTZ NULL,
		checked_out_at TIMESTAMPTZ NULL,
		monthly_rent_cents BIGINT NOT NULL DEFAULT 0,
		deposit_amount_cents BIGINT NOT NULL DEFAULT 0,
		total_amount_cents BIGINT NOT NULL DEFAULT 0,
		payment_method VARCHAR(32) NOT NULL DEFAULT '',
		transaction_proof_ref VARCHAR(512) NULL,
		transaction_submitted_at TIMESTAMPTZ NULL,
		payment_correlation_hash VARCHAR(64) NULL UNIQUE,
		message TEXT NULL,
		owner_notes TEXT NULL,
		contact_phone VARCHAR(32) NULL,
		member_count INT NOT NULL DEFAULT 1,
		hidden_by_owner BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_property_visit ON bookings (property_id, visit_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_renter ON bookings (renter_id)`,
	`CREATE TABLE IF NOT EXISTS booking_payments (
		id BIGSERIAL PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		payer_id BIGINT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		method VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		transaction_id VARCHAR(128) NULL,
		proof_ref VARCHAR(512) NULL,
		correlation_hash VARCHAR(64) NULL,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_payments_booking ON booking_payments (booking_id)`,
	`CREATE TABLE IF NOT EXISTS booking_messages (
		id VARCHAR(36) PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		property_id BIGINT NOT NULL,
		sender_id BIGINT NOT NULL,
		receiver_id BIGINT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_booking_messages_booking ON booking_messages (booking_id)`,
	`CREATE TABLE IF NOT EXISTS payment_descriptors (
		hash VARCHAR(64) PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		payload TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		bill_number VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL,
		superseded_at TIMESTAMPTZ NULL,
		checked_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_descriptors_booking ON payment_descriptors (booking_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_payment_descriptors_current ON payment_descriptors (booking_id) WHERE superseded_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		user_id BIGINT NOT NULL,
		token VARCHAR(255) NOT NULL,
		PRIMARY KEY (user_id, token)
	)`,
}

// Schema returns the DDL statements for d.
func Schema(d Dialect) []string {
	if d == Postgres {
		return postgresSchema
	}
	return mysqlSchema
}

// Migrate creates missing tables.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for i, stmt := range Schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
