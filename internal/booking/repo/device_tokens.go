package repo

import (
	"context"
	"database/sql"
	"strings"

	"housingBack/internal/booking/apperr"
)

// DeviceTokensRepo stores FCM registration tokens per user.
type DeviceTokensRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewDeviceTokensRepo constructs a DeviceTokensRepo.
func NewDeviceTokensRepo(db *sql.DB, dialect Dialect) *DeviceTokensRepo {
	return &DeviceTokensRepo{db: db, dialect: dialect}
}

// Register remembers token for userID. Registering a known token is a no-op.
func (r *DeviceTokensRepo) Register(ctx context.Context, userID int64, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Validation("token", "is required")
	}
	_, err := r.dialect.exec(ctx, r.db, `INSERT INTO device_tokens (user_id, token) VALUES (?, ?)`, userID, token)
	if err != nil && IsDuplicate(err) {
		return nil
	}
	return err
}

// TokensFor implements notify.TokenSource.
func (r *DeviceTokensRepo) TokensFor(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT token FROM device_tokens WHERE user_id = ?`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
