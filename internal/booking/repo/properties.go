package repo

import (
	"context"
	"database/sql"
	"errors"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/lifecycle"
)

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getProperty(ctx context.Context, q rowQuerier, d Dialect, id int64) (lifecycle.Property, error) {
	return scanProperty(q.QueryRowContext(ctx, d.Rebind(`SELECT id, owner_id, title, is_available FROM properties WHERE id = ?`), id), id)
}

func lockProperty(ctx context.Context, tx *sql.Tx, d Dialect, id int64) (lifecycle.Property, error) {
	return scanProperty(tx.QueryRowContext(ctx, d.Rebind(`SELECT id, owner_id, title, is_available FROM properties WHERE id = ? FOR UPDATE`), id), id)
}

func scanProperty(row *sql.Row, id int64) (lifecycle.Property, error) {
	var (
		p     lifecycle.Property
		title sql.NullString
	)
	err := row.Scan(&p.ID, &p.OwnerID, &title, &p.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Property{}, apperr.NotFound("property", id)
	}
	if err != nil {
		return lifecycle.Property{}, err
	}
	p.Title = title.String
	return p, nil
}

// PropertiesRepo reads the listing directory.
type PropertiesRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewPropertiesRepo constructs a PropertiesRepo.
func NewPropertiesRepo(db *sql.DB, dialect Dialect) *PropertiesRepo {
	return &PropertiesRepo{db: db, dialect: dialect}
}

// Property returns the property with id.
func (r *PropertiesRepo) Property(ctx context.Context, id int64) (lifecycle.Property, error) {
	return getProperty(ctx, r.db, r.dialect, id)
}
