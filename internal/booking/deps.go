package booking

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"

	"housingBack/internal/booking/notify"
	"housingBack/internal/booking/proof"
	"housingBack/internal/booking/repo"
)

// Logger provides minimal logging required by the booking module.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// BookingDeps groups external dependencies needed by the booking module.
type BookingDeps struct {
	// DB is required in the sql store mode.
	DB      *sql.DB
	Dialect repo.Dialect
	// RDB caches settlement statuses when set.
	RDB        *redis.Client
	Logger     Logger
	Config     BookingConfig
	HTTPClient *http.Client
	// Push sends FCM messages when set.
	Push notify.Sender
	// Proofs overrides receipt storage; otherwise S3 or a local directory
	// is chosen from Config.
	Proofs proof.Store
	module *moduleState
}

// Validate ensures required dependencies are provided.
func (d *BookingDeps) Validate() error {
	if d.Config.Store != StoreMemory && d.DB == nil {
		return errors.New("booking deps: DB is required")
	}
	if d.Logger == nil {
		return errors.New("booking deps: Logger is required")
	}
	if d.Dialect == "" {
		d.Dialect = repo.MySQL
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	return nil
}
