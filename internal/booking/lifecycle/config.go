package lifecycle

import "time"

// Config aggregates behavioural parameters for the booking lifecycle.
type Config struct {
	// CancelWindow is how long after creation a renter may still cancel a
	// pending booking. The boundary itself is inside the window.
	CancelWindow time.Duration
	// Location is the property-local zone used for visit messages.
	Location *time.Location
	// DefaultCurrency applies to payments created without an explicit currency.
	DefaultCurrency string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CancelWindow:    24 * time.Hour,
		Location:        time.UTC,
		DefaultCurrency: "USD",
	}
}
