package timeutil

import (
	"sync"
	"time"
)

const (
	defaultZone   = "Asia/Phnom_Penh"
	defaultOffset = 7 * 60 * 60
)

var (
	mu       sync.RWMutex
	location = loadLocation(defaultZone, defaultOffset)
)

func loadLocation(name string, offset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offset)
	}
	return loc
}

// SetLocation switches the property-local zone. Unknown zone names fall back
// to a fixed offset so the service still starts on hosts without tzdata.
func SetLocation(name string, fallbackOffset int) *time.Location {
	loc := loadLocation(name, fallbackOffset)
	mu.Lock()
	location = loc
	mu.Unlock()
	return loc
}

// Location returns the property-local location instance.
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return location
}

// Now returns the current time in the property-local zone.
func Now() time.Time {
	return time.Now().In(Location())
}
