package schedule

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/lifecycle"
)

// DefaultGrid is the fixed set of bookable visit start times.
var DefaultGrid = []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00", "17:00"}

// Availability is the per-day slot picture for one property.
type Availability struct {
	PropertyID   int64    `json:"property_id"`
	Date         string   `json:"date"`
	Available    []string `json:"available_slots"`
	Booked       []string `json:"booked_slots"`
	HasAvailable bool     `json:"has_available"`
}

// Grid computes slot occupancy in a property-local zone.
type Grid struct {
	slots []string
	loc   *time.Location
}

// NewGrid validates slots ("HH:MM") and builds a Grid.
func NewGrid(slots []string, loc *time.Location) (*Grid, error) {
	if len(slots) == 0 {
		slots = DefaultGrid
	}
	if loc == nil {
		loc = time.UTC
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if _, err := time.Parse("15:04", s); err != nil {
			return nil, fmt.Errorf("invalid slot %q: %w", s, err)
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return &Grid{slots: out, loc: loc}, nil
}

// Location returns the zone the grid is evaluated in.
func (g *Grid) Location() *time.Location {
	return g.loc
}

// SlotOf maps a visit time to its grid slot. ok is false for off-grid times.
func (g *Grid) SlotOf(t time.Time) (string, bool) {
	s := t.In(g.loc).Format("15:04")
	return s, slices.Contains(g.slots, s)
}

// DayBounds returns [start, end) of the calendar day of date in the grid's zone.
func (g *Grid) DayBounds(date time.Time) (time.Time, time.Time) {
	l := date.In(g.loc)
	start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, g.loc)
	return start, start.AddDate(0, 0, 1)
}

// Occupying reports whether b holds a slot on the grid and which one.
func (g *Grid) Occupying(b *lifecycle.Booking) (string, bool) {
	if b.Kind != fsm.KindVisit || b.VisitTime == nil || !fsm.OccupiesSlot(b.Status) {
		return "", false
	}
	return g.SlotOf(*b.VisitTime)
}

// Compute builds the availability for propertyID on date from the visits
// already loaded for that day. Visits on other days are ignored.
func (g *Grid) Compute(propertyID int64, date time.Time, visits []lifecycle.Booking) Availability {
	start, end := g.DayBounds(date)
	booked := make([]string, 0, len(visits))
	for i := range visits {
		b := &visits[i]
		if b.PropertyID != propertyID || b.VisitTime == nil {
			continue
		}
		if b.VisitTime.Before(start) || !b.VisitTime.Before(end) {
			continue
		}
		slot, ok := g.Occupying(b)
		if !ok || slices.Contains(booked, slot) {
			continue
		}
		booked = append(booked, slot)
	}
	slices.Sort(booked)
	available := make([]string, 0, len(g.slots))
	for _, s := range g.slots {
		if !slices.Contains(booked, s) {
			available = append(available, s)
		}
	}
	return Availability{
		PropertyID:   propertyID,
		Date:         start.Format("2006-01-02"),
		Available:    available,
		Booked:       booked,
		HasAvailable: len(available) > 0,
	}
}

// CheckFree returns a conflict error if candidate's slot is already held by
// one of sameDay. Off-grid candidates bypass the grid.
func (g *Grid) CheckFree(candidate *lifecycle.Booking, sameDay []lifecycle.Booking) error {
	if candidate.VisitTime == nil {
		return nil
	}
	slot, onGrid := g.SlotOf(*candidate.VisitTime)
	if !onGrid {
		return nil
	}
	avail := g.Compute(candidate.PropertyID, *candidate.VisitTime, sameDay)
	if slices.Contains(avail.Booked, slot) {
		return apperr.Conflict("slot %s on %s is already booked", slot, avail.Date)
	}
	return nil
}
