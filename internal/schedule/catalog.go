// Package schedule holds the bookable slot catalog and the conflict detector
// that decides whether a candidate reservation overlaps an active booking.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

const clockLayout = "15:04"

// Unit is the fixed granularity added to the last slot to obtain the closing boundary.
const Unit = time.Hour

// DefaultSlots are hourly start times from opening to the last bookable hour.
var DefaultSlots = []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00"}

// ErrEmptyCatalog is returned by NewCatalog for an empty slot list.
var ErrEmptyCatalog = errors.New("slot catalog is empty")

// Catalog is an immutable, strictly increasing list of start times.
type Catalog struct {
	slots   []string
	offsets []time.Duration
}

// NewCatalog validates and normalizes the given HH:MM start times.
func NewCatalog(slots []string) (*Catalog, error) {
	if len(slots) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		slots:   make([]string, 0, len(slots)),
		offsets: make([]time.Duration, 0, len(slots)),
	}
	for i, raw := range slots {
		offset, err := ParseClock(raw)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		if i > 0 && offset <= c.offsets[i-1] {
			return nil, fmt.Errorf("slot %q is not after %q", raw, c.slots[i-1])
		}
		c.slots = append(c.slots, FormatClock(offset))
		c.offsets = append(c.offsets, offset)
	}

	if c.closingOffset() > 24*time.Hour {
		return nil, fmt.Errorf("closing boundary %s is past midnight", FormatClock(c.closingOffset()))
	}
	return c, nil
}

// DefaultCatalog returns the 09:00–17:00 hourly catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultSlots)
	if err != nil {
		panic(err)
	}
	return c
}

// Slots returns a copy of the ordered start times.
func (c *Catalog) Slots() []string {
	out := make([]string, len(c.slots))
	copy(out, c.slots)
	return out
}

// ClosingBoundary is the last slot plus one Unit, e.g. "18:00".
func (c *Catalog) ClosingBoundary() string {
	return FormatClock(c.closingOffset())
}

// Contains reports whether slot is one of the catalog start times.
func (c *Catalog) Contains(slot string) bool {
	offset, err := ParseClock(slot)
	if err != nil {
		return false
	}
	for _, o := range c.offsets {
		if o == offset {
			return true
		}
	}
	return false
}

func (c *Catalog) closingOffset() time.Duration {
	return c.offsets[len(c.offsets)-1] + Unit
}

// ParseClock converts an HH:MM time of day into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock renders an offset from midnight as HH:MM.
func FormatClock(offset time.Duration) string {
	minutes := int(offset / time.Minute)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
