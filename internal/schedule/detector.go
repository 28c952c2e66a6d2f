package schedule

import (
	"errors"
	"math"
	"time"

	"roombook/internal/models"
)

var (
	ErrMissingInput    = errors.New("start time, room and date are required")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrPastClosing     = errors.New("booking would end after closing time")
	ErrConflict        = errors.New("slot overlaps an existing booking")
)

const maxDurationHours = 24.0

// Candidate is an unpersisted reservation used only for conflict evaluation.
type Candidate struct {
	RoomID            string
	Date              time.Time
	StartTime         string
	DurationHours     float64
	ExcludedBookingID string
}

// Detector answers whether a candidate overlaps an active booking of the same room.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	catalog *Catalog
	loc     *time.Location
}

// NewDetector falls back to DefaultCatalog and time.Local for nil arguments.
func NewDetector(catalog *Catalog, loc *time.Location) *Detector {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Detector{catalog: catalog, loc: loc}
}

// Catalog returns the slot catalog the detector checks against.
func (d *Detector) Catalog() *Catalog {
	return d.catalog
}

// Location is the time zone in which dates and slots are interpreted.
func (d *Detector) Location() *time.Location {
	return d.loc
}

// IsSlotBooked returns true when the slot cannot be booked: the input is
// incomplete or malformed, the booking would end after closing, or it overlaps
// a non-cancelled booking of the room other than excludedBookingID.
func (d *Detector) IsSlotBooked(
	startTime, roomID string,
	date time.Time,
	bookings []*models.Booking,
	durationHours float64,
	excludedBookingID string,
) bool {
	conflicts, err := d.Conflicts(Candidate{
		RoomID:            roomID,
		Date:              date,
		StartTime:         startTime,
		DurationHours:     durationHours,
		ExcludedBookingID: excludedBookingID,
	}, bookings)
	return err != nil || len(conflicts) > 0
}

// Check is IsSlotBooked for a prepared candidate.
func (d *Detector) Check(c Candidate, bookings []*models.Booking) bool {
	return d.IsSlotBooked(c.StartTime, c.RoomID, c.Date, bookings, c.DurationHours, c.ExcludedBookingID)
}

// Conflicts returns the bookings overlapping the candidate. An error means the
// candidate itself is not bookable and must be treated as booked.
func (d *Detector) Conflicts(c Candidate, bookings []*models.Booking) ([]*models.Booking, error) {
	if c.StartTime == "" || c.RoomID == "" || c.Date.IsZero() {
		return nil, ErrMissingInput
	}

	start, end, err := d.Interval(c.Date, c.StartTime, c.DurationHours)
	if err != nil {
		return nil, err
	}
	if end.After(d.ClosingTime(c.Date)) {
		return nil, ErrPastClosing
	}

	var conflicts []*models.Booking
	for _, b := range bookings {
		if b == nil {
			continue
		}
		if c.ExcludedBookingID != "" && b.ID == c.ExcludedBookingID {
			continue
		}
		if b.RoomID != c.RoomID || b.Status == models.StatusCancelled {
			continue
		}
		if Overlaps(start, end, b.StartTime, b.EndTime) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts, nil
}

// Interval combines the local day of date with startTime and adds the duration.
func (d *Detector) Interval(date time.Time, startTime string, durationHours float64) (time.Time, time.Time, error) {
	if math.IsNaN(durationHours) || math.IsInf(durationHours, 0) || durationHours <= 0 {
		return time.Time{}, time.Time{}, ErrInvalidDuration
	}
	if durationHours > maxDurationHours {
		return time.Time{}, time.Time{}, ErrPastClosing
	}

	offset, err := ParseClock(startTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start := d.at(date, offset)
	end := start.Add(time.Duration(durationHours * float64(time.Hour)))
	return start, end, nil
}

// ClosingTime is the closing boundary applied to the local day of date.
func (d *Detector) ClosingTime(date time.Time) time.Time {
	return d.at(date, d.catalog.closingOffset())
}

// StartOfDay normalizes date to local midnight in the detector's location.
func (d *Detector) StartOfDay(date time.Time) time.Time {
	return d.at(date, 0)
}

// SlotStatuses evaluates every catalog slot for the given room, day and duration.
func (d *Detector) SlotStatuses(
	roomID string,
	date time.Time,
	durationHours float64,
	bookings []*models.Booking,
	excludedBookingID string,
) []models.SlotStatus {
	out := make([]models.SlotStatus, 0, len(d.catalog.slots))
	for _, slot := range d.catalog.slots {
		out = append(out, models.SlotStatus{
			Time:   slot,
			Booked: d.IsSlotBooked(slot, roomID, date, bookings, durationHours, excludedBookingID),
		})
	}
	return out
}

func (d *Detector) at(date time.Time, offset time.Duration) time.Time {
	local := date.In(d.loc)
	minutes := int(offset / time.Minute)
	return time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, d.loc)
}

// Overlaps tests half-open intervals [aStart, aEnd) and [bStart, bEnd).
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
