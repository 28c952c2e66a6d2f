package schedule

import (
	"math"
	"sync"
	"testing"
	"time"

	"roombook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	return NewDetector(DefaultCatalog(), time.UTC)
}

func booking(id, roomID, start, end, status string) *models.Booking {
	s, _ := ParseClock(start)
	e, _ := ParseClock(end)
	return &models.Booking{
		ID:        id,
		RoomID:    roomID,
		UserID:    "user-1",
		StartTime: testDay.Add(s),
		EndTime:   testDay.Add(e),
		Status:    status,
	}
}

func TestIsSlotBooked_Scenarios(t *testing.T) {
	d := newTestDetector()
	confirmed := []*models.Booking{booking("B1", "R1", "10:00", "11:00", models.StatusConfirmed)}
	cancelled := []*models.Booking{booking("B1", "R1", "10:00", "11:00", models.StatusCancelled)}

	tests := []struct {
		name     string
		start    string
		duration float64
		bookings []*models.Booking
		exclude  string
		want     bool
	}{
		{name: "same slot", start: "10:00", duration: 1, bookings: confirmed, want: true},
		{name: "adjacent after", start: "11:00", duration: 1, bookings: confirmed, want: false},
		{name: "spanning into existing", start: "09:00", duration: 2, bookings: confirmed, want: true},
		{name: "adjacent before", start: "09:00", duration: 1, bookings: confirmed, want: false},
		{name: "cancelled never blocks", start: "10:00", duration: 1, bookings: cancelled, want: false},
		{name: "excluded self", start: "10:00", duration: 1, bookings: confirmed, exclude: "B1", want: false},
		{name: "past closing", start: "17:00", duration: 2, bookings: nil, want: true},
		{name: "ends exactly at closing", start: "17:00", duration: 1, bookings: nil, want: false},
		{name: "empty snapshot", start: "13:00", duration: 4, bookings: nil, want: false},
		{name: "fractional overlap", start: "09:00", duration: 1.5, bookings: confirmed, want: true},
		{name: "fractional adjacent", start: "09:00", duration: 1.0, bookings: confirmed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.IsSlotBooked(tt.start, "R1", testDay, tt.bookings, tt.duration, tt.exclude)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsSlotBooked_FailsClosed(t *testing.T) {
	d := newTestDetector()

	assert.True(t, d.IsSlotBooked("", "R1", testDay, nil, 1, ""), "missing start time")
	assert.True(t, d.IsSlotBooked("10:00", "", testDay, nil, 1, ""), "missing room")
	assert.True(t, d.IsSlotBooked("10:00", "R1", time.Time{}, nil, 1, ""), "missing date")
	assert.True(t, d.IsSlotBooked("not-a-time", "R1", testDay, nil, 1, ""), "malformed start")
	assert.True(t, d.IsSlotBooked("10:00", "R1", testDay, nil, 0, ""), "zero duration")
	assert.True(t, d.IsSlotBooked("10:00", "R1", testDay, nil, -1, ""), "negative duration")
	assert.True(t, d.IsSlotBooked("10:00", "R1", testDay, nil, math.NaN(), ""), "NaN duration")
	assert.True(t, d.IsSlotBooked("10:00", "R1", testDay, nil, math.Inf(1), ""), "infinite duration")
	assert.True(t, d.IsSlotBooked("10:00", "R1", testDay, nil, 1e12, ""), "huge duration")
}

func TestIsSlotBooked_OtherRoomsIgnored(t *testing.T) {
	d := newTestDetector()
	bookings := []*models.Booking{booking("B1", "R2", "10:00", "11:00", models.StatusConfirmed)}

	assert.False(t, d.IsSlotBooked("10:00", "R1", testDay, bookings, 1, ""))
	assert.True(t, d.IsSlotBooked("10:00", "R2", testDay, bookings, 1, ""))
}

func TestIsSlotBooked_ExclusionOnlyRemovesOne(t *testing.T) {
	d := newTestDetector()
	bookings := []*models.Booking{
		booking("B1", "R1", "10:00", "11:00", models.StatusConfirmed),
		booking("B2", "R1", "11:00", "12:00", models.StatusRescheduled),
	}

	assert.False(t, d.IsSlotBooked("10:00", "R1", testDay, bookings, 1, "B1"))
	assert.True(t, d.IsSlotBooked("10:00", "R1", testDay, bookings, 2, "B1"), "B2 still enforced")
}

func TestIsSlotBooked_NilEntriesSkipped(t *testing.T) {
	d := newTestDetector()
	assert.False(t, d.IsSlotBooked("10:00", "R1", testDay, []*models.Booking{nil}, 1, ""))
}

func TestIsSlotBooked_Idempotent(t *testing.T) {
	d := newTestDetector()
	bookings := []*models.Booking{booking("B1", "R1", "10:00", "11:00", models.StatusConfirmed)}
	snapshot := *bookings[0]

	first := d.IsSlotBooked("09:00", "R1", testDay, bookings, 2, "")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.IsSlotBooked("09:00", "R1", testDay, bookings, 2, ""))
	}
	assert.Equal(t, snapshot, *bookings[0], "snapshot must not be mutated")
}

func TestIsSlotBooked_Concurrent(t *testing.T) {
	d := newTestDetector()
	bookings := []*models.Booking{booking("B1", "R1", "10:00", "11:00", models.StatusConfirmed)}

	var wg sync.WaitGroup
	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.IsSlotBooked("10:00", "R1", testDay, bookings, 1, "")
		}()
	}
	wg.Wait()
	close(results)

	for r := range results {
		assert.True(t, r)
	}
}

func TestIsSlotBooked_OverlapMatchesDefinition(t *testing.T) {
	d := newTestDetector()
	slots := DefaultCatalog().Slots()

	for _, existingStart := range slots {
		for existingLen := 1; existingLen <= 3; existingLen++ {
			es, _ := ParseClock(existingStart)
			existing := &models.Booking{
				ID:        "E",
				RoomID:    "R1",
				StartTime: testDay.Add(es),
				EndTime:   testDay.Add(es + time.Duration(existingLen)*time.Hour),
				Status:    models.StatusConfirmed,
			}

			for _, candidateStart := range slots {
				for candidateLen := 1; candidateLen <= 4; candidateLen++ {
					cs, _ := ParseClock(candidateStart)
					cStart := testDay.Add(cs)
					cEnd := cStart.Add(time.Duration(candidateLen) * time.Hour)
					if cEnd.After(testDay.Add(18 * time.Hour)) {
						continue
					}

					want := cStart.Before(existing.EndTime) && existing.StartTime.Before(cEnd)
					got := d.IsSlotBooked(candidateStart, "R1", testDay, []*models.Booking{existing}, float64(candidateLen), "")
					require.Equal(t, want, got, "candidate %s+%dh vs existing %s+%dh",
						candidateStart, candidateLen, existingStart, existingLen)
				}
			}
		}
	}
}

func TestDetector_NormalizesToLocalDay(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	d := NewDetector(DefaultCatalog(), loc)

	// 20:00 UTC on May 31 is already June 1 in UTC+8.
	date := time.Date(2024, 5, 31, 20, 0, 0, 0, time.UTC)
	start, end, err := d.Interval(date, "10:00", 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2024, 6, 1, 11, 0, 0, 0, loc), end)

	existing := &models.Booking{
		ID:        "B1",
		RoomID:    "R1",
		StartTime: time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC), // 10:00 local
		EndTime:   time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC),
		Status:    models.StatusConfirmed,
	}
	assert.True(t, d.IsSlotBooked("10:00", "R1", date, []*models.Booking{existing}, 1, ""))
	assert.False(t, d.IsSlotBooked("11:00", "R1", date, []*models.Booking{existing}, 1, ""))
}

func TestDetector_ClosingTimeAndStartOfDay(t *testing.T) {
	d := newTestDetector()
	date := time.Date(2024, 6, 1, 15, 42, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC), d.ClosingTime(date))
	assert.Equal(t, testDay, d.StartOfDay(date))
}

func TestDetector_Conflicts(t *testing.T) {
	d := newTestDetector()
	b1 := booking("B1", "R1", "10:00", "11:00", models.StatusConfirmed)
	b2 := booking("B2", "R1", "12:00", "13:00", models.StatusConfirmed)

	conflicts, err := d.Conflicts(Candidate{
		RoomID:        "R1",
		Date:          testDay,
		StartTime:     "10:00",
		DurationHours: 3,
	}, []*models.Booking{b1, b2})
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)

	_, err = d.Conflicts(Candidate{RoomID: "R1", Date: testDay, StartTime: "17:00", DurationHours: 2}, nil)
	assert.ErrorIs(t, err, ErrPastClosing)

	_, err = d.Conflicts(Candidate{RoomID: "R1", Date: testDay, StartTime: "10:00"}, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = d.Conflicts(Candidate{Date: testDay, StartTime: "10:00", DurationHours: 1}, nil)
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestDetector_SlotStatuses(t *testing.T) {
	d := newTestDetector()
	bookings := []*models.Booking{booking("B1", "R1", "10:00", "11:00", models.StatusConfirmed)}

	statuses := d.SlotStatuses("R1", testDay, 2, bookings, "")
	require.Len(t, statuses, len(DefaultSlots))

	booked := map[string]bool{}
	for _, s := range statuses {
		booked[s.Time] = s.Booked
	}
	assert.True(t, booked["09:00"])
	assert.True(t, booked["10:00"])
	assert.False(t, booked["11:00"])
	assert.False(t, booked["16:00"])
	assert.True(t, booked["17:00"], "17:00 + 2h passes closing")
}

func TestCheck_UsesCandidate(t *testing.T) {
	d := newTestDetector()
	bookings := []*models.Booking{booking("B1", "R1", "10:00", "11:00", models.StatusConfirmed)}

	assert.False(t, d.Check(Candidate{
		RoomID:            "R1",
		Date:              testDay,
		StartTime:         "10:00",
		DurationHours:     1,
		ExcludedBookingID: "B1",
	}, bookings))
}

func TestOverlaps(t *testing.T) {
	base := testDay.Add(10 * time.Hour)
	hour := time.Hour

	assert.True(t, Overlaps(base, base.Add(hour), base, base.Add(hour)))
	assert.True(t, Overlaps(base, base.Add(2*hour), base.Add(hour), base.Add(3*hour)))
	assert.False(t, Overlaps(base, base.Add(hour), base.Add(hour), base.Add(2*hour)))
	assert.False(t, Overlaps(base.Add(hour), base.Add(2*hour), base, base.Add(hour)))
}
