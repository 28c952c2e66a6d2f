package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"roombook/internal/domain"
	"roombook/internal/models"
	"roombook/internal/schedule"

	"github.com/rs/zerolog"
)

type bookingLister interface {
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

type roomLister interface {
	ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error)
}

// DailyDigest sends administrators the next day's schedule once a day.
type DailyDigest struct {
	bookings bookingLister
	rooms    roomLister
	notifier domain.Notifier
	loc      *time.Location
	at       time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewDailyDigest parses at as HH:MM in loc.
func NewDailyDigest(bookings bookingLister, rooms roomLister, notifier domain.Notifier, at string, loc *time.Location, logger *zerolog.Logger) (*DailyDigest, error) {
	offset, err := schedule.ParseClock(at)
	if err != nil {
		return nil, fmt.Errorf("digest time: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DailyDigest{
		bookings: bookings,
		rooms:    rooms,
		notifier: notifier,
		loc:      loc,
		at:       offset,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start waits for the next send time, then repeats every 24h until ctx is done.
func (d *DailyDigest) Start(ctx context.Context) {
	timer := time.NewTimer(d.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := d.SendTomorrow(ctx); err != nil {
				d.logger.Error().Err(err).Msg("daily digest failed")
			}
			timer.Reset(d.untilNext())
		}
	}
}

func (d *DailyDigest) untilNext() time.Duration {
	now := d.now().In(d.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.loc)
	next := midnight.Add(d.at)
	if !next.After(now) {
		next = midnight.AddDate(0, 0, 1).Add(d.at)
	}
	return next.Sub(now)
}

// SendTomorrow posts the active bookings of the next calendar day.
func (d *DailyDigest) SendTomorrow(ctx context.Context) error {
	now := d.now().In(d.loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.loc).AddDate(0, 0, 1)

	bookings, err := d.bookings.ListBookings(ctx, models.BookingFilter{
		Status: models.StatusConfirmed,
		From:   day,
		To:     day.AddDate(0, 0, 1),
	})
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	rooms, err := d.rooms.ListRooms(ctx, false)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	text := FormatDigest(day, bookings, rooms, d.loc)
	if err := d.notifier.NotifyAdmins(ctx, text); err != nil {
		return err
	}
	d.logger.Info().Str("day", day.Format(models.DateLayout)).Int("bookings", len(bookings)).Msg("daily digest sent")
	return nil
}

// FormatDigest renders bookings grouped by room, ordered by start time.
func FormatDigest(day time.Time, bookings []*models.Booking, rooms []*models.Room, loc *time.Location) string {
	names := make(map[string]string, len(rooms))
	for _, r := range rooms {
		names[r.ID] = r.Name
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Бронирования на %s", day.In(loc).Format("02.01.2006"))
	if len(bookings) == 0 {
		sb.WriteString("\nБронирований нет")
		return sb.String()
	}

	sorted := append([]*models.Booking(nil), bookings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ni, nj := roomName(names, sorted[i].RoomID), roomName(names, sorted[j].RoomID)
		if ni != nj {
			return ni < nj
		}
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	current := ""
	for _, b := range sorted {
		name := roomName(names, b.RoomID)
		if name != current {
			fmt.Fprintf(&sb, "\n\n%s", name)
			current = name
		}
		fmt.Fprintf(&sb, "\n%s–%s %s (%s)",
			b.StartTime.In(loc).Format("15:04"),
			b.EndTime.In(loc).Format("15:04"),
			b.Title,
			b.UserID,
		)
	}
	return sb.String()
}

func roomName(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return "Room " + id
}
