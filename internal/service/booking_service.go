package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roombook/internal/config"
	"roombook/internal/database"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/metrics"
	"roombook/internal/models"
	"roombook/internal/schedule"
	"roombook/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// BookingInput is the payload of a new reservation.
type BookingInput struct {
	RoomID        string  `json:"room_id" validate:"required,max=64"`
	Date          string  `json:"date" validate:"required,date"`
	StartTime     string  `json:"start_time" validate:"required,clock"`
	DurationHours float64 `json:"duration_hours" validate:"required,gt=0"`
	Title         string  `json:"title" validate:"max=200"`
}

// RescheduleInput moves an existing reservation inside its room.
type RescheduleInput struct {
	Date          string  `json:"date" validate:"required,date"`
	StartTime     string  `json:"start_time" validate:"required,clock"`
	DurationHours float64 `json:"duration_hours" validate:"required,gt=0"`
}

type BookingService struct {
	repo         domain.Repository
	detector     *schedule.Detector
	cfg          config.ScheduleConfig
	limiter      domain.RateLimiter
	eventBus     domain.EventPublisher
	sheetsWorker domain.SyncWorker
	notifier     domain.Notifier
	validator    *Validator
	logger       *zerolog.Logger
	now          func() time.Time
}

func NewBookingService(
	repo domain.Repository,
	detector *schedule.Detector,
	cfg config.ScheduleConfig,
	limiter domain.RateLimiter,
	eventBus domain.EventPublisher,
	sheetsWorker domain.SyncWorker,
	notifier domain.Notifier,
	logger *zerolog.Logger,
) *BookingService {
	if detector == nil {
		detector = schedule.NewDetector(nil, time.Local)
	}
	if cfg.MinDurationHours <= 0 {
		cfg.MinDurationHours = models.DefaultMinDurationHours
	}
	if cfg.MaxDurationHours <= 0 {
		cfg.MaxDurationHours = models.DefaultMaxDurationHours
	}
	if cfg.MaxAdvanceDays <= 0 {
		cfg.MaxAdvanceDays = 365
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		repo:         repo,
		detector:     detector,
		cfg:          cfg,
		limiter:      limiter,
		eventBus:     eventBus,
		sheetsWorker: sheetsWorker,
		notifier:     notifier,
		validator:    NewValidator(),
		logger:       logger,
		now:          time.Now,
	}
}

func (s *BookingService) Detector() *schedule.Detector {
	return s.detector
}

// ParseDate reads a YYYY-MM-DD day in the schedule's time zone.
func (s *BookingService) ParseDate(raw string) (time.Time, error) {
	date, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(raw), s.detector.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be in YYYY-MM-DD format", ErrInvalidInput)
	}
	return date, nil
}

func (s *BookingService) ValidateBookingDate(date time.Time) error {
	today := s.detector.StartOfDay(s.now())
	day := s.detector.StartOfDay(date)

	// Проверяем, что дата не в прошлом
	if day.Before(today) {
		return ErrPastDate
	}

	// Проверяем максимальную дату
	if day.After(today.AddDate(0, 0, s.cfg.MaxAdvanceDays)) {
		return ErrDateTooFar
	}
	return nil
}

func (s *BookingService) validateDuration(hours float64) error {
	if hours < s.cfg.MinDurationHours || hours > s.cfg.MaxDurationHours {
		return fmt.Errorf("%w: duration must be between %g and %g hours",
			ErrInvalidInput, s.cfg.MinDurationHours, s.cfg.MaxDurationHours)
	}
	return nil
}

// prepare runs the checks shared by create and reschedule and returns the
// candidate together with its absolute interval.
func (s *BookingService) prepare(
	ctx context.Context,
	actor models.Actor,
	roomID, rawDate, startTime string,
	hours float64,
) (*models.Room, schedule.Candidate, error) {
	var candidate schedule.Candidate

	date, err := s.ParseDate(rawDate)
	if err != nil {
		return nil, candidate, err
	}
	if err := s.validateDuration(hours); err != nil {
		return nil, candidate, err
	}
	if !s.detector.Catalog().Contains(startTime) {
		return nil, candidate, fmt.Errorf("%w: %s is not a bookable slot", ErrOutsideHours, startTime)
	}
	if err := s.ValidateBookingDate(date); err != nil {
		return nil, candidate, err
	}

	user, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, candidate, ErrUserNotApproved
		}
		return nil, candidate, err
	}
	if !user.IsApproved() {
		return nil, candidate, ErrUserNotApproved
	}

	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, candidate, err
	}
	if !room.IsActive {
		return nil, candidate, ErrRoomInactive
	}

	if err := s.checkRateLimit(ctx, actor.UserID); err != nil {
		return nil, candidate, err
	}

	candidate = schedule.Candidate{
		RoomID:        room.ID,
		Date:          date,
		StartTime:     startTime,
		DurationHours: hours,
	}
	return room, candidate, nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, userID string) error {
	if s.limiter == nil || s.cfg.RateLimitBookings <= 0 {
		return nil
	}
	allowed, err := s.limiter.CheckRateLimit(ctx, userID, s.cfg.RateLimitBookings, s.cfg.RateWindow())
	if err != nil {
		// Лимитер недоступен: не блокируем бронирование
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("rate limit check failed")
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// ensureFree loads the room's bookings for the candidate day and runs the detector.
func (s *BookingService) ensureFree(ctx context.Context, c schedule.Candidate) (time.Time, time.Time, error) {
	dayStart := s.detector.StartOfDay(c.Date)
	bookings, err := s.repo.GetRoomBookings(ctx, c.RoomID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	conflicts, err := s.detector.Conflicts(c, bookings)
	metrics.ObserveConflictCheck(err != nil || len(conflicts) > 0)
	if err != nil {
		if errors.Is(err, schedule.ErrPastClosing) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: booking must end by %s", ErrOutsideHours, s.detector.Catalog().ClosingBoundary())
		}
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(conflicts) > 0 {
		return time.Time{}, time.Time{}, database.ErrSlotUnavailable
	}

	return s.detector.Interval(c.Date, c.StartTime, c.DurationHours)
}

func (s *BookingService) CreateBooking(ctx context.Context, actor models.Actor, in BookingInput) (_ *models.Booking, err error) {
	ctx, span := tracing.Start(ctx, "BookingService.CreateBooking",
		attribute.String("room.id", in.RoomID), attribute.String("user.id", actor.UserID))
	defer func() {
		metrics.IncBookingMutation("create", outcome(err))
		tracing.End(span, err)
	}()

	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	room, candidate, err := s.prepare(ctx, actor, in.RoomID, in.Date, in.StartTime, in.DurationHours)
	if err != nil {
		return nil, err
	}

	start, end, err := s.ensureFree(ctx, candidate)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = room.Name
	}
	booking := &models.Booking{
		RoomID:    room.ID,
		UserID:    actor.UserID,
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Status:    models.StatusConfirmed,
	}

	// Хранилище повторно проверяет пересечение внутри транзакции
	if err := s.repo.CreateBookingWithLock(ctx, booking); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("room_id", room.ID).
		Str("user_id", actor.UserID).
		Time("start", start).
		Time("end", end).
		Msg("booking created")

	s.publishEvent(events.EventBookingCreated, booking, room.Name, actor.UserID)
	s.enqueueSync(ctx, booking, models.SyncTaskUpsert)
	s.notify(ctx, "Новое бронирование", booking, room.Name)

	return booking, nil
}

func (s *BookingService) RescheduleBooking(
	ctx context.Context,
	actor models.Actor,
	bookingID string,
	in RescheduleInput,
) (_ *models.Booking, err error) {
	ctx, span := tracing.Start(ctx, "BookingService.RescheduleBooking",
		attribute.String("booking.id", bookingID), attribute.String("user.id", actor.UserID))
	defer func() {
		metrics.IncBookingMutation("reschedule", outcome(err))
		tracing.End(span, err)
	}()

	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(current.UserID) {
		return nil, ErrForbidden
	}
	if !current.IsActive() {
		return nil, ErrBookingCancelled
	}

	room, candidate, err := s.prepare(ctx, actor, current.RoomID, in.Date, in.StartTime, in.DurationHours)
	if err != nil {
		return nil, err
	}
	candidate.ExcludedBookingID = current.ID

	start, end, err := s.ensureFree(ctx, candidate)
	if err != nil {
		return nil, err
	}

	err = s.repo.RescheduleBookingWithVersion(ctx, current.ID, current.Version, start, end, models.StatusConfirmed)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.GetBooking(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", updated.ID).
		Str("changed_by", actor.UserID).
		Time("start", start).
		Time("end", end).
		Msg("booking rescheduled")

	s.publishEvent(events.EventBookingRescheduled, updated, room.Name, actor.UserID)
	s.enqueueSync(ctx, updated, models.SyncTaskUpsert)
	s.notify(ctx, "Бронирование перенесено", updated, room.Name)

	return updated, nil
}

// CancelBooking soft-deletes the booking. Cancelling twice is a no-op.
func (s *BookingService) CancelBooking(ctx context.Context, actor models.Actor, bookingID string) (_ *models.Booking, err error) {
	ctx, span := tracing.Start(ctx, "BookingService.CancelBooking",
		attribute.String("booking.id", bookingID), attribute.String("user.id", actor.UserID))
	defer func() {
		metrics.IncBookingMutation("cancel", outcome(err))
		tracing.End(span, err)
	}()

	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(current.UserID) {
		return nil, ErrForbidden
	}
	if !current.IsActive() {
		return current, nil
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, current.ID, current.Version, models.StatusCancelled); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetBooking(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	roomName := updated.RoomID
	if room, err := s.repo.GetRoom(ctx, updated.RoomID); err == nil {
		roomName = room.Name
	}

	s.logger.Info().Str("booking_id", updated.ID).Str("changed_by", actor.UserID).Msg("booking cancelled")

	s.publishEvent(events.EventBookingCancelled, updated, roomName, actor.UserID)
	s.enqueueSync(ctx, updated, models.SyncTaskUpdateStatus)
	s.notify(ctx, "Бронирование отменено", updated, roomName)

	return updated, nil
}

func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(booking.UserID) {
		return nil, ErrForbidden
	}
	return booking, nil
}

// ListUserBookings returns the user's bookings, newest first.
func (s *BookingService) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.repo.GetUserBookings(ctx, userID)
}

// ListBookings is the administrative listing ordered by start time, newest first.
func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	if filter.Status != "" && filter.Status != models.StatusConfirmed &&
		filter.Status != models.StatusCancelled && filter.Status != models.StatusRescheduled {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	return s.repo.ListBookings(ctx, filter)
}

// CheckSlot answers whether a single slot can be booked. Malformed input is
// reported as unavailable rather than as an error.
func (s *BookingService) CheckSlot(
	ctx context.Context,
	roomID string,
	date time.Time,
	startTime string,
	durationHours float64,
	excludedBookingID string,
) (_ *models.Availability, err error) {
	ctx, span := tracing.Start(ctx, "BookingService.CheckSlot",
		attribute.String("room.id", roomID), attribute.String("slot.start", startTime))
	defer func() { tracing.End(span, err) }()

	if _, err := s.repo.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	bookings, err := s.dayBookings(ctx, roomID, date)
	if err != nil {
		return nil, err
	}

	booked := s.detector.IsSlotBooked(startTime, roomID, date, bookings, durationHours, excludedBookingID)
	metrics.ObserveConflictCheck(booked)

	result := &models.Availability{
		RoomID:        roomID,
		Date:          date.In(s.detector.Location()).Format(models.DateLayout),
		StartTime:     startTime,
		DurationHours: durationHours,
		Available:     !booked,
	}
	if start, end, err := s.detector.Interval(date, startTime, durationHours); err == nil {
		result.Start = start
		result.End = end
	}
	return result, nil
}

// SlotAvailability renders every catalog slot of the day for the room.
func (s *BookingService) SlotAvailability(
	ctx context.Context,
	roomID string,
	date time.Time,
	durationHours float64,
	excludedBookingID string,
) (_ []models.SlotStatus, err error) {
	ctx, span := tracing.Start(ctx, "BookingService.SlotAvailability", attribute.String("room.id", roomID))
	defer func() { tracing.End(span, err) }()

	if _, err := s.repo.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	bookings, err := s.dayBookings(ctx, roomID, date)
	if err != nil {
		return nil, err
	}
	return s.detector.SlotStatuses(roomID, date, durationHours, bookings, excludedBookingID), nil
}

func (s *BookingService) dayBookings(ctx context.Context, roomID string, date time.Time) ([]*models.Booking, error) {
	if date.IsZero() {
		return nil, nil
	}
	dayStart := s.detector.StartOfDay(date)
	return s.repo.GetRoomBookings(ctx, roomID, dayStart, dayStart.AddDate(0, 0, 1))
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, roomName, changedBy string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID: booking.ID,
		RoomID:    booking.RoomID,
		RoomName:  roomName,
		UserID:    booking.UserID,
		Title:     booking.Title,
		Status:    booking.Status,
		StartTime: booking.StartTime,
		EndTime:   booking.EndTime,
		ChangedBy: changedBy,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, booking *models.Booking, taskType string) {
	if s.sheetsWorker == nil {
		return
	}

	var status string
	if taskType == models.SyncTaskUpdateStatus {
		status = booking.Status
	}

	if err := s.sheetsWorker.EnqueueTask(ctx, taskType, booking.ID, booking, status); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}

func (s *BookingService) notify(ctx context.Context, title string, booking *models.Booking, roomName string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAdmins(ctx, FormatBookingNotice(title, booking, roomName, s.detector.Location())); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("notify admins error")
	}
}

// FormatBookingNotice renders a booking for administrator notifications.
func FormatBookingNotice(title string, b *models.Booking, roomName string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	start := b.StartTime.In(loc)
	end := b.EndTime.In(loc)
	return fmt.Sprintf("%s\n%s: %s %s–%s\nПользователь: %s\nСтатус: %s\nID: %s",
		title,
		roomName,
		start.Format(models.DateLayout),
		start.Format("15:04"),
		end.Format("15:04"),
		b.UserID,
		b.Status,
		b.ID,
	)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, database.ErrSlotUnavailable):
		return "conflict"
	case errors.Is(err, database.ErrConcurrentModification):
		return "version_conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "rejected"
	}
}
