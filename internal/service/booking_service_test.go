package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"roombook/internal/config"
	"roombook/internal/database"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/models"
	"roombook/internal/repository"
	"roombook/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

const testDate = "2024-06-03"

var (
	alice = models.Actor{UserID: "u1", Role: models.RoleUser}
	bob   = models.Actor{UserID: "u2", Role: models.RoleUser}
	admin = models.Actor{UserID: "admin", Role: models.RoleAdmin}
)

type bookingEnv struct {
	svc      *BookingService
	db       *database.DB
	bus      *mockPublisher
	worker   *mockWorker
	notifier *mockNotifier
	room     *models.Room
}

func newBookingEnv(t *testing.T, limiter domain.RateLimiter) *bookingEnv {
	t.Helper()
	return newBookingEnvAt(t, ":memory:", limiter)
}

func newBookingEnvAt(t *testing.T, path string, limiter domain.RateLimiter) *bookingEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	room := &models.Room{Name: "Everest", Capacity: 8, IsActive: true}
	require.NoError(t, db.CreateRoom(ctx, room))

	for _, u := range []*models.User{
		{ID: "u1", Username: "alice", Role: models.RoleUser, Status: models.UserStatusApproved},
		{ID: "u2", Username: "bob", Role: models.RoleUser, Status: models.UserStatusApproved},
		{ID: "admin", Username: "root", Role: models.RoleAdmin, Status: models.UserStatusApproved},
		{ID: "u3", Username: "carol", Role: models.RoleUser, Status: models.UserStatusPending},
	} {
		require.NoError(t, db.UpsertUser(ctx, u))
	}

	bus := new(mockPublisher)
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Maybe()
	worker := new(mockWorker)
	worker.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier := new(mockNotifier)
	notifier.On("NotifyAdmins", mock.Anything, mock.Anything).Return(nil).Maybe()

	if limiter == nil {
		limiter = repository.NewMemoryRateLimiter()
	}

	cfg := config.ScheduleConfig{
		MinDurationHours:  1,
		MaxDurationHours:  4,
		MaxAdvanceDays:    30,
		RateLimitBookings: 100,
		RateLimitWindow:   60,
	}
	detector := schedule.NewDetector(schedule.DefaultCatalog(), time.UTC)
	svc := NewBookingService(db, detector, cfg, limiter, bus, worker, notifier, nil)
	svc.now = func() time.Time { return testNow }

	return &bookingEnv{svc: svc, db: db, bus: bus, worker: worker, notifier: notifier, room: room}
}

func (e *bookingEnv) input(start string, hours float64) BookingInput {
	return BookingInput{RoomID: e.room.ID, Date: testDate, StartTime: start, DurationHours: hours}
}

func (e *bookingEnv) mustCreate(t *testing.T, actor models.Actor, start string, hours float64) *models.Booking {
	t.Helper()
	b, err := e.svc.CreateBooking(context.Background(), actor, e.input(start, hours))
	require.NoError(t, err)
	return b
}

func utcAt(hour int) time.Time {
	return time.Date(2024, 6, 3, hour, 0, 0, 0, time.UTC)
}

func TestCreateBooking_Success(t *testing.T) {
	env := newBookingEnv(t, nil)

	b, err := env.svc.CreateBooking(context.Background(), alice, env.input("10:00", 2))
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "Everest", b.Title)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, "u1", b.UserID)
	assert.True(t, b.StartTime.Equal(utcAt(10)))
	assert.True(t, b.EndTime.Equal(utcAt(12)))

	stored, err := env.db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.RoomID, stored.RoomID)

	env.bus.AssertCalled(t, "PublishJSON", events.EventBookingCreated, mock.MatchedBy(func(p events.BookingEventPayload) bool {
		return p.BookingID == b.ID && p.RoomName == "Everest" && p.ChangedBy == "u1"
	}))
	env.worker.AssertCalled(t, "EnqueueTask", mock.Anything, models.SyncTaskUpsert, b.ID, mock.Anything, "")
	env.notifier.AssertNumberOfCalls(t, "NotifyAdmins", 1)
}

func TestCreateBooking_KeepsTitle(t *testing.T) {
	env := newBookingEnv(t, nil)
	in := env.input("09:00", 1)
	in.Title = "  Sprint planning "

	b, err := env.svc.CreateBooking(context.Background(), alice, in)
	require.NoError(t, err)
	assert.Equal(t, "Sprint planning", b.Title)
}

func TestCreateBooking_Overlaps(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()
	env.mustCreate(t, alice, "10:00", 1)

	tests := []struct {
		name  string
		start string
		hours float64
		err   error
	}{
		{"same slot", "10:00", 1, database.ErrSlotUnavailable},
		{"covers existing", "09:00", 2, database.ErrSlotUnavailable},
		{"starts inside", "10:00", 3, database.ErrSlotUnavailable},
		{"right after", "11:00", 1, nil},
		{"right before", "09:00", 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateBooking(ctx, bob, env.input(tt.start, tt.hours))
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCreateBooking_OtherRoomIsIndependent(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()
	env.mustCreate(t, alice, "10:00", 1)

	other := &models.Room{Name: "Kilimanjaro", IsActive: true}
	require.NoError(t, env.db.CreateRoom(ctx, other))

	_, err := env.svc.CreateBooking(ctx, bob, BookingInput{RoomID: other.ID, Date: testDate, StartTime: "10:00", DurationHours: 1})
	assert.NoError(t, err)
}

func TestCreateBooking_CancelledFreesSlot(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()

	b := env.mustCreate(t, alice, "10:00", 1)
	_, err := env.svc.CancelBooking(ctx, alice, b.ID)
	require.NoError(t, err)

	_, err = env.svc.CreateBooking(ctx, bob, env.input("10:00", 1))
	assert.NoError(t, err)
}

func TestCreateBooking_ClosingBoundary(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateBooking(ctx, alice, env.input("17:00", 2))
	assert.ErrorIs(t, err, ErrOutsideHours)

	_, err = env.svc.CreateBooking(ctx, alice, env.input("16:00", 2))
	assert.NoError(t, err)
}

func TestCreateBooking_InvalidInput(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *BookingInput)
		err    error
	}{
		{"missing room", func(in *BookingInput) { in.RoomID = "" }, ErrInvalidInput},
		{"bad date", func(in *BookingInput) { in.Date = "03.06.2024" }, ErrInvalidInput},
		{"bad clock", func(in *BookingInput) { in.StartTime = "25:00" }, ErrInvalidInput},
		{"zero duration", func(in *BookingInput) { in.DurationHours = 0 }, ErrInvalidInput},
		{"negative duration", func(in *BookingInput) { in.DurationHours = -1 }, ErrInvalidInput},
		{"too short", func(in *BookingInput) { in.DurationHours = 0.5 }, ErrInvalidInput},
		{"too long", func(in *BookingInput) { in.DurationHours = 5 }, ErrInvalidInput},
		{"long title", func(in *BookingInput) { in.Title = string(make([]byte, 201)) }, ErrInvalidInput},
		{"off catalog", func(in *BookingInput) { in.StartTime = "09:30" }, ErrOutsideHours},
		{"before opening", func(in *BookingInput) { in.StartTime = "08:00" }, ErrOutsideHours},
		{"past date", func(in *BookingInput) { in.Date = "2024-05-31" }, ErrPastDate},
		{"too far ahead", func(in *BookingInput) { in.Date = "2024-08-01" }, ErrDateTooFar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := env.input("10:00", 1)
			tt.mutate(&in)
			_, err := env.svc.CreateBooking(ctx, alice, in)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	env.worker.AssertNotCalled(t, "EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateBooking_ValidationErrorsDescribeFields(t *testing.T) {
	env := newBookingEnv(t, nil)

	_, err := env.svc.CreateBooking(context.Background(), alice, BookingInput{})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"room_id", "date", "start_time", "duration_hours"}, fields)
}

func TestCreateBooking_Preconditions(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()

	inactive := &models.Room{Name: "Closed", IsActive: false}
	require.NoError(t, env.db.CreateRoom(ctx, inactive))

	t.Run("pending user", func(t *testing.T) {
		_, err := env.svc.CreateBooking(ctx, models.Actor{UserID: "u3"}, env.input("10:00", 1))
		assert.ErrorIs(t, err, ErrUserNotApproved)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.svc.CreateBooking(ctx, models.Actor{UserID: "ghost"}, env.input("10:00", 1))
		assert.ErrorIs(t, err, ErrUserNotApproved)
	})

	t.Run("inactive room", func(t *testing.T) {
		in := env.input("10:00", 1)
		in.RoomID = inactive.ID
		_, err := env.svc.CreateBooking(ctx, alice, in)
		assert.ErrorIs(t, err, ErrRoomInactive)
	})

	t.Run("unknown room", func(t *testing.T) {
		in := env.input("10:00", 1)
		in.RoomID = "missing"
		_, err := env.svc.CreateBooking(ctx, alice, in)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestCreateBooking_RateLimit(t *testing.T) {
	t.Run("limited", func(t *testing.T) {
		limiter := new(mockLimiter)
		limiter.On("CheckRateLimit", mock.Anything, "u1", 100, time.Minute).Return(false, nil).Once()
		env := newBookingEnv(t, limiter)

		_, err := env.svc.CreateBooking(context.Background(), alice, env.input("10:00", 1))
		assert.ErrorIs(t, err, ErrRateLimited)
		limiter.AssertExpectations(t)
	})

	t.Run("limiter failure does not block", func(t *testing.T) {
		limiter := new(mockLimiter)
		limiter.On("CheckRateLimit", mock.Anything, "u1", 100, time.Minute).Return(false, errors.New("redis down")).Once()
		env := newBookingEnv(t, limiter)

		_, err := env.svc.CreateBooking(context.Background(), alice, env.input("10:00", 1))
		assert.NoError(t, err)
	})
}

func TestCreateBooking_Concurrent(t *testing.T) {
	env := newBookingEnvAt(t, filepath.Join(t.TempDir(), "rooms.db"), nil)
	ctx := context.Background()

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateBooking(ctx, alice, env.input("10:00", 2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, database.ErrSlotUnavailable):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func TestRescheduleBooking(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()

	a := env.mustCreate(t, alice, "10:00", 1)
	env.mustCreate(t, bob, "13:00", 1)

	t.Run("extends over its own interval", func(t *testing.T) {
		got, err := env.svc.RescheduleBooking(ctx, alice, a.ID, RescheduleInput{Date: testDate, StartTime: "10:00", DurationHours: 2})
		require.NoError(t, err)
		assert.True(t, got.EndTime.Equal(utcAt(12)))
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, models.StatusConfirmed, got.Status)
	})

	t.Run("moves back to back with another booking", func(t *testing.T) {
		got, err := env.svc.RescheduleBooking(ctx, alice, a.ID, RescheduleInput{Date: testDate, StartTime: "11:00", DurationHours: 2})
		require.NoError(t, err)
		assert.True(t, got.StartTime.Equal(utcAt(11)))
		assert.True(t, got.EndTime.Equal(utcAt(13)))
	})

	t.Run("overlap is rejected", func(t *testing.T) {
		_, err := env.svc.RescheduleBooking(ctx, alice, a.ID, RescheduleInput{Date: testDate, StartTime: "12:00", DurationHours: 2})
		assert.ErrorIs(t, err, database.ErrSlotUnavailable)
	})

	t.Run("someone else's booking", func(t *testing.T) {
		_, err := env.svc.RescheduleBooking(ctx, bob, a.ID, RescheduleInput{Date: testDate, StartTime: "15:00", DurationHours: 1})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("admin may move any booking", func(t *testing.T) {
		got, err := env.svc.RescheduleBooking(ctx, admin, a.ID, RescheduleInput{Date: testDate, StartTime: "15:00", DurationHours: 1})
		require.NoError(t, err)
		assert.True(t, got.StartTime.Equal(utcAt(15)))
	})

	t.Run("missing booking", func(t *testing.T) {
		_, err := env.svc.RescheduleBooking(ctx, alice, "missing", RescheduleInput{Date: testDate, StartTime: "15:00", DurationHours: 1})
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	env.bus.AssertCalled(t, "PublishJSON", events.EventBookingRescheduled, mock.Anything)
}

func TestRescheduleBooking_Cancelled(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()

	b := env.mustCreate(t, alice, "10:00", 1)
	_, err := env.svc.CancelBooking(ctx, alice, b.ID)
	require.NoError(t, err)

	_, err = env.svc.RescheduleBooking(ctx, alice, b.ID, RescheduleInput{Date: testDate, StartTime: "11:00", DurationHours: 1})
	assert.ErrorIs(t, err, ErrBookingCancelled)
}

func TestCancelBooking(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()
	b := env.mustCreate(t, alice, "10:00", 1)

	_, err := env.svc.CancelBooking(ctx, bob, b.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := env.svc.CancelBooking(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	again, err := env.svc.CancelBooking(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)

	env.bus.AssertNumberOfCalls(t, "PublishJSON", 2)
	env.bus.AssertCalled(t, "PublishJSON", events.EventBookingCancelled, mock.Anything)
	env.worker.AssertCalled(t, "EnqueueTask", mock.Anything, models.SyncTaskUpdateStatus, b.ID, mock.Anything, models.StatusCancelled)

	_, err = env.svc.CancelBooking(ctx, alice, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCancelBooking_VersionConflict(t *testing.T) {
	repo := new(mockRepo)
	booking := &models.Booking{ID: "b1", RoomID: "r1", UserID: "u1", Status: models.StatusConfirmed, Version: 3}
	repo.On("GetBooking", mock.Anything, "b1").Return(booking, nil).Once()
	repo.On("UpdateBookingStatusWithVersion", mock.Anything, "b1", int64(3), models.StatusCancelled).
		Return(database.ErrConcurrentModification).Once()

	svc := NewBookingService(repo, nil, config.ScheduleConfig{}, nil, nil, nil, nil, nil)
	_, err := svc.CancelBooking(context.Background(), alice, "b1")
	assert.ErrorIs(t, err, database.ErrConcurrentModification)
	repo.AssertExpectations(t)
}

func TestSideEffectFailuresDoNotFailMutation(t *testing.T) {
	env := newBookingEnv(t, nil)

	bus := new(mockPublisher)
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(errors.New("kafka down"))
	worker := new(mockWorker)
	worker.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("queue full"))
	notifier := new(mockNotifier)
	notifier.On("NotifyAdmins", mock.Anything, mock.Anything).Return(errors.New("telegram down"))
	env.svc.eventBus = bus
	env.svc.sheetsWorker = worker
	env.svc.notifier = notifier

	_, err := env.svc.CreateBooking(context.Background(), alice, env.input("10:00", 1))
	assert.NoError(t, err)
}

func TestGetBooking(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()
	b := env.mustCreate(t, alice, "10:00", 1)

	got, err := env.svc.GetBooking(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = env.svc.GetBooking(ctx, bob, b.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.GetBooking(ctx, admin, b.ID)
	assert.NoError(t, err)
}

func TestListBookings(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()
	env.mustCreate(t, alice, "09:00", 1)
	env.mustCreate(t, bob, "11:00", 1)
	env.mustCreate(t, alice, "14:00", 1)

	mine, err := env.svc.ListUserBookings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.True(t, mine[0].StartTime.After(mine[1].StartTime))

	all, err := env.svc.ListBookings(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = env.svc.ListBookings(ctx, models.BookingFilter{Status: "deleted"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCheckSlot(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()
	b := env.mustCreate(t, alice, "10:00", 1)
	date, err := env.svc.ParseDate(testDate)
	require.NoError(t, err)

	tests := []struct {
		name      string
		start     string
		hours     float64
		exclude   string
		available bool
	}{
		{"booked slot", "10:00", 1, "", false},
		{"next slot", "11:00", 1, "", true},
		{"overlapping duration", "09:00", 2, "", false},
		{"excluded booking", "10:00", 1, b.ID, true},
		{"past closing", "17:00", 2, "", false},
		{"missing start", "", 1, "", false},
		{"zero duration", "12:00", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.svc.CheckSlot(ctx, env.room.ID, date, tt.start, tt.hours, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.available, got.Available)
			assert.Equal(t, testDate, got.Date)
		})
	}

	_, err = env.svc.CheckSlot(ctx, "missing", date, "10:00", 1, "")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSlotAvailability(t *testing.T) {
	env := newBookingEnv(t, nil)
	ctx := context.Background()
	env.mustCreate(t, alice, "10:00", 1)
	date, err := env.svc.ParseDate(testDate)
	require.NoError(t, err)

	slots, err := env.svc.SlotAvailability(ctx, env.room.ID, date, 1, "")
	require.NoError(t, err)
	require.Len(t, slots, len(schedule.DefaultSlots))

	booked := map[string]bool{}
	for _, s := range slots {
		booked[s.Time] = s.Booked
	}
	assert.True(t, booked["10:00"])
	assert.False(t, booked["09:00"])
	assert.False(t, booked["17:00"])

	slots, err = env.svc.SlotAvailability(ctx, env.room.ID, date, 2, "")
	require.NoError(t, err)
	booked = map[string]bool{}
	for _, s := range slots {
		booked[s.Time] = s.Booked
	}
	assert.True(t, booked["09:00"])
	assert.True(t, booked["17:00"])
	assert.False(t, booked["11:00"])
}

func TestParseDate(t *testing.T) {
	svc := NewBookingService(new(mockRepo), schedule.NewDetector(nil, time.UTC), config.ScheduleConfig{}, nil, nil, nil, nil, nil)

	d, err := svc.ParseDate(" 2024-06-03 ")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, d.Location())

	_, err = svc.ParseDate("yesterday")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFormatBookingNotice(t *testing.T) {
	b := &models.Booking{ID: "b1", UserID: "u1", Status: models.StatusConfirmed, StartTime: utcAt(10), EndTime: utcAt(12)}
	text := FormatBookingNotice("Новое бронирование", b, "Everest", time.UTC)

	assert.Contains(t, text, "Новое бронирование")
	assert.Contains(t, text, "Everest: 2024-06-03 10:00–12:00")
	assert.Contains(t, text, "u1")
	assert.Contains(t, text, "b1")
}
