package domain

import (
	"context"
	"io"
	"time"

	"roombook/internal/models"
)

type BookingRepository interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// CreateBookingWithLock inserts the booking unless an active booking of the
	// same room overlaps it, in which case it returns database.ErrSlotUnavailable.
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	RescheduleBookingWithVersion(ctx context.Context, id string, version int64, start, end time.Time, status string) error
	UpdateBookingStatusWithVersion(ctx context.Context, id string, version int64, status string) error
	// GetRoomBookings returns every booking of the room that intersects [from, to), any status.
	GetRoomBookings(ctx context.Context, roomID string, from, to time.Time) ([]*models.Booking, error)
	GetUserBookings(ctx context.Context, userID string) ([]*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

type RoomRepository interface {
	ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	UpdateRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, id string) error
}

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUserStatus(ctx context.Context, id, status string) error
}

type SyncQueueRepository interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
}

// Repository is implemented by both the SQLite and the PostgreSQL stores.
type Repository interface {
	BookingRepository
	RoomRepository
	UserRepository
	SyncQueueRepository
	Ping(ctx context.Context) error
	io.Closer
}

// RateLimiter counts mutations per user in a fixed window.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID string, booking *models.Booking, status string) error
}

// SheetsWriter mirrors bookings into an external spreadsheet.
type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID string, status string) error
	ReplaceBookings(ctx context.Context, bookings []*models.Booking) error
}

// Notifier delivers human-readable messages to administrators.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string) error
}
