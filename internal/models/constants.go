package models

const (
	StatusConfirmed   = "confirmed"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

const (
	UserStatusApproved  = "approved"
	UserStatusPending   = "pending"
	UserStatusRejected  = "rejected"
	UserStatusSuspended = "suspended"
)

const (
	// DateLayout формат календарной даты в API и запросах
	DateLayout = "2006-01-02"

	// DefaultMinDurationHours минимальная длительность бронирования
	DefaultMinDurationHours = 1

	// DefaultMaxDurationHours максимальная длительность бронирования
	DefaultMaxDurationHours = 4

	// DefaultRateLimitWindow окно ограничения частоты бронирований в секундах
	DefaultRateLimitWindow = 60

	// DefaultRateLimitBookings количество бронирований в окне
	DefaultRateLimitBookings = 10

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128

	// RoomsCacheTTL время жизни кэша переговорных в памяти
	RoomsCacheTTL = 30 * 60 // 30 минут в секундах
)

var UserStatuses = []string{UserStatusApproved, UserStatusPending, UserStatusRejected, UserStatusSuspended}

func IsValidUserStatus(status string) bool {
	for _, s := range UserStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleManager || role == RoleUser
}
