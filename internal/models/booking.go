package models

import "time"

type Booking struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"` // confirmed, cancelled, rescheduled
	BookedAt  time.Time `json:"booked_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// IsActive reports whether the booking still occupies its interval.
func (b *Booking) IsActive() bool {
	return b.Status != StatusCancelled
}

// DurationHours returns the length of the reserved interval in hours.
func (b *Booking) DurationHours() float64 {
	return b.EndTime.Sub(b.StartTime).Hours()
}

// BookingFilter narrows administrative booking listings. Zero values are ignored.
type BookingFilter struct {
	RoomID string
	UserID string
	Status string
	From   time.Time
	To     time.Time
	Limit  int
}
