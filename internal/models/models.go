package models

import "time"

// SlotStatus is one entry of a rendered slot list for a room and day.
type SlotStatus struct {
	Time   string `json:"time"`
	Booked bool   `json:"booked"`
}

// Availability describes a single availability decision.
type Availability struct {
	RoomID        string    `json:"room_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	DurationHours float64   `json:"duration_hours"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Available     bool      `json:"available"`
}

// Actor identifies the caller of a service operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanManage reports whether the actor may mutate a booking owned by ownerID.
func (a Actor) CanManage(ownerID string) bool {
	return a.IsAdmin() || a.Role == RoleManager || (a.UserID != "" && a.UserID == ownerID)
}
