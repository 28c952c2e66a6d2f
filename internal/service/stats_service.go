package service

import (
	"math"
	"sort"
	"time"

	"roombook/internal/models"
)

const notAvailable = "N/A"

// Weekdays orders the frequency chart from Monday.
var Weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

type NamedCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type Stats struct {
	TotalBookings             int          `json:"total_bookings"`
	MostPopularRoomName       string       `json:"most_popular_room_name"`
	MostPopularRoomPercentage int          `json:"most_popular_room_percentage"`
	BookingFrequency          []NamedCount `json:"booking_frequency"`
	RoomPopularity            []NamedCount `json:"room_popularity"`
	DepartmentBookings        []NamedCount `json:"department_bookings"`
	// ActiveUsers число известных пользователей, у которых есть хотя бы одна бронь
	ActiveUsers          int     `json:"active_users"`
	AverageDurationHours float64 `json:"average_duration_hours"`
}

// StatsService aggregates usage figures for the admin dashboard.
type StatsService struct {
	loc *time.Location
}

func NewStatsService(loc *time.Location) *StatsService {
	if loc == nil {
		loc = time.Local
	}
	return &StatsService{loc: loc}
}

func (s *StatsService) Compute(bookings []*models.Booking, users []*models.User, rooms []*models.Room) Stats {
	stats := Stats{
		MostPopularRoomName: notAvailable,
		BookingFrequency:    make([]NamedCount, len(Weekdays)),
		RoomPopularity:      []NamedCount{},
		DepartmentBookings:  []NamedCount{},
	}
	for i, day := range Weekdays {
		stats.BookingFrequency[i].Name = day
	}

	roomNames := make(map[string]string, len(rooms))
	for _, r := range rooms {
		if r != nil {
			roomNames[r.ID] = r.Name
		}
	}
	departments := make(map[string]string, len(users))
	for _, u := range users {
		if u != nil {
			departments[u.ID] = u.Department
		}
	}

	roomCounts := make(map[string]int)
	deptCounts := make(map[string]int)
	activeUsers := make(map[string]struct{})
	var totalDuration time.Duration
	for _, b := range bookings {
		if b == nil {
			continue
		}
		stats.TotalBookings++

		// time.Weekday: воскресенье = 0, сдвигаем к понедельнику
		day := int(bookedDay(b).In(s.loc).Weekday()+6) % 7
		stats.BookingFrequency[day].Value++

		roomCounts[b.RoomID]++
		if dept, known := departments[b.UserID]; known {
			activeUsers[b.UserID] = struct{}{}
			if dept != "" {
				deptCounts[dept]++
			}
		}
		if d := b.EndTime.Sub(b.StartTime); d > 0 {
			totalDuration += d
		}
	}
	stats.ActiveUsers = len(activeUsers)
	if stats.TotalBookings > 0 {
		stats.AverageDurationHours = totalDuration.Hours() / float64(stats.TotalBookings)
	}

	for roomID, count := range roomCounts {
		name, ok := roomNames[roomID]
		if !ok {
			name = "Room " + roomID
		}
		stats.RoomPopularity = append(stats.RoomPopularity, NamedCount{Name: name, Value: count})
	}
	sortCounts(stats.RoomPopularity)

	for dept, count := range deptCounts {
		stats.DepartmentBookings = append(stats.DepartmentBookings, NamedCount{Name: dept, Value: count})
	}
	sortCounts(stats.DepartmentBookings)

	if len(stats.RoomPopularity) > 0 {
		top := stats.RoomPopularity[0]
		stats.MostPopularRoomName = top.Name
		stats.MostPopularRoomPercentage = int(math.Round(float64(top.Value) / float64(stats.TotalBookings) * 100))
	}
	return stats
}

// bookedDay is when the booking was made; rows without BookedAt fall back to the start.
func bookedDay(b *models.Booking) time.Time {
	if b.BookedAt.IsZero() {
		return b.StartTime
	}
	return b.BookedAt
}

func sortCounts(items []NamedCount) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Value != items[j].Value {
			return items[i].Value > items[j].Value
		}
		return items[i].Name < items[j].Name
	})
}
