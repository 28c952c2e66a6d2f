package export

import (
	"fmt"
	"io"
	"time"

	"roombook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	BookingsSheet = "Bookings"
	RoomsSheet    = "Rooms"
)

var bookingHeaders = []string{
	"ID", "Room", "User", "Email", "Department", "Title",
	"Date", "Start", "End", "Hours", "Status", "Booked at",
}

// WriteBookingsXLSX пишет выгрузку бронирований и сводку по переговорным в w.
func WriteBookingsXLSX(
	w io.Writer,
	bookings []*models.Booking,
	rooms []*models.Room,
	users []*models.User,
	loc *time.Location,
) error {
	if loc == nil {
		loc = time.Local
	}

	roomNames := make(map[string]string, len(rooms))
	for _, r := range rooms {
		roomNames[r.ID] = r.Name
	}
	usersByID := make(map[string]*models.User, len(users))
	for _, u := range users {
		usersByID[u.ID] = u
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", BookingsSheet); err != nil {
		return fmt.Errorf("error renaming sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	cancelledStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "#9C9C9C", Strike: true},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	if err := writeHeader(f, BookingsSheet, bookingHeaders, headerStyle); err != nil {
		return err
	}

	perRoom := make(map[string]int)
	for i, b := range bookings {
		row := i + 2
		start := b.StartTime.In(loc)
		end := b.EndTime.In(loc)

		var userName, email, dept string
		if u, ok := usersByID[b.UserID]; ok {
			userName, email, dept = u.DisplayName(), u.Email, u.Department
		} else {
			userName = b.UserID
		}
		roomName, ok := roomNames[b.RoomID]
		if !ok {
			roomName = b.RoomID
		}

		values := []interface{}{
			b.ID, roomName, userName, email, dept, b.Title,
			start.Format(models.DateLayout), start.Format("15:04"), end.Format("15:04"),
			b.DurationHours(), b.Status, b.BookedAt.In(loc).Format("2006-01-02 15:04"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(BookingsSheet, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}

		if b.Status == models.StatusCancelled {
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(BookingsSheet, cell, last, cancelledStyle)
			continue
		}
		perRoom[b.RoomID]++
	}

	_ = f.SetColWidth(BookingsSheet, "A", "A", 38)
	_ = f.SetColWidth(BookingsSheet, "B", "F", 20)
	_ = f.SetColWidth(BookingsSheet, "G", "L", 14)
	_ = f.SetPanes(BookingsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.NewSheet(RoomsSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	if err := writeHeader(f, RoomsSheet, []string{"Room", "Capacity", "Location", "Active", "Bookings"}, headerStyle); err != nil {
		return err
	}
	for i, r := range rooms {
		values := []interface{}{r.Name, r.Capacity, r.Location, r.IsActive, perRoom[r.ID]}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(RoomsSheet, cell, &values); err != nil {
			return fmt.Errorf("error writing room row: %w", err)
		}
	}
	_ = f.SetColWidth(RoomsSheet, "A", "C", 20)

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing file: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return f.SetCellStyle(sheet, "A1", last, style)
}

// FileName builds the download name for an export generated at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("bookings_%s.xlsx", t.Format("2006-01-02_1504"))
}
