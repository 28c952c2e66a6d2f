package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"roombook/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, room_id, user_id, title, start_time, end_time, status, booked_at, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s rowScanner) (*models.Booking, error) {
	var (
		b                                      models.Booking
		start, end, bookedAt, created, updated int64
	)
	err := s.Scan(&b.ID, &b.RoomID, &b.UserID, &b.Title, &start, &end, &b.Status, &bookedAt, &created, &updated, &b.Version)
	if err != nil {
		return nil, err
	}
	b.StartTime = fromUnix(start)
	b.EndTime = fromUnix(end)
	b.BookedAt = fromUnix(bookedAt)
	b.CreatedAt = fromUnix(created)
	b.UpdatedAt = fromUnix(updated)
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// hasOverlap проверяет пересечение внутри транзакции; отмененные брони не учитываются
func hasOverlap(ctx context.Context, tx *sql.Tx, roomID, excludeID string, start, end time.Time) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM bookings
              WHERE room_id = ? AND status != ? AND id != ? AND start_time < ? AND end_time > ?`
	err := tx.QueryRowContext(ctx, query, roomID, models.StatusCancelled, excludeID, toUnix(end), toUnix(start)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check overlap in tx: %w", err)
	}
	return count > 0, nil
}

func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	if !booking.EndTime.After(booking.StartTime) {
		return fmt.Errorf("booking end %s is not after start %s", booking.EndTime, booking.StartTime)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = models.StatusConfirmed
	}

	// 1. Check overlap inside transaction
	if booking.IsActive() {
		busy, err := hasOverlap(ctx, tx, booking.RoomID, booking.ID, booking.StartTime, booking.EndTime)
		if err != nil {
			return err
		}
		if busy {
			return ErrSlotUnavailable
		}
	}

	// 2. Create booking
	now := time.Now()
	if booking.BookedAt.IsZero() {
		booking.BookedAt = now
	}
	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		booking.RoomID,
		booking.UserID,
		booking.Title,
		toUnix(booking.StartTime),
		toUnix(booking.EndTime),
		booking.Status,
		toUnix(booking.BookedAt),
		toUnix(now),
		toUnix(now),
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "booking "+id)
	}
	return b, nil
}

func (db *DB) RescheduleBookingWithVersion(ctx context.Context, id string, fromVersion int64, start, end time.Time, status string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var roomID string
	if err := tx.QueryRowContext(ctx, `SELECT room_id FROM bookings WHERE id = ?`, id).Scan(&roomID); err != nil {
		return notFound(err, "booking "+id)
	}

	busy, err := hasOverlap(ctx, tx, roomID, id, start, end)
	if err != nil {
		return err
	}
	if busy {
		return ErrSlotUnavailable
	}

	query := `UPDATE bookings SET start_time = ?, end_time = ?, status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query, toUnix(start), toUnix(end), status, toUnix(time.Now()), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to reschedule booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	return tx.Commit()
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, toUnix(time.Now()), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetRoomBookings(ctx context.Context, roomID string, from, to time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE room_id = ? AND start_time < ? AND end_time > ? ORDER BY start_time`
	rows, err := db.QueryContext(ctx, query, roomID, toUnix(to), toUnix(from))
	if err != nil {
		return nil, fmt.Errorf("failed to get room bookings: %w", err)
	}
	return scanBookings(rows)
}

func (db *DB) GetUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY start_time DESC`
	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	return scanBookings(rows)
}

func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		where = append(where, "end_time > ?")
		args = append(args, toUnix(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, toUnix(filter.To))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return scanBookings(rows)
}
