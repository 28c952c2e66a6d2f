package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roombook/internal/config"
	"roombook/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

// PostgresStore is the PostgreSQL implementation of domain.Repository.
// Overlaps are rejected by an exclusion constraint, so no application lock is needed.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// NewPostgresStore connects with a few retries to accommodate containers starting up.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, logger *zerolog.Logger) (*PostgresStore, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("postgres connect failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Str("host", poolCfg.ConnConfig.Host).Msg("postgres initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS btree_gist`,
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'user',
            status TEXT NOT NULL DEFAULT 'pending',
            department TEXT NOT NULL DEFAULT '',
            avatar_url TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL UNIQUE,
            capacity INTEGER NOT NULL DEFAULT 0,
            location TEXT NOT NULL DEFAULT '',
            room_url TEXT NOT NULL DEFAULT '',
            tags TEXT[] NOT NULL DEFAULT '{}',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            start_time TIMESTAMPTZ NOT NULL,
            end_time TIMESTAMPTZ NOT NULL,
            status TEXT NOT NULL DEFAULT 'confirmed',
            booked_at TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            version BIGINT NOT NULL DEFAULT 1,
            CHECK (end_time > start_time),
            CONSTRAINT bookings_no_overlap EXCLUDE USING gist (
                room_id WITH =,
                tstzrange(start_time, end_time, '[)') WITH &&
            ) WHERE (status <> 'cancelled')
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id BIGSERIAL PRIMARY KEY,
            task_type TEXT NOT NULL,
            booking_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            processed_at TIMESTAMPTZ,
            next_retry_at TIMESTAMPTZ
        )`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_start ON bookings(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func pgNotFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func pgExpectOne(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// --- Bookings ---

func pgScanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.RoomID, &b.UserID, &b.Title, &b.StartTime, &b.EndTime, &b.Status,
		&b.BookedAt, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func pgCollectBookings(rows pgx.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := pgScanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (s *PostgresStore) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	if !booking.EndTime.After(booking.StartTime) {
		return fmt.Errorf("booking end %s is not after start %s", booking.EndTime, booking.StartTime)
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = models.StatusConfirmed
	}

	now := time.Now().UTC()
	if booking.BookedAt.IsZero() {
		booking.BookedAt = now
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`,
		booking.ID, booking.RoomID, booking.UserID, booking.Title, booking.StartTime, booking.EndTime,
		booking.Status, booking.BookedAt, now, now,
	)
	if err != nil {
		if pgCode(err) == pgExclusionViolation {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := pgScanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err, "booking "+id)
	}
	return b, nil
}

func (s *PostgresStore) versionMiss(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check booking %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return ErrConcurrentModification
}

func (s *PostgresStore) RescheduleBookingWithVersion(ctx context.Context, id string, fromVersion int64, start, end time.Time, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET start_time = $1, end_time = $2, status = $3, version = version + 1, updated_at = $4
		 WHERE id = $5 AND version = $6`,
		start, end, status, time.Now().UTC(), id, fromVersion,
	)
	if err != nil {
		if pgCode(err) == pgExclusionViolation {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("reschedule booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.versionMiss(ctx, id)
	}
	return nil
}

func (s *PostgresStore) UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		status, time.Now().UTC(), id, fromVersion,
	)
	if err != nil {
		if pgCode(err) == pgExclusionViolation {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (s *PostgresStore) GetRoomBookings(ctx context.Context, roomID string, from, to time.Time) ([]*models.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE room_id = $1 AND start_time < $2 AND end_time > $3 ORDER BY start_time`,
		roomID, to, from,
	)
	if err != nil {
		return nil, fmt.Errorf("get room bookings: %w", err)
	}
	return pgCollectBookings(rows)
}

func (s *PostgresStore) GetUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 ORDER BY start_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("get user bookings: %w", err)
	}
	return pgCollectBookings(rows)
}

func (s *PostgresStore) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.RoomID != "" {
		add("room_id = $%d", filter.RoomID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("end_time > $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("start_time < $%d", filter.To)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return pgCollectBookings(rows)
}

// --- Rooms ---

func pgScanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	if err := row.Scan(&r.ID, &r.Name, &r.Capacity, &r.Location, &r.RoomURL, &r.Tags, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		r, err := pgScanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	r, err := pgScanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err, "room "+id)
	}
	return r, nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.Tags == nil {
		room.Tags = []string{}
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (`+roomColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		room.ID, room.Name, room.Capacity, room.Location, room.RoomURL, room.Tags, room.IsActive, now, now,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("room name %q already exists: %w", room.Name, err)
		}
		return fmt.Errorf("create room: %w", err)
	}
	room.CreatedAt = now
	room.UpdatedAt = now
	return nil
}

func (s *PostgresStore) UpdateRoom(ctx context.Context, room *models.Room) error {
	if room.Tags == nil {
		room.Tags = []string{}
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET name = $1, capacity = $2, location = $3, room_url = $4, tags = $5, is_active = $6, updated_at = $7
		 WHERE id = $8`,
		room.Name, room.Capacity, room.Location, room.RoomURL, room.Tags, room.IsActive, now, room.ID,
	)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if err := pgExpectOne(tag, "room "+room.ID); err != nil {
		return err
	}
	room.UpdatedAt = now
	return nil
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return pgExpectOne(tag, "room "+id)
}

// --- Users ---

func pgScanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Status, &u.Department, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   username = EXCLUDED.username,
		   email = EXCLUDED.email,
		   department = EXCLUDED.department,
		   avatar_url = EXCLUDED.avatar_url,
		   updated_at = EXCLUDED.updated_at`,
		user.ID, user.Username, user.Email, user.Role, user.Status, user.Department, user.AvatarURL, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := pgScanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err, "user "+id)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := pgScanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return pgExpectOne(tag, "user "+id)
}

// --- Sync queue ---

func (s *PostgresStore) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncTaskPending
	}
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_queue (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, now, task.NextRetryAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("create sync task: %w", err)
	}
	task.CreatedAt = now
	return nil
}

func (s *PostgresStore) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+syncTaskColumns+` FROM sync_queue
		 WHERE status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= $3)
		 ORDER BY created_at ASC LIMIT $4`,
		models.SyncTaskPending, models.SyncTaskRetry, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get pending sync tasks: %w", err)
	}
	return pgCollectSyncTasks(rows)
}

func (s *PostgresStore) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var err error
	switch status {
	case models.SyncTaskRetry:
		_, err = s.pool.Exec(ctx,
			`UPDATE sync_queue SET status = $1, last_error = $2, next_retry_at = $3, retry_count = retry_count + 1 WHERE id = $4`,
			status, errMsg, nextRetryAt, id)
	case models.SyncTaskCompleted, models.SyncTaskFailed:
		_, err = s.pool.Exec(ctx,
			`UPDATE sync_queue SET status = $1, last_error = $2, next_retry_at = $3, processed_at = $4 WHERE id = $5`,
			status, errMsg, nextRetryAt, time.Now().UTC(), id)
	default:
		_, err = s.pool.Exec(ctx,
			`UPDATE sync_queue SET status = $1, last_error = $2, next_retry_at = $3 WHERE id = $4`,
			status, errMsg, nextRetryAt, id)
	}
	if err != nil {
		return fmt.Errorf("update sync task status: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+syncTaskColumns+` FROM sync_queue WHERE status = $1 ORDER BY created_at DESC`, models.SyncTaskFailed)
	if err != nil {
		return nil, fmt.Errorf("get failed sync tasks: %w", err)
	}
	return pgCollectSyncTasks(rows)
}

func pgCollectSyncTasks(rows pgx.Rows) ([]models.SyncTask, error) {
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt)
		if err != nil {
			return nil, fmt.Errorf("scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
