package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roombook/internal/models"

	"github.com/google/uuid"
)

const roomColumns = `id, name, capacity, location, room_url, tags, is_active, created_at, updated_at`

func scanRoom(s rowScanner) (*models.Room, error) {
	var (
		r                models.Room
		tags             string
		created, updated int64
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Capacity, &r.Location, &r.RoomURL, &tags, &r.IsActive, &created, &updated); err != nil {
		return nil, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of room %s: %w", r.ID, err)
		}
	}
	r.CreatedAt = fromUnix(created)
	r.UpdatedAt = fromUnix(updated)
	return &r, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

func (db *DB) ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (db *DB) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	r, err := scanRoom(db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "room "+id)
	}
	return r, nil
}

func (db *DB) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	tags, err := encodeTags(room.Tags)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		room.ID, room.Name, room.Capacity, room.Location, room.RoomURL, tags, room.IsActive, toUnix(now), toUnix(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	room.CreatedAt = now
	room.UpdatedAt = now
	return nil
}

func (db *DB) UpdateRoom(ctx context.Context, room *models.Room) error {
	tags, err := encodeTags(room.Tags)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `UPDATE rooms SET name = ?, capacity = ?, location = ?, room_url = ?, tags = ?, is_active = ?, updated_at = ?
              WHERE id = ?`
	res, err := db.ExecContext(ctx, query,
		room.Name, room.Capacity, room.Location, room.RoomURL, tags, room.IsActive, toUnix(now), room.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	if err := expectOneRow(res, "room "+room.ID); err != nil {
		return err
	}
	room.UpdatedAt = now
	return nil
}

func (db *DB) DeleteRoom(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return expectOneRow(res, "room "+id)
}
