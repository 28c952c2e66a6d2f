package database

import (
	"context"
	"fmt"
	"time"

	"roombook/internal/models"
)

const userColumns = `id, username, email, role, status, department, avatar_url, created_at, updated_at`

func scanUser(s rowScanner) (*models.User, error) {
	var (
		u                models.User
		created, updated int64
	)
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Status, &u.Department, &u.AvatarURL, &created, &updated)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromUnix(created)
	u.UpdatedAt = fromUnix(updated)
	return &u, nil
}

// UpsertUser обновляет профиль; роль и статус существующего пользователя не перезаписываются
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                username = excluded.username,
                email = excluded.email,
                department = excluded.department,
                avatar_url = excluded.avatar_url,
                updated_at = excluded.updated_at`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.Role,
		user.Status,
		user.Department,
		user.AvatarURL,
		toUnix(now),
		toUnix(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	return u, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *DB) UpdateUserStatus(ctx context.Context, id, status string) error {
	res, err := db.ExecContext(ctx, `UPDATE users SET status = ?, updated_at = ? WHERE id = ?`, status, toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return expectOneRow(res, "user "+id)
}
