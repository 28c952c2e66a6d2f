package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"roombook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ domain.Repository = (*DB)(nil)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "rooms.db")

	db, err := NewDB(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rooms.db")
	ctx := context.Background()

	db, err := NewDB(dbPath, nil)
	require.NoError(t, err)
	room := newRoom("Everest")
	require.NoError(t, db.CreateRoom(ctx, room))
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Everest", got.Name)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestDB_ErrorPaths(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()

	_, err = db.GetRoomBookings(ctx, "R1", testDay, testDay.Add(24*time.Hour))
	assert.Error(t, err)
	_, err = db.ListRooms(ctx, true)
	assert.Error(t, err)
	assert.Error(t, db.UpsertUser(ctx, newUser("u1")))
	assert.Error(t, db.Ping(ctx))
}

func TestTrimSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", trimSQL("  SELECT\n   1 "))
	long := trimSQL("CREATE TABLE IF NOT EXISTS something_really_long (id INTEGER PRIMARY KEY, name TEXT)")
	assert.Len(t, long, 63)
}
