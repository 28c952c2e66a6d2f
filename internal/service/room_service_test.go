package service

import (
	"context"
	"errors"
	"testing"

	"roombook/internal/database"
	"roombook/internal/events"
	"roombook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRoomService(t *testing.T) (*RoomService, *database.DB, *mockPublisher) {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := new(mockPublisher)
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Maybe()
	return NewRoomService(db, bus, nil), db, bus
}

func TestRoomService_Seed(t *testing.T) {
	svc, _, _ := newRoomService(t)
	ctx := context.Background()

	seed := []models.Room{
		{ID: "everest", Name: "Everest", Capacity: 8, IsActive: true},
		{ID: "elbrus", Name: "Elbrus", Capacity: 4, IsActive: false},
	}

	created, err := svc.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = svc.Seed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	all, err := svc.ListRooms(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Elbrus", all[0].Name)

	active, err := svc.ListRooms(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "everest", active[0].ID)
}

func TestRoomService_CRUD(t *testing.T) {
	svc, db, bus := newRoomService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, RoomInput{Name: " Everest ", Capacity: 8, Tags: []string{"tv"}}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "Everest", room.Name)
	assert.True(t, room.IsActive)

	cached, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tv"}, cached.Tags)

	inactive := false
	updated, err := svc.UpdateRoom(ctx, room.ID, RoomInput{Name: "Everest 2", Capacity: 10, IsActive: &inactive}, "admin")
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	stored, err := db.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Everest 2", stored.Name)

	active, err := svc.ListRooms(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, svc.DeleteRoom(ctx, room.ID, "admin"))
	_, err = svc.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteRoom(ctx, room.ID, "admin"), database.ErrNotFound)

	bus.AssertCalled(t, "PublishJSON", events.EventRoomCreated, mock.Anything)
	bus.AssertCalled(t, "PublishJSON", events.EventRoomUpdated, mock.Anything)
	bus.AssertCalled(t, "PublishJSON", events.EventRoomDeleted, mock.MatchedBy(func(p events.RoomEventPayload) bool {
		return p.RoomID == room.ID && p.ChangedBy == "admin"
	}))
}

func TestRoomService_CachedCopiesAreIsolated(t *testing.T) {
	svc, _, _ := newRoomService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, RoomInput{Name: "Everest"}, "admin")
	require.NoError(t, err)

	got, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	got.Name = "changed"

	again, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Everest", again.Name)
	assert.Equal(t, map[string]string{room.ID: "Everest"}, svc.RoomNames())
}

func TestRoomService_Validation(t *testing.T) {
	svc, _, _ := newRoomService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RoomInput
	}{
		{"missing name", RoomInput{Capacity: 3}},
		{"negative capacity", RoomInput{Name: "A", Capacity: -1}},
		{"bad url", RoomInput{Name: "A", RoomURL: "not a url"}},
		{"empty tag", RoomInput{Name: "A", Tags: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRoom(ctx, tt.in, "admin")
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := svc.UpdateRoom(ctx, "missing", RoomInput{Name: "A"}, "admin")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRoomService_RefreshError(t *testing.T) {
	repo := new(mockRepo)
	repo.On("CreateRoom", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("ListRooms", mock.Anything, false).Return(nil, errors.New("db down")).Once()

	svc := NewRoomService(repo, nil, nil)
	_, err := svc.CreateRoom(context.Background(), RoomInput{Name: "A"}, "admin")
	assert.EqualError(t, err, "db down")
	repo.AssertExpectations(t)
}
