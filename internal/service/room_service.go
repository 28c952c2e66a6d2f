package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"roombook/internal/database"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/models"

	"github.com/rs/zerolog"
)

// RoomInput is the admin payload for creating or updating a room.
type RoomInput struct {
	Name     string   `json:"name" validate:"required,max=100"`
	Capacity int      `json:"capacity" validate:"gte=0,max=10000"`
	Location string   `json:"location" validate:"max=200"`
	RoomURL  string   `json:"room_url" validate:"omitempty,url"`
	Tags     []string `json:"tags" validate:"max=20,dive,required,max=40"`
	IsActive *bool    `json:"is_active"`
}

// RoomService keeps an in-memory copy of all rooms, refreshed after every mutation.
type RoomService struct {
	repo      domain.Repository
	eventBus  domain.EventPublisher
	validator *Validator
	logger    *zerolog.Logger
	rooms     []*models.Room
	roomsMap  map[string]*models.Room
	mu        sync.RWMutex
}

func NewRoomService(repo domain.Repository, eventBus domain.EventPublisher, logger *zerolog.Logger) *RoomService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RoomService{
		repo:      repo,
		eventBus:  eventBus,
		validator: NewValidator(),
		logger:    logger,
		roomsMap:  make(map[string]*models.Room),
	}
}

// Seed creates the configured rooms that are not stored yet.
func (s *RoomService) Seed(ctx context.Context, rooms []models.Room) (int, error) {
	created := 0
	for i := range rooms {
		room := rooms[i]
		if room.ID != "" {
			if _, err := s.repo.GetRoom(ctx, room.ID); err == nil {
				continue
			} else if !errors.Is(err, database.ErrNotFound) {
				return created, err
			}
		}
		if err := s.repo.CreateRoom(ctx, &room); err != nil {
			return created, fmt.Errorf("seed room %q: %w", room.Name, err)
		}
		created++
	}
	if created > 0 {
		s.logger.Info().Int("count", created).Msg("rooms seeded")
	}
	return created, s.Refresh(ctx)
}

func (s *RoomService) ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if activeOnly && !r.IsActive {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	s.mu.RLock()
	room, ok := s.roomsMap[id]
	s.mu.RUnlock()
	if ok {
		cp := *room
		return &cp, nil
	}
	return s.repo.GetRoom(ctx, id)
}

func (s *RoomService) CreateRoom(ctx context.Context, in RoomInput, changedBy string) (*models.Room, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	room := &models.Room{IsActive: true}
	applyRoomInput(room, in)

	if err := s.repo.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	s.publish(events.EventRoomCreated, room, changedBy)
	return room, s.Refresh(ctx)
}

func (s *RoomService) UpdateRoom(ctx context.Context, id string, in RoomInput, changedBy string) (*models.Room, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	room, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	applyRoomInput(room, in)

	if err := s.repo.UpdateRoom(ctx, room); err != nil {
		return nil, err
	}
	s.publish(events.EventRoomUpdated, room, changedBy)
	return room, s.Refresh(ctx)
}

// DeleteRoom removes the room permanently. Existing bookings keep their room id.
func (s *RoomService) DeleteRoom(ctx context.Context, id, changedBy string) error {
	room, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRoom(ctx, id); err != nil {
		return err
	}
	room.IsActive = false
	s.publish(events.EventRoomDeleted, room, changedBy)
	return s.Refresh(ctx)
}

func (s *RoomService) Refresh(ctx context.Context) error {
	rooms, err := s.repo.ListRooms(ctx, false)
	if err != nil {
		return err
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		return strings.ToLower(rooms[i].Name) < strings.ToLower(rooms[j].Name)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = rooms
	s.roomsMap = make(map[string]*models.Room, len(rooms))
	for _, room := range rooms {
		s.roomsMap[room.ID] = room
	}
	return nil
}

// RoomNames maps room ids to names for reports.
func (s *RoomService) RoomNames() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]string, len(s.rooms))
	for _, r := range s.rooms {
		names[r.ID] = r.Name
	}
	return names
}

func (s *RoomService) publish(eventType string, room *models.Room, changedBy string) {
	if s.eventBus == nil {
		return
	}
	payload := events.RoomEventPayload{RoomID: room.ID, Name: room.Name, IsActive: room.IsActive, ChangedBy: changedBy}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("room_id", room.ID).Msg("publish event error")
	}
}

func applyRoomInput(room *models.Room, in RoomInput) {
	room.Name = strings.TrimSpace(in.Name)
	room.Capacity = in.Capacity
	room.Location = strings.TrimSpace(in.Location)
	room.RoomURL = strings.TrimSpace(in.RoomURL)
	room.Tags = append([]string(nil), in.Tags...)
	if in.IsActive != nil {
		room.IsActive = *in.IsActive
	}
}
