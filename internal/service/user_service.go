package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"roombook/internal/config"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/models"

	"github.com/rs/zerolog"
)

const (
	SortNameAsc    = "name-asc"
	SortNameDesc   = "name-desc"
	SortStatusAsc  = "status-asc"
	SortStatusDesc = "status-desc"
)

type UserService struct {
	repo     domain.Repository
	config   *config.Config
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewUserService(repo domain.Repository, config *config.Config, eventBus domain.EventPublisher, logger *zerolog.Logger) *UserService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &UserService{
		repo:     repo,
		config:   config,
		eventBus: eventBus,
		logger:   logger,
	}
}

func (s *UserService) IsAdmin(userID, email string) bool {
	return s.config != nil && s.config.IsAdmin(userID, email)
}

// EnsureUser stores the profile carried by the caller's token. New users wait
// for approval unless they are configured administrators. Role and status of
// an existing user are never overwritten here.
func (s *UserService) EnsureUser(ctx context.Context, profile models.User) (*models.User, error) {
	if strings.TrimSpace(profile.ID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	admin := s.IsAdmin(profile.ID, profile.Email)
	profile.Role = models.RoleUser
	profile.Status = models.UserStatusPending
	if admin {
		profile.Role = models.RoleAdmin
		profile.Status = models.UserStatusApproved
	}

	if err := s.repo.UpsertUser(ctx, &profile); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUser(ctx, profile.ID)
	if err != nil {
		return nil, err
	}

	if admin {
		if !user.IsApproved() {
			if err := s.repo.UpdateUserStatus(ctx, user.ID, models.UserStatusApproved); err != nil {
				return nil, err
			}
			user.Status = models.UserStatusApproved
		}
		user.Role = models.RoleAdmin
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers filters by status (empty means all) and sorts by sortKey, name-asc by default.
func (s *UserService) ListUsers(ctx context.Context, status, sortKey string) ([]*models.User, error) {
	if status != "" && status != "all" && !models.IsValidUserStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	less, err := userOrder(sortKey)
	if err != nil {
		return nil, err
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	filtered := users[:0:0]
	for _, u := range users {
		if status == "" || status == "all" || u.Status == status {
			filtered = append(filtered, u)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return less(filtered[i], filtered[j]) })
	return filtered, nil
}

func userOrder(sortKey string) (func(a, b *models.User) bool, error) {
	byName := func(a, b *models.User) bool {
		return strings.ToLower(a.DisplayName()) < strings.ToLower(b.DisplayName())
	}
	switch sortKey {
	case "", SortNameAsc:
		return byName, nil
	case SortNameDesc:
		return func(a, b *models.User) bool { return byName(b, a) }, nil
	case SortStatusAsc:
		return func(a, b *models.User) bool {
			if a.Status != b.Status {
				return a.Status < b.Status
			}
			return byName(a, b)
		}, nil
	case SortStatusDesc:
		return func(a, b *models.User) bool {
			if a.Status != b.Status {
				return a.Status > b.Status
			}
			return byName(a, b)
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidInput, sortKey)
	}
}

func (s *UserService) UpdateUserStatus(ctx context.Context, id, status, changedBy string) (*models.User, error) {
	if !models.IsValidUserStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	if err := s.repo.UpdateUserStatus(ctx, id, status); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", id).Str("status", status).Str("changed_by", changedBy).Msg("user status changed")

	if s.eventBus != nil {
		payload := events.UserEventPayload{UserID: id, Status: status, ChangedBy: changedBy}
		if err := s.eventBus.PublishJSON(events.EventUserStatusChanged, payload); err != nil {
			s.logger.Error().Err(err).Str("user_id", id).Msg("publish event error")
		}
	}
	return user, nil
}
