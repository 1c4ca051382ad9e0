package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

type roleRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Role, error)
	ListAll(ctx context.Context) ([]models.Role, error)
	RolesForUser(ctx context.Context, userID int64) ([]models.Role, error)
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role) error
	DeleteByID(ctx context.Context, id int64) error
	Assign(ctx context.Context, userID, roleID int64) error
	Remove(ctx context.Context, userID, roleID int64) error
}

type roleCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// UpdateRoleRequest carries mutable role fields.
type UpdateRoleRequest struct {
	Name   string `json:"name" binding:"required"`
	Active bool   `json:"active"`
}

// RoleService resolves role names for users and manages role administration.
// Resolution results are cached; cache failures degrade to the database path.
type RoleService struct {
	repo     roleRepository
	cache    roleCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewRoleService constructs a RoleService. The cache may be nil.
func NewRoleService(repo roleRepository, cache roleCache, cacheTTL time.Duration, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &RoleService{repo: repo, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

const roleCachePrefix = "roles:user:"

func roleCacheKey(userID int64) string {
	return fmt.Sprintf("%s%d", roleCachePrefix, userID)
}

// ResolveRoles returns the set of role names assigned to the user,
// deduplicated by role id. An empty result is valid; order is not
// guaranteed.
func (s *RoleService) ResolveRoles(ctx context.Context, userID int64) ([]string, error) {
	key := roleCacheKey(userID)
	if s.cache != nil {
		var cached []string
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("role cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	roles, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		if _, ok := seen[role.ID]; ok {
			continue
		}
		seen[role.ID] = struct{}{}
		names = append(names, role.Name)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, names, s.cacheTTL); err != nil {
			s.logger.Warn("role cache write failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	return names, nil
}

// List returns all roles.
func (s *RoleService) List(ctx context.Context) ([]models.Role, error) {
	roles, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list roles")
	}
	return roles, nil
}

// Get returns a single role.
func (s *RoleService) Get(ctx context.Context, id int64) (*models.Role, error) {
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load role")
	}
	return role, nil
}

// Create registers a new role.
func (s *RoleService) Create(ctx context.Context, name string) (*models.Role, error) {
	role := &models.Role{Name: name, Active: true}
	if err := s.repo.Create(ctx, role); err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create role")
	}
	return role, nil
}

// Update renames or toggles a role. The whole role cache is flushed because
// a role change affects every user holding it.
func (s *RoleService) Update(ctx context.Context, id int64, req UpdateRoleRequest) (*models.Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	role.Name = req.Name
	role.Active = req.Active
	if err := s.repo.Update(ctx, role); err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update role")
	}

	s.invalidateAll(ctx)
	return role, nil
}

// Delete removes a role; assignments go with it via the schema cascade.
func (s *RoleService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to delete role")
	}

	s.invalidateAll(ctx)
	return nil
}

// Assign links a role to a user and invalidates the user's cached roles.
func (s *RoleService) Assign(ctx context.Context, userID, roleID int64) error {
	if _, err := s.Get(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.Assign(ctx, userID, roleID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to assign role")
	}
	s.invalidate(ctx, userID)
	return nil
}

// Remove unlinks a role from a user and invalidates the user's cached roles.
func (s *RoleService) Remove(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.Remove(ctx, userID, roleID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to remove role")
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *RoleService) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, roleCacheKey(userID)); err != nil {
		s.logger.Warn("role cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *RoleService) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPrefix(ctx, roleCachePrefix); err != nil {
		s.logger.Warn("role cache flush failed", zap.Error(err))
	}
}
