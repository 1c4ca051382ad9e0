package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

type userRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string, updatedAt time.Time) error
}

type sessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID int64) error
}

// CreateUserRequest carries the payload for registering a user.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required"`
}

// UpdateUserRequest carries mutable user fields.
type UpdateUserRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Active   bool   `json:"active"`
}

// UserService implements user administration on top of the repository.
type UserService struct {
	repo      userRepository
	sessions  sessionRevoker
	passwords PasswordVerifier
	notify    *NotifyService
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(repo userRepository, sessions sessionRevoker, notify *NotifyService, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:      repo,
		sessions:  sessions,
		passwords: BcryptVerifier{},
		notify:    notify,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// List returns users matching the filter with pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a single user.
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load user")
	}
	return user, nil
}

// Create registers a new active user with a hashed password and sends a
// welcome notification.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	if existing, err := s.repo.FindByEmail(ctx, req.Email); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create user")
	}

	s.notify.Notify(Notification{
		To:      user.Email,
		Subject: "Your account is ready",
		Body:    "An account has been created for " + user.Email + ".",
	})

	return user, nil
}

// Update modifies mutable fields of a user.
func (s *UserService) Update(ctx context.Context, id int64, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	user.FullName = req.FullName
	user.Active = req.Active
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update user")
	}

	// Deactivation kills the user's live sessions immediately.
	if !user.Active {
		if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
			s.logger.Warn("failed to revoke sessions for deactivated user", zap.Int64("user_id", id), zap.Error(err))
		}
	}

	return user, nil
}

// Deactivate soft-deletes a user and revokes their sessions.
func (s *UserService) Deactivate(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to deactivate user")
	}
	if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
		s.logger.Warn("failed to revoke sessions for deactivated user", zap.Int64("user_id", id), zap.Error(err))
	}
	return nil
}

// ChangePassword verifies the current password, stores a new hash and
// revokes every live session so other devices must re-authenticate.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	if !s.passwords.Verify(req.OldPassword, user.PasswordHash) {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, userID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update password")
	}

	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", zap.Int64("user_id", userID), zap.Error(err))
	}

	s.audit.Record(models.AuditLog{
		UserID:   &userID,
		Action:   models.AuditActionPasswordChange,
		Resource: "auth",
		Detail:   []byte(`{"status":"changed"}`),
	})

	s.notify.Notify(Notification{
		To:      user.Email,
		Subject: "Your password was changed",
		Body:    "The password for your account was just changed. If this was not you, contact an administrator.",
	})

	return nil
}
