package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error
}

type refreshTokenLedger interface {
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Consume(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64) error
}

type roleResolver interface {
	ResolveRoles(ctx context.Context, userID int64) ([]string, error)
}

type tokenIssuer interface {
	Issue(ctx context.Context, user *models.User, roles []string, ip, userAgent string) (*models.TokenPair, error)
}

// PasswordVerifier compares a plaintext secret against a stored hash.
type PasswordVerifier interface {
	Verify(plaintext, storedHash string) bool
}

// BcryptVerifier verifies passwords with bcrypt, which performs its own
// constant-time digest comparison.
type BcryptVerifier struct{}

// Verify implements PasswordVerifier.
func (BcryptVerifier) Verify(plaintext, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}

// AuthService orchestrates the login, refresh and logout session flows.
type AuthService struct {
	users     authUserRepository
	tokens    refreshTokenLedger
	roles     roleResolver
	issuer    tokenIssuer
	passwords PasswordVerifier
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger

	singleSession bool
}

// AuthServiceDeps bundles the collaborators of AuthService.
type AuthServiceDeps struct {
	Users     authUserRepository
	Tokens    refreshTokenLedger
	Roles     roleResolver
	Issuer    tokenIssuer
	Passwords PasswordVerifier
	Audit     *AuditService
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger

	SingleSession bool
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthServiceDeps) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Passwords == nil {
		deps.Passwords = BcryptVerifier{}
	}
	return &AuthService{
		users:         deps.Users,
		tokens:        deps.Tokens,
		roles:         deps.Roles,
		issuer:        deps.Issuer,
		passwords:     deps.Passwords,
		audit:         deps.Audit,
		metrics:       deps.Metrics,
		validator:     deps.Validator,
		logger:        deps.Logger,
		singleSession: deps.SingleSession,
	}
}

// Login authenticates a user and returns an issued token pair. A successful
// login supersedes the user's previous sessions when single-session mode is
// on: all prior refresh tokens are revoked before the new pair is issued.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLoginFailure(nil, req, "user not found")
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to fetch user")
	}

	if !user.Active {
		s.recordLoginFailure(&user.ID, req, "account inactive")
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if !s.passwords.Verify(req.Password, user.PasswordHash) {
		s.recordLoginFailure(&user.ID, req, "credential mismatch")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if s.singleSession {
		if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to revoke previous sessions")
		}
	}

	roles, err := s.roles.ResolveRoles(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to resolve roles")
	}

	pair, err := s.issuer.Issue(ctx, user, roles, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	s.metrics.RecordLogin(true)
	s.audit.Record(models.AuditLog{
		UserID:    &user.ID,
		Action:    models.AuditActionLogin,
		Resource:  "auth",
		Detail:    []byte(`{"status":"success"}`),
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})

	return pair, nil
}

// Refresh redeems a refresh token for a new token pair, rotating the
// presented value. Redemption is single-use: concurrent calls racing on the
// same value end with exactly one winner, decided by the store's atomic
// consume.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.tokens.FindByToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rejectRefresh(nil, req, appErrors.ErrRefreshNotFound)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to fetch refresh token")
	}

	switch {
	case stored.Used:
		return nil, s.rejectRefresh(&stored.UserID, req, appErrors.ErrRefreshReused)
	case stored.Revoked:
		return nil, s.rejectRefresh(&stored.UserID, req, appErrors.ErrRefreshRevoked)
	case stored.ExpiresAt.Before(time.Now().UTC()):
		return nil, s.rejectRefresh(&stored.UserID, req, appErrors.ErrRefreshExpired)
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rejectRefresh(&stored.UserID, req, appErrors.Clone(appErrors.ErrUnauthorized, "token owner no longer exists"))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load user")
	}
	if !user.Active {
		return nil, s.rejectRefresh(&user.ID, req, appErrors.Clone(appErrors.ErrInactiveAccount, ""))
	}

	// Consumption must precede issuing the replacement so a racing caller
	// can never redeem the same value twice.
	consumed, err := s.tokens.Consume(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rejectRefresh(&user.ID, req, appErrors.ErrRefreshNotFound)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to consume refresh token")
	}
	if !consumed {
		return nil, s.rejectRefresh(&user.ID, req, appErrors.ErrRefreshReused)
	}

	roles, err := s.roles.ResolveRoles(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to resolve roles")
	}

	pair, err := s.issuer.Issue(ctx, user, roles, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRefresh("success")
	s.audit.Record(models.AuditLog{
		UserID:    &user.ID,
		Action:    models.AuditActionRefresh,
		Resource:  "auth",
		Detail:    []byte(`{"refresh":"rotated"}`),
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})

	return pair, nil
}

// Logout revokes every refresh token held by the user. The caller is assumed
// to be authenticated already; no credential check happens here. Revoking a
// user with no live tokens still succeeds.
func (s *AuthService) Logout(ctx context.Context, userID int64, ip, userAgent string) error {
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to revoke refresh tokens")
	}

	s.audit.Record(models.AuditLog{
		UserID:    &userID,
		Action:    models.AuditActionLogout,
		Resource:  "auth",
		Detail:    []byte(`{"status":"logout"}`),
		IPAddress: ip,
		UserAgent: userAgent,
	})

	return nil
}

func (s *AuthService) recordLoginFailure(userID *int64, req models.LoginRequest, reason string) {
	s.metrics.RecordLogin(false)
	s.audit.Record(models.AuditLog{
		UserID:    userID,
		Action:    models.AuditActionLoginFailed,
		Resource:  "auth",
		Detail:    []byte(fmt.Sprintf(`{"reason":%q}`, reason)),
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
}

func (s *AuthService) rejectRefresh(userID *int64, req models.RefreshTokenRequest, rejection *appErrors.Error) error {
	s.metrics.RecordRefresh(rejection.Code)
	s.audit.Record(models.AuditLog{
		UserID:    userID,
		Action:    models.AuditActionRefreshDenied,
		Resource:  "auth",
		Detail:    []byte(fmt.Sprintf(`{"code":%q}`, rejection.Code)),
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
	return rejection
}
