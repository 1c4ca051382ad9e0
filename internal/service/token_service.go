package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/iam-api/internal/models"
	"github.com/noah-isme/iam-api/pkg/config"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

// tokenCreateRepository is the slice of the token store the issuer needs.
type tokenCreateRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
}

// issueAttempts bounds the regenerate-on-collision loop for refresh values.
const issueAttempts = 3

// TokenService issues signed access tokens with a paired persisted refresh
// token, and validates presented access tokens. Validation is pure and never
// touches storage.
type TokenService struct {
	repo   tokenCreateRepository
	logger *zap.Logger
	config config.AuthConfig
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(repo tokenCreateRepository, logger *zap.Logger, cfg config.AuthConfig) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{repo: repo, logger: logger, config: cfg}
}

// Issue builds a signed access token for the user with the given role names
// and durably records a companion refresh token. The issuance aborts if the
// refresh record cannot be persisted: an access token must never leave
// without its refresh path recorded.
func (s *TokenService) Issue(ctx context.Context, user *models.User, roles []string, ip, userAgent string) (*models.TokenPair, error) {
	accessToken, err := s.signAccessToken(user, roles)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}

	now := time.Now().UTC()
	var refreshValue string
	for attempt := 0; attempt < issueAttempts; attempt++ {
		refreshValue, err = generateRefreshTokenValue()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate refresh token")
		}

		record := &models.RefreshToken{
			UserID:    user.ID,
			Token:     refreshValue,
			ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
			CreatedAt: now,
			Used:      false,
			Revoked:   false,
			IPAddress: ip,
			UserAgent: userAgent,
		}

		err = s.repo.Create(ctx, record)
		if err == nil {
			break
		}
		if errors.Is(err, appErrors.ErrConflict) {
			s.logger.Warn("refresh token value collision, regenerating", zap.Int("attempt", attempt+1))
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist refresh token")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist refresh token")
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Validate parses and verifies an access token, returning the embedded
// claims. Expiry is checked with zero leeway; issuer and audience are only
// verified when configured.
func (s *TokenService) Validate(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, appErrors.Wrap(err, appErrors.ErrBadSignature.Code, appErrors.ErrBadSignature.Status, appErrors.ErrBadSignature.Message)
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, appErrors.Wrap(err, appErrors.ErrBadIssuer.Code, appErrors.ErrBadIssuer.Status, appErrors.ErrBadIssuer.Message)
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, appErrors.Wrap(err, appErrors.ErrBadAudience.Code, appErrors.ErrBadAudience.Status, appErrors.ErrBadAudience.Message)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, appErrors.ErrTokenExpired.Message)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
		}
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

func (s *TokenService) signAccessToken(user *models.User, roles []string) (string, error) {
	issuedAt := time.Now().UTC()
	claims := &models.JWTClaims{
		Email: user.Email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	if s.config.Issuer != "" {
		claims.Issuer = s.config.Issuer
	}
	if s.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func generateRefreshTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
