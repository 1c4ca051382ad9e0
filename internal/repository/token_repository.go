package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

// TokenRepository owns the refresh_tokens ledger. All mutations of refresh
// token state go through it; rows are never deleted here.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create persists a refresh token entry. A duplicate token value yields
// ErrConflict so the issuer can retry with a fresh random value.
func (r *TokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, used, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :used, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "refresh token value collision")
		}
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByToken returns a refresh token record by its opaque value.
func (r *TokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, used, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Consume atomically flips used to true for the given token value. The
// conditional update keyed on used = FALSE is the linearization point for
// racing redemptions: the affected-row count tells exactly one caller it won.
// Returns sql.ErrNoRows when no record with that value exists at all.
func (r *TokenRepository) Consume(ctx context.Context, token string) (bool, error) {
	const query = `UPDATE refresh_tokens SET used = TRUE WHERE token = $1 AND used = FALSE`
	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return false, fmt.Errorf("consume refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume refresh token: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token = $1)`
	if err := r.db.GetContext(ctx, &exists, existsQuery, token); err != nil {
		return false, fmt.Errorf("consume refresh token: %w", err)
	}
	if !exists {
		return false, sql.ErrNoRows
	}
	return false, nil
}

// RevokeAllForUser revokes every non-revoked token owned by the user.
// Matching zero rows is still success.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID int64) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// ListActivity returns recent session activity joined with the owning user,
// newest first, for reporting.
func (r *TokenRepository) ListActivity(ctx context.Context, since time.Time, limit int) ([]models.SessionActivity, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	const query = `SELECT rt.user_id, u.email, rt.created_at, rt.expires_at, rt.used, rt.revoked, rt.ip_address
		FROM refresh_tokens rt
		INNER JOIN users u ON u.id = rt.user_id
		WHERE rt.created_at >= $1
		ORDER BY rt.created_at DESC
		LIMIT $2`
	var activity []models.SessionActivity
	if err := r.db.SelectContext(ctx, &activity, query, since, limit); err != nil {
		return nil, fmt.Errorf("list session activity: %w", err)
	}
	return activity, nil
}
