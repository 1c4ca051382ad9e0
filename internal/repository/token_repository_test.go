package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

func newTokenRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTokenRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token := &models.RefreshToken{
		UserID:    7,
		Token:     "opaque-value",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), token))
	assert.NotEmpty(t, token.ID)
	assert.False(t, token.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryCreateValueCollision(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.RefreshToken{UserID: 7, Token: "dup"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryConsumeWinner(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET used = TRUE WHERE token = $1 AND used = FALSE")).
		WithArgs("opaque-value").
		WillReturnResult(sqlmock.NewResult(0, 1))

	consumed, err := repo.Consume(context.Background(), "opaque-value")
	require.NoError(t, err)
	assert.True(t, consumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryConsumeAlreadyUsed(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET used = TRUE WHERE token = $1 AND used = FALSE")).
		WithArgs("opaque-value").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("opaque-value").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	consumed, err := repo.Consume(context.Background(), "opaque-value")
	require.NoError(t, err)
	assert.False(t, consumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryConsumeUnknown(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET used = TRUE WHERE token = $1 AND used = FALSE")).
		WithArgs("never-issued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("never-issued").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.Consume(context.Background(), "never-issued")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryFindByToken(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "used", "revoked", "revoked_at", "ip_address", "user_agent"}).
		AddRow("rt-1", int64(7), "opaque-value", now.Add(time.Hour), now, false, false, nil, "10.0.0.1", "agent")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token, expires_at, created_at, used, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1")).
		WithArgs("opaque-value").
		WillReturnRows(rows)

	found, err := repo.FindByToken(context.Background(), "opaque-value")
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.UserID)
	assert.False(t, found.Used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryFindByTokenMissing(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByToken(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.RevokeAllForUser(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryListActivity(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_id", "email", "created_at", "expires_at", "used", "revoked", "ip_address"}).
		AddRow(int64(7), "admin@example.com", now, now.Add(time.Hour), false, false, "10.0.0.1")
	mock.ExpectQuery("SELECT rt.user_id, u.email").
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(rows)

	activity, err := repo.ListActivity(context.Background(), now.Add(-time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "admin@example.com", activity[0].Email)
	require.NoError(t, mock.ExpectationsWereMet())
}
