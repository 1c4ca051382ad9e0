package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

type mockUserStore struct {
	mu               sync.Mutex
	users            map[int64]*models.User
	lastLoginUpdated bool
}

func (m *mockUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (m *mockUserStore) UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLoginUpdated = true
	return nil
}

// mockLedger is an in-memory refresh token store. Consume takes the lock for
// its check-and-set so it mirrors the atomicity of the SQL conditional update.
type mockLedger struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newMockLedger() *mockLedger {
	return &mockLedger{tokens: make(map[string]*models.RefreshToken)}
}

func (m *mockLedger) Create(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokens[token.Token]; exists {
		return appErrors.Clone(appErrors.ErrConflict, "refresh token value collision")
	}
	copied := *token
	m.tokens[token.Token] = &copied
	return nil
}

func (m *mockLedger) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *rec
	return &copied, nil
}

func (m *mockLedger) Consume(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[token]
	if !ok {
		return false, sql.ErrNoRows
	}
	if rec.Used {
		return false, nil
	}
	rec.Used = true
	return true, nil
}

func (m *mockLedger) RevokeAllForUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range m.tokens {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = &now
		}
	}
	return nil
}

type staticRoles struct {
	roles []string
	err   error
}

func (s staticRoles) ResolveRoles(ctx context.Context, userID int64) ([]string, error) {
	return s.roles, s.err
}

func newAuthFixture(t *testing.T, singleSession bool) (*AuthService, *TokenService, *mockUserStore, *mockLedger) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	require.NoError(t, err)

	users := &mockUserStore{users: map[int64]*models.User{
		7: {ID: 7, Email: "user@example.com", FullName: "Test User", PasswordHash: string(hash), Active: true},
	}}
	ledger := newMockLedger()
	tokenSvc := NewTokenService(ledger, zap.NewNop(), testAuthConfig())

	authSvc := NewAuthService(AuthServiceDeps{
		Users:         users,
		Tokens:        ledger,
		Roles:         staticRoles{roles: []string{models.RoleNameAdmin}},
		Issuer:        tokenSvc,
		SingleSession: singleSession,
	})
	return authSvc, tokenSvc, users, ledger
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	svc, tokenSvc, users, ledger := newAuthFixture(t, true)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, users.lastLoginUpdated)
	assert.Len(t, ledger.tokens, 1)

	claims, err := tokenSvc.Validate(pair.AccessToken)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, []string{models.RoleNameAdmin}, claims.Roles)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, true)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, true)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	svc, _, users, _ := newAuthFixture(t, true)
	users.users[7].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceSecondLoginRevokesPrevious(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, true)

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: first.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRefreshRevoked.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotates(t *testing.T) {
	svc, tokenSvc, _, ledger := newAuthFixture(t, true)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.True(t, ledger.tokens[pair.RefreshToken].Used)

	claims, err := tokenSvc.Validate(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleNameAdmin}, claims.Roles)
}

func TestAuthServiceRefreshReuseDetected(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, true)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRefreshReused.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshUnknownToken(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, true)

	_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "never-issued"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRefreshNotFound.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshExpiredToken(t *testing.T) {
	svc, _, _, ledger := newAuthFixture(t, true)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	ledger.tokens[pair.RefreshToken].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRefreshExpired.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshInactiveOwner(t *testing.T) {
	svc, _, users, _ := newAuthFixture(t, true)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	users.users[7].Active = false

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutRevokesTokens(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, true)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), 7, "10.0.0.1", "test-agent"))

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRefreshRevoked.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutWithoutTokens(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, true)
	require.NoError(t, svc.Logout(context.Background(), 7, "", ""))
}

func TestAuthServiceConcurrentRefreshSingleWinner(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, false)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	const callers = 50
	var wg sync.WaitGroup
	results := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, appErrors.IsRefreshRejection(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)
}
