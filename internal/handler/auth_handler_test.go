package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/iam-api/internal/middleware"
	"github.com/noah-isme/iam-api/internal/models"
	"github.com/noah-isme/iam-api/internal/service"
	"github.com/noah-isme/iam-api/pkg/config"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func (f *fakeUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserStore) UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error {
	return nil
}

func (f *fakeUserStore) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return nil, 0, nil
}

func (f *fakeUserStore) Create(ctx context.Context, user *models.User) error { return nil }

func (f *fakeUserStore) Update(ctx context.Context, user *models.User) error { return nil }

func (f *fakeUserStore) Delete(ctx context.Context, id int64) error { return nil }

func (f *fakeUserStore) UpdatePassword(ctx context.Context, id int64, hash string, ts time.Time) error {
	return nil
}

type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]*models.RefreshToken)}
}

func (f *fakeTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *token
	f.tokens[token.Token] = &copied
	return nil
}

func (f *fakeTokenStore) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeTokenStore) Consume(ctx context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tokens[token]
	if !ok {
		return false, sql.ErrNoRows
	}
	if rec.Used {
		return false, nil
	}
	rec.Used = true
	return true, nil
}

func (f *fakeTokenStore) RevokeAllForUser(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range f.tokens {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = &now
		}
	}
	return nil
}

type fixedRoles struct{}

func (fixedRoles) ResolveRoles(ctx context.Context, userID int64) ([]string, error) {
	return []string{models.RoleNameUser}, nil
}

type envelope struct {
	Data  map[string]interface{} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	require.NoError(t, err)

	users := &fakeUserStore{users: map[int64]*models.User{
		7: {ID: 7, Email: "user@example.com", FullName: "Test User", PasswordHash: string(hash), Active: true},
	}}
	tokens := newFakeTokenStore()

	authCfg := config.AuthConfig{
		Secret:             "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
	}
	tokenSvc := service.NewTokenService(tokens, zap.NewNop(), authCfg)
	authSvc := service.NewAuthService(service.AuthServiceDeps{
		Users:         users,
		Tokens:        tokens,
		Roles:         fixedRoles{},
		Issuer:        tokenSvc,
		SingleSession: true,
	})
	userSvc := service.NewUserService(users, tokens, nil, nil, nil, zap.NewNop())
	h := NewAuthHandler(authSvc, userSvc, zap.NewNop())

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	authed := r.Group("", middleware.JWT(tokenSvc))
	authed.POST("/auth/logout", h.Logout)
	authed.GET("/auth/me", h.Me)
	authed.POST("/auth/change-password", h.ChangePassword)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, bearer string, payload interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func login(t *testing.T, r *gin.Engine) (string, string) {
	t.Helper()
	rec, env := doJSON(t, r, http.MethodPost, "/auth/login", "", gin.H{"email": "user@example.com", "password": "password"})
	require.Equal(t, http.StatusOK, rec.Code)
	access, _ := env.Data["access_token"].(string)
	refresh, _ := env.Data["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	return access, refresh
}

func TestAuthHandlerLoginSuccess(t *testing.T) {
	r := newAuthRouter(t)

	rec, env := doJSON(t, r, http.MethodPost, "/auth/login", "", gin.H{"email": "user@example.com", "password": "password"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer", env.Data["token_type"])
	assert.NotEmpty(t, env.Data["access_token"])
}

func TestAuthHandlerLoginBadCredentials(t *testing.T) {
	r := newAuthRouter(t)

	rec, env := doJSON(t, r, http.MethodPost, "/auth/login", "", gin.H{"email": "user@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
}

func TestAuthHandlerLoginMalformedPayload(t *testing.T) {
	r := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerRefreshRotates(t *testing.T) {
	r := newAuthRouter(t)
	_, refresh := login(t, r)

	rec, env := doJSON(t, r, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": refresh})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, refresh, env.Data["refresh_token"])
}

// All refresh-state failures must come back identical to the caller: same
// status, same generic message, no hint whether the value was unknown,
// used, revoked or expired.
func TestAuthHandlerRefreshRejectionsAreUniform(t *testing.T) {
	r := newAuthRouter(t)
	_, reused := login(t, r)

	// consume once so the value becomes a reuse case
	rec, _ := doJSON(t, r, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": reused})
	require.Equal(t, http.StatusOK, rec.Code)

	_, revoked := login(t, r) // fresh session
	_, current := login(t, r) // single-session mode revokes the previous one

	cases := map[string]string{
		"unknown": "never-issued",
		"reused":  reused,
		"revoked": revoked,
	}
	for name, value := range cases {
		rec, env := doJSON(t, r, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": value})
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
		require.NotNil(t, env.Error, name)
		assert.Equal(t, "UNAUTHORIZED", env.Error.Code, name)
		assert.Equal(t, "invalid refresh token", env.Error.Message, name)
	}

	// the live token still works
	rec, _ = doJSON(t, r, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": current})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	r := newAuthRouter(t)
	access, _ := login(t, r)

	rec, env := doJSON(t, r, http.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user@example.com", env.Data["email"])
	assert.Equal(t, float64(7), env.Data["id"])
}

func TestAuthHandlerMeWithoutToken(t *testing.T) {
	r := newAuthRouter(t)

	rec, _ := doJSON(t, r, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerLogoutInvalidatesRefresh(t *testing.T) {
	r := newAuthRouter(t)
	access, refresh := login(t, r)

	rec, _ := doJSON(t, r, http.MethodPost, "/auth/logout", access, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env := doJSON(t, r, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid refresh token", env.Error.Message)
}

func TestAuthHandlerChangePassword(t *testing.T) {
	r := newAuthRouter(t)
	access, _ := login(t, r)

	rec, _ := doJSON(t, r, http.MethodPost, "/auth/change-password", access, gin.H{
		"old_password": "password",
		"new_password": "newpassword",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
