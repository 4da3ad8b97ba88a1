package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/widemind/coursepay/internal/payments"
	"github.com/widemind/coursepay/internal/users"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *users.Service, *MemoryStore) {
	t.Helper()
	engine := payments.NewEngine(payments.NewMemoryStore(), 10000, nil)
	userSvc := users.NewService(users.NewMemoryStore(), engine, nil)
	store := NewMemoryStore()
	return NewManager(store, userSvc, ttl, nil), userSvc, store
}

func registerUser(t *testing.T, svc *users.Service, email string) *users.User {
	t.Helper()
	u, err := svc.Register(context.Background(), users.RegisterInput{
		Name:     "Ada Obi",
		Email:    email,
		Password: "correct horse",
	})
	require.NoError(t, err)
	return u
}

func TestManager_IssueAndValidate(t *testing.T) {
	m, svc, store := newTestManager(t, time.Hour)
	ctx := context.Background()
	u := registerUser(t, svc, "ada@example.com")

	token, err := m.Issue(ctx, u.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Only the hash reaches storage.
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	got, err := m.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestManager_Validate_BadToken(t *testing.T) {
	m, _, _ := newTestManager(t, time.Hour)

	_, err := m.Validate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = m.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestManager_Validate_Expired(t *testing.T) {
	m, svc, store := newTestManager(t, time.Millisecond)
	ctx := context.Background()
	u := registerUser(t, svc, "ada@example.com")

	token, err := m.Issue(ctx, u.ID)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = m.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	// Expired session was deleted on sight.
	_, err = store.Get(ctx, hashToken(token))
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestManager_Validate_SuspendedUser(t *testing.T) {
	m, svc, _ := newTestManager(t, time.Hour)
	ctx := context.Background()
	u := registerUser(t, svc, "ada@example.com")

	token, err := m.Issue(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetSuspended(ctx, u.ID, true))

	_, err = m.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestManager_Revoke(t *testing.T) {
	m, svc, _ := newTestManager(t, time.Hour)
	ctx := context.Background()
	u := registerUser(t, svc, "ada@example.com")

	token, err := m.Issue(ctx, u.ID)
	require.NoError(t, err)

	m.Revoke(ctx, token)
	_, err = m.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestManager_RevokeAll(t *testing.T) {
	m, svc, _ := newTestManager(t, time.Hour)
	ctx := context.Background()
	u := registerUser(t, svc, "ada@example.com")

	t1, err := m.Issue(ctx, u.ID)
	require.NoError(t, err)
	t2, err := m.Issue(ctx, u.ID)
	require.NoError(t, err)

	require.NoError(t, m.RevokeAll(ctx, u.ID))
	_, err = m.Validate(ctx, t1)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = m.Validate(ctx, t2)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, &Session{TokenHash: "a", UserID: "u1", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Create(ctx, &Session{TokenHash: "b", UserID: "u1", ExpiresAt: now.Add(time.Minute)}))

	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, "b")
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Middleware + handler tests
// ---------------------------------------------------------------------------

func setupAuthRouter(t *testing.T) (*gin.Engine, *Manager, *users.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, svc, _ := newTestManager(t, time.Hour)
	handler := NewHandler(m, svc, false)

	r := gin.New()
	api := r.Group("/api")
	handler.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(m.RequireUser())
	protected.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.GetString("userID"), "role": c.GetString("userRole")})
	})

	adminOnly := api.Group("/admin")
	adminOnly.Use(m.RequireAdmin())
	adminOnly.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return r, m, svc
}

func postJSON(r *gin.Engine, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RegisterLoginFlow(t *testing.T) {
	r, _, _ := setupAuthRouter(t)

	w := postJSON(r, "/api/register",
		`{"name":"Ada Obi","email":"ada@example.com","password":"correct horse"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Token string     `json:"token"`
		User  users.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "ada@example.com", resp.User.Email)

	// The session works immediately.
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Contains(t, w2.Body.String(), resp.User.ID)

	// Fresh login also works.
	w3 := postJSON(r, "/api/login", `{"email":"ada@example.com","password":"correct horse"}`, "")
	assert.Equal(t, http.StatusOK, w3.Code)
}

func TestHandler_Register_DuplicateEmail(t *testing.T) {
	r, _, _ := setupAuthRouter(t)

	body := `{"name":"Ada Obi","email":"ada@example.com","password":"correct horse"}`
	require.Equal(t, http.StatusCreated, postJSON(r, "/api/register", body, "").Code)
	assert.Equal(t, http.StatusConflict, postJSON(r, "/api/register", body, "").Code)
}

func TestHandler_Login_BadCredentials(t *testing.T) {
	r, _, svc := setupAuthRouter(t)
	registerUser(t, svc, "ada@example.com")

	w := postJSON(r, "/api/login", `{"email":"ada@example.com","password":"wrong password"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_Logout_RevokesSession(t *testing.T) {
	r, m, svc := setupAuthRouter(t)
	u := registerUser(t, svc, "ada@example.com")

	token, err := m.Issue(context.Background(), u.ID)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, postJSON(r, "/api/logout", `{}`, token).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_RequireUser_NoToken(t *testing.T) {
	r, _, _ := setupAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_RequireUser_CookieToken(t *testing.T) {
	r, m, svc := setupAuthRouter(t)
	u := registerUser(t, svc, "ada@example.com")

	token, err := m.Issue(context.Background(), u.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RequireAdmin(t *testing.T) {
	r, m, svc := setupAuthRouter(t)
	ctx := context.Background()

	u := registerUser(t, svc, "ada@example.com")
	userToken, err := m.Issue(ctx, u.ID)
	require.NoError(t, err)

	// Regular users are forbidden.
	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// No token at all is unauthorized, not forbidden.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
