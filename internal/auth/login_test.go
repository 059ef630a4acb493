// ABOUTME: Tests for operator login, logout and current-user handlers
// ABOUTME: Exercises bcrypt verification, session cookies and rate limiting

package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dispatch-gateway/internal/store"
)

func newTestHandler(t *testing.T, limiter *LoginLimiter) (*Handler, *store.MockStore) {
	t.Helper()
	users := store.NewMockStore()
	seedUser(t, users, "user-1", "Alice", store.RoleAdmin, "correct-horse")
	return NewHandler(HandlerConfig{
		Users:    users,
		Tokens:   mustVerifier(t, testSecret),
		TokenTTL: time.Hour,
		Limiter:  limiter,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}), users
}

func postLogin(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	h.HandleLogin(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func TestHandleLogin(t *testing.T) {
	t.Run("success sets cookie and last login", func(t *testing.T) {
		h, users := newTestHandler(t, nil)

		rec := postLogin(h, `{"username":"alice","password":"correct-horse"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool     `json:"success"`
			User    UserView `json:"user"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "user-1", resp.User.ID)
		assert.Equal(t, store.RoleAdmin, resp.User.Role)
		assert.NotContains(t, rec.Body.String(), "$2a$")

		cookie := sessionCookie(rec)
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)
		assert.NotEmpty(t, cookie.Value)

		u, err := users.FindByID(context.Background(), "user-1")
		require.NoError(t, err)
		assert.NotNil(t, u.LastLogin)
	})

	t.Run("wrong password", func(t *testing.T) {
		h, _ := newTestHandler(t, nil)
		rec := postLogin(h, `{"username":"alice","password":"wrong-password"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, sessionCookie(rec))
	})

	t.Run("unknown user", func(t *testing.T) {
		h, _ := newTestHandler(t, nil)
		rec := postLogin(h, `{"username":"mallory","password":"whatever123"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid credentials")
	})

	t.Run("validation", func(t *testing.T) {
		h, _ := newTestHandler(t, nil)
		for _, body := range []string{
			`{"username":"","password":"correct-horse"}`,
			`{"username":"alice","password":"short"}`,
			`{not json`,
		} {
			rec := postLogin(h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		h, _ := newTestHandler(t, NewLoginLimiter(2, time.Hour))

		postLogin(h, `{"username":"alice","password":"wrong-password"}`)
		postLogin(h, `{"username":"alice","password":"wrong-password"}`)
		rec := postLogin(h, `{"username":"alice","password":"correct-horse"}`)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestHandleMe(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	login := postLogin(h, `{"username":"alice","password":"correct-horse"}`)
	cookie := sessionCookie(login)
	require.NotNil(t, cookie)

	t.Run("with session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.HandleMe(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"username":"Alice"`)
	})

	t.Run("without session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleMe(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleLogout(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := httptest.NewRecorder()
	h.HandleLogout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestLoginLimiter(t *testing.T) {
	l := NewLoginLimiter(3, time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := range 3 {
		assert.True(t, l.Allow("1.2.3.4"), "attempt %d", i)
	}
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"), "keys are independent")

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.True(t, l.Allow("1.2.3.4"), "budget refills over the window")
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("short")
	assert.Error(t, err)

	hash, err := HashPassword("long-enough")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
}
