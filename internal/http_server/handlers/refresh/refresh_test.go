package refresh

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"formbuilder/internal/auth"
	"formbuilder/internal/http_server/cookies"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"
	"formbuilder/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	users  map[string]models.User
	tokens map[string]string
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]models.User), tokens: make(map[string]string)}
}

func (s *memStore) SaveUser(_ context.Context, u models.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *memStore) UpdateUser(_ context.Context, u models.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *memStore) UserByEmail(_ context.Context, email string) (models.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (s *memStore) UserByID(_ context.Context, id string) (models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

func (s *memStore) UserByResetToken(_ context.Context, _ string) (models.User, error) {
	return models.User{}, storage.ErrUserNotFound
}

func (s *memStore) UserIDByRefreshToken(_ context.Context, tokenStr string) (string, error) {
	userID, ok := s.tokens[tokenStr]
	if !ok {
		return "", storage.ErrRefreshTokenNotFound
	}
	return userID, nil
}

func (s *memStore) AddRefreshToken(_ context.Context, userID, tokenStr string) error {
	s.tokens[tokenStr] = userID
	return nil
}

func (s *memStore) RemoveRefreshToken(_ context.Context, userID, tokenStr string) error {
	if s.tokens[tokenStr] == userID {
		delete(s.tokens, tokenStr)
	}
	return nil
}

func (s *memStore) RotateRefreshToken(_ context.Context, userID, oldToken, newToken string) error {
	if s.tokens[oldToken] != userID {
		return storage.ErrRefreshTokenNotFound
	}
	delete(s.tokens, oldToken)
	s.tokens[newToken] = userID
	return nil
}

func (s *memStore) ClearRefreshTokens(_ context.Context, userID string) error {
	for t, uid := range s.tokens {
		if uid == userID {
			delete(s.tokens, t)
		}
	}
	return nil
}

type nopPublisher struct{}

func (nopPublisher) SendMessage(_ context.Context, _ models.Message) error { return nil }

func newHandler(t *testing.T) (http.HandlerFunc, *auth.Auth, *memStore) {
	t.Helper()

	store := newMemStore()
	tm := token.NewManager("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	authService := auth.New(log, store, store, store, tm, nopPublisher{}, 10*time.Minute)

	return New(log, authService, 24*time.Hour), authService, store
}

func doRefresh(handler http.HandlerFunc, refreshCookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/refresh", nil)
	if refreshCookie != "" {
		req.AddCookie(&http.Cookie{Name: cookies.Name, Value: refreshCookie})
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func refreshCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == cookies.Name {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", cookies.Name)
	return nil
}

func TestHandler_RotatesCookie(t *testing.T) {
	handler, authService, store := newHandler(t)

	_, refreshToken, user, err := authService.Register(context.Background(), "Tester", "t@example.com", "sup3r-secret")
	require.NoError(t, err)

	rec := doRefresh(handler, refreshToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status      string `json:"status"`
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body.Status)
	assert.NotEmpty(t, body.AccessToken)

	cookie := refreshCookieFrom(t, rec)
	assert.NotEqual(t, refreshToken, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Positive(t, cookie.MaxAge)

	// The store now holds only the rotated token.
	_, err = store.UserIDByRefreshToken(context.Background(), refreshToken)
	assert.ErrorIs(t, err, storage.ErrRefreshTokenNotFound)
	ownerID, err := store.UserIDByRefreshToken(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, user.ID, ownerID)
}

func TestHandler_NoCookie(t *testing.T) {
	handler, _, _ := newHandler(t)

	rec := doRefresh(handler, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "No refresh token!")
}

func TestHandler_InvalidTokenClearsCookie(t *testing.T) {
	handler, _, _ := newHandler(t)

	rec := doRefresh(handler, "not-a-jwt")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid refresh token!")

	cookie := refreshCookieFrom(t, rec)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge, "reject must expire the session cookie")
}

func TestHandler_ReplayedTokenIsRejected(t *testing.T) {
	handler, authService, _ := newHandler(t)

	_, refreshToken, _, err := authService.Register(context.Background(), "Tester", "t@example.com", "sup3r-secret")
	require.NoError(t, err)

	first := doRefresh(handler, refreshToken)
	require.Equal(t, http.StatusOK, first.Code)

	replay := doRefresh(handler, refreshToken)
	assert.Equal(t, http.StatusForbidden, replay.Code)

	// The rotated token from the first call was burned by reuse detection.
	rotated := refreshCookieFrom(t, first).Value
	third := doRefresh(handler, rotated)
	assert.Equal(t, http.StatusForbidden, third.Code)
}
