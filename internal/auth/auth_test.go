package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"formbuilder/internal/models"
	"formbuilder/internal/storage"
	"formbuilder/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory UserSaver/UserProvider/RefreshTokenStore. The
// mutex makes RotateRefreshToken atomic the way the SQL transaction does.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]models.User
	tokens map[string]string // token -> user id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]models.User),
		tokens: make(map[string]string),
	}
}

func (s *fakeStore) SaveUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return storage.ErrUserExists
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) UpdateUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return storage.ErrUserNotFound
	}
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) UserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (s *fakeStore) UserByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

func (s *fakeStore) UserByResetToken(_ context.Context, tokenHash string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.PasswordResetToken != "" && u.PasswordResetToken == tokenHash {
			return u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (s *fakeStore) UserIDByRefreshToken(_ context.Context, tokenStr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.tokens[tokenStr]
	if !ok {
		return "", storage.ErrRefreshTokenNotFound
	}
	return userID, nil
}

func (s *fakeStore) AddRefreshToken(_ context.Context, userID, tokenStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tokenStr] = userID
	return nil
}

func (s *fakeStore) RemoveRefreshToken(_ context.Context, userID, tokenStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens[tokenStr] == userID {
		delete(s.tokens, tokenStr)
	}
	return nil
}

func (s *fakeStore) RotateRefreshToken(_ context.Context, userID, oldToken, newToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens[oldToken] != userID {
		return storage.ErrRefreshTokenNotFound
	}
	delete(s.tokens, oldToken)
	s.tokens[newToken] = userID
	return nil
}

func (s *fakeStore) ClearRefreshTokens(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t, uid := range s.tokens {
		if uid == userID {
			delete(s.tokens, t)
		}
	}
	return nil
}

func (s *fakeStore) tokensFor(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []string
	for t, uid := range s.tokens {
		if uid == userID {
			result = append(result, t)
		}
	}
	return result
}

type fakePublisher struct {
	fail bool
	sent []models.Message
}

func (p *fakePublisher) SendMessage(_ context.Context, msg models.Message) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func newTestAuth(t *testing.T) (*Auth, *fakeStore, *fakePublisher, *token.Manager) {
	t.Helper()

	store := newFakeStore()
	pub := &fakePublisher{}
	tm := token.NewManager("access-secret", "refresh-secret", time.Hour, 7*24*time.Hour)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(log, store, store, store, tm, pub, 10*time.Minute), store, pub, tm
}

func registerTestUser(t *testing.T, a *Auth) (models.User, string) {
	t.Helper()

	_, refreshToken, user, err := a.Register(context.Background(), "Tester", "tester@example.com", "sup3r-secret")
	require.NoError(t, err)

	return user, refreshToken
}

func TestRegister_DuplicateEmail(t *testing.T) {
	a, _, _, _ := newTestAuth(t)
	registerTestUser(t, a)

	_, _, _, err := a.Register(context.Background(), "Other", "tester@example.com", "password123")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestLogin_Success(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	access, refresh, got, err := a.Login(context.Background(), "tester@example.com", "sup3r-secret", "")
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.Equal(t, user.ID, got.ID)
	assert.Contains(t, store.tokensFor(user.ID), refresh)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	a, _, _, _ := newTestAuth(t)
	registerTestUser(t, a)

	_, _, _, err := a.Login(context.Background(), "tester@example.com", "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, _, err = a.Login(context.Background(), "nobody@example.com", "whatever", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_DeletedAccount(t *testing.T) {
	a, _, _, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	require.NoError(t, a.DeleteAccount(context.Background(), user.ID))

	_, _, _, err := a.Login(context.Background(), "tester@example.com", "sup3r-secret", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_RetiresPresentedCookie(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, firstRefresh := registerTestUser(t, a)

	_, secondRefresh, _, err := a.Login(context.Background(), "tester@example.com", "sup3r-secret", firstRefresh)
	require.NoError(t, err)

	remaining := store.tokensFor(user.ID)
	assert.NotContains(t, remaining, firstRefresh)
	assert.Contains(t, remaining, secondRefresh)
	assert.Len(t, remaining, 1)
}

func TestLogin_PreservesOtherDevices(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, deviceA := registerTestUser(t, a)

	// Second device logs in without a cookie.
	_, deviceB, _, err := a.Login(context.Background(), "tester@example.com", "sup3r-secret", "")
	require.NoError(t, err)

	remaining := store.tokensFor(user.ID)
	assert.Contains(t, remaining, deviceA)
	assert.Contains(t, remaining, deviceB)
	assert.Len(t, remaining, 2)
}

func TestLogin_ForeignCookieResetsSessions(t *testing.T) {
	a, store, _, tm := newTestAuth(t)
	user, deviceA := registerTestUser(t, a)

	// A validly signed token that is in nobody's stored set.
	foreign, err := tm.SignRefresh(user.ID)
	require.NoError(t, err)

	_, fresh, _, err := a.Login(context.Background(), "tester@example.com", "sup3r-secret", foreign)
	require.NoError(t, err)

	remaining := store.tokensFor(user.ID)
	assert.NotContains(t, remaining, deviceA, "defensive clear must drop every old session")
	assert.Equal(t, []string{fresh}, remaining)
}

func TestRefresh_RotatesToken(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, refreshToken := registerTestUser(t, a)

	access, rotated, err := a.Refresh(context.Background(), refreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	require.NotEmpty(t, rotated)
	assert.NotEqual(t, refreshToken, rotated)

	remaining := store.tokensFor(user.ID)
	assert.NotContains(t, remaining, refreshToken)
	assert.Contains(t, remaining, rotated)
	assert.Len(t, remaining, 1, "single session must keep list size net unchanged")
}

func TestRefresh_ReuseRevokesAllSessions(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, deviceA := registerTestUser(t, a)

	_, deviceB, _, err := a.Login(context.Background(), "tester@example.com", "sup3r-secret", "")
	require.NoError(t, err)

	// Legitimate rotation of device A.
	_, rotatedA, err := a.Refresh(context.Background(), deviceA)
	require.NoError(t, err)

	// Device B is untouched by A's rotation.
	assert.Contains(t, store.tokensFor(user.ID), deviceB)

	// Replaying the consumed token burns the whole account.
	_, _, err = a.Refresh(context.Background(), deviceA)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Empty(t, store.tokensFor(user.ID), "reuse must revoke %q and %q", rotatedA, deviceB)
}

func TestRefresh_GarbageTokenNoStateChange(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, refreshToken := registerTestUser(t, a)

	for _, garbage := range []string{"not-a-jwt", "a.b.c", ""} {
		_, _, err := a.Refresh(context.Background(), garbage)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}

	assert.Equal(t, []string{refreshToken}, store.tokensFor(user.ID))
}

func TestRefresh_UnknownUserNoStateChange(t *testing.T) {
	a, store, _, tm := newTestAuth(t)
	user, refreshToken := registerTestUser(t, a)

	// Well formed, signed for an account that does not exist.
	orphan, err := tm.SignRefresh("no-such-user")
	require.NoError(t, err)

	_, _, err = a.Refresh(context.Background(), orphan)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, []string{refreshToken}, store.tokensFor(user.ID))
}

func TestRefresh_StoredExpiredTokenIsPurged(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	expiredManager := token.NewManager("access-secret", "refresh-secret", time.Hour, -time.Minute)
	expired, err := expiredManager.SignRefresh(user.ID)
	require.NoError(t, err)
	require.NoError(t, store.AddRefreshToken(context.Background(), user.ID, expired))

	_, _, err = a.Refresh(context.Background(), expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Purged, not renewed; the original session survives.
	remaining := store.tokensFor(user.ID)
	assert.NotContains(t, remaining, expired)
	assert.Len(t, remaining, 1)
}

func TestRefresh_ConcurrentSameToken(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, refreshToken := registerTestUser(t, a)

	type result struct {
		refresh string
		err     error
	}

	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, rotated, err := a.Refresh(context.Background(), refreshToken)
			results <- result{refresh: rotated, err: err}
		}()
	}

	var succeeded, failed int
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			assert.ErrorIs(t, res.err, ErrInvalidToken)
			failed++
		} else {
			assert.NotEmpty(t, res.refresh)
			succeeded++
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one racing refresh may issue a pair")
	assert.Equal(t, 1, failed)
	assert.LessOrEqual(t, len(store.tokensFor(user.ID)), 1)
}

func TestLogout_Idempotent(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, refreshToken := registerTestUser(t, a)

	require.NoError(t, a.Logout(context.Background(), refreshToken))
	assert.Empty(t, store.tokensFor(user.ID))

	// Second logout with the same, now unknown token and with no token.
	assert.NoError(t, a.Logout(context.Background(), refreshToken))
	assert.NoError(t, a.Logout(context.Background(), ""))
}

func TestLogout_RemovesOnlyPresentedToken(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, deviceA := registerTestUser(t, a)

	_, deviceB, _, err := a.Login(context.Background(), "tester@example.com", "sup3r-secret", "")
	require.NoError(t, err)

	require.NoError(t, a.Logout(context.Background(), deviceA))

	assert.Equal(t, []string{deviceB}, store.tokensFor(user.ID))
}

func TestChangePassword(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	err := a.ChangePassword(context.Background(), user.ID, "wrong", "new-password-1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, a.ChangePassword(context.Background(), user.ID, "sup3r-secret", "new-password-1"))

	updated, err := store.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.PasswordChangedAt)
	assert.Empty(t, store.tokensFor(user.ID), "password change must revoke every session")

	_, _, _, err = a.Login(context.Background(), "tester@example.com", "new-password-1", "")
	assert.NoError(t, err)
}

func TestForgotPassword_PublishesResetMail(t *testing.T) {
	a, store, pub, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	require.NoError(t, a.ForgotPassword(context.Background(), "tester@example.com", "https://app.example.com/"))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "tester@example.com", pub.sent[0].Email)
	assert.Contains(t, pub.sent[0].Body, "https://app.example.com/reset-password/")

	updated, err := store.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.PasswordResetToken)
	require.NotNil(t, updated.PasswordResetExpires)
	assert.True(t, updated.PasswordResetExpires.After(time.Now()))
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	a, _, _, _ := newTestAuth(t)

	err := a.ForgotPassword(context.Background(), "nobody@example.com", "https://app.example.com/")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestForgotPassword_RollsBackOnPublishFailure(t *testing.T) {
	a, store, pub, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	pub.fail = true

	err := a.ForgotPassword(context.Background(), "tester@example.com", "https://app.example.com/")
	assert.ErrorIs(t, err, ErrEmailSend)

	updated, err := store.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.PasswordResetToken, "failed send must clear the issued reset token")
	assert.Nil(t, updated.PasswordResetExpires)
}

func TestResetPassword(t *testing.T) {
	a, store, pub, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	require.NoError(t, a.ForgotPassword(context.Background(), "tester@example.com", "https://app.example.com/"))

	// Recover the raw token from the mailed link.
	require.Len(t, pub.sent, 1)
	body := pub.sent[0].Body
	idx := strings.Index(body, "reset-password/")
	require.NotEqual(t, -1, idx)
	raw := body[idx+len("reset-password/") : idx+len("reset-password/")+64]

	require.NoError(t, a.ResetPassword(context.Background(), raw, "brand-new-password"))

	updated, err := store.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.PasswordResetToken)
	require.NotNil(t, updated.PasswordChangedAt)

	_, _, _, err = a.Login(context.Background(), "tester@example.com", "brand-new-password", "")
	assert.NoError(t, err)

	// The token is single-use.
	err = a.ResetPassword(context.Background(), raw, "another-password-1")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestResetPassword_InvalidToken(t *testing.T) {
	a, _, _, _ := newTestAuth(t)
	registerTestUser(t, a)

	err := a.ResetPassword(context.Background(), "deadbeef", "whatever-password")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestUpdateProfile(t *testing.T) {
	a, _, _, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	updated, err := a.UpdateProfile(context.Background(), user.ID, "New Name", "", "https://cdn.example.com/avatar.png")
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, "tester@example.com", updated.Email, "empty field leaves the value unchanged")
	assert.Equal(t, "https://cdn.example.com/avatar.png", updated.Avatar)
}

func TestDeleteAccount_SoftDeletes(t *testing.T) {
	a, store, _, _ := newTestAuth(t)
	user, _ := registerTestUser(t, a)

	require.NoError(t, a.DeleteAccount(context.Background(), user.ID))

	deleted, err := store.UserByID(context.Background(), user.ID)
	require.NoError(t, err, "soft delete keeps the record")
	assert.True(t, deleted.IsDeleted)
	assert.NotNil(t, deleted.DeletedAt)
	assert.Empty(t, store.tokensFor(user.ID))
}
