package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "formbuilder/internal/lib/logger"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"
	"formbuilder/internal/token"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrResetTokenInvalid  = errors.New("reset token is invalid or has expired")
	ErrEmailSend          = errors.New("failed to send email")
)

const bcryptCost = 12

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	tokens      RefreshTokenStore
	tm          *token.Manager
	mailPub     Publisher
	resetTTL    time.Duration
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) error
	UpdateUser(ctx context.Context, user models.User) error
}

type UserProvider interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
	UserByResetToken(ctx context.Context, tokenHash string) (models.User, error)
}

// RefreshTokenStore is the server-side set of currently valid refresh
// tokens, indexed token -> user id. A user may hold several tokens at
// once, one per device session.
type RefreshTokenStore interface {
	UserIDByRefreshToken(ctx context.Context, tokenStr string) (string, error)
	AddRefreshToken(ctx context.Context, userID, tokenStr string) error
	RemoveRefreshToken(ctx context.Context, userID, tokenStr string) error

	// RotateRefreshToken atomically replaces oldToken with newToken for the
	// user. It returns storage.ErrRefreshTokenNotFound when oldToken was
	// already consumed by a concurrent rotation.
	RotateRefreshToken(ctx context.Context, userID, oldToken, newToken string) error

	ClearRefreshTokens(ctx context.Context, userID string) error
}

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokens RefreshTokenStore,
	tm *token.Manager,
	mailPub Publisher,
	resetTTL time.Duration,
) *Auth {
	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		tokens:      tokens,
		tm:          tm,
		mailPub:     mailPub,
		resetTTL:    resetTTL,
	}
}

func (a *Auth) Register(
	ctx context.Context,
	name, email, password string,
) (accessToken, refreshToken string, user models.User, err error) {
	const op = "auth.Register"

	log := a.log.With(slog.String("op", op))

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user = models.User{
		ID:       uuid.NewString(),
		Name:     name,
		Email:    email,
		PassHash: passHash,
	}

	if err := a.usrSaver.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")
			return "", "", models.User{}, ErrUserExists
		}

		log.Error("failed to save user", sl.Err(err))
		return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	accessToken, refreshToken, err = a.issueTokens(ctx, user.ID)
	if err != nil {
		return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("uid", user.ID))

	return accessToken, refreshToken, user, nil
}

// Login checks the credentials and issues a fresh token pair. The refresh
// token presented as the current session cookie, if any, is retired: when
// it belongs to this user it is dropped from the stored set, and when it
// belongs to no user at all the whole set is reset before the new token is
// added. Tokens of other live sessions are preserved.
func (a *Auth) Login(
	ctx context.Context,
	email, password, presentedToken string,
) (accessToken, refreshToken string, user models.User, err error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err = a.usrProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return "", "", models.User{}, ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		log.Warn("login attempt on deleted account", slog.String("uid", user.ID))
		return "", "", models.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials")
		return "", "", models.User{}, ErrInvalidCredentials
	}

	if presentedToken != "" {
		ownerID, err := a.tokens.UserIDByRefreshToken(ctx, presentedToken)
		switch {
		case errors.Is(err, storage.ErrRefreshTokenNotFound):
			// The cookie held a token unknown to every live session:
			// treat it as possibly stolen and reset this account's set.
			if err := a.tokens.ClearRefreshTokens(ctx, user.ID); err != nil {
				return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
			}
		case err != nil:
			return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
		case ownerID == user.ID:
			if err := a.tokens.RemoveRefreshToken(ctx, user.ID, presentedToken); err != nil {
				return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
			}
		}
	}

	accessToken, refreshToken, err = a.issueTokens(ctx, user.ID)
	if err != nil {
		return "", "", models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.String("uid", user.ID))

	return accessToken, refreshToken, user, nil
}

// Refresh rotates the presented refresh token: the old token is consumed,
// a new access/refresh pair is issued, and replay of a token that was
// already rotated out burns every session of the account it was signed
// for. All failures surface as ErrInvalidToken so a caller cannot tell
// reuse detection apart from expiry or a bad signature.
func (a *Auth) Refresh(
	ctx context.Context,
	presentedToken string,
) (accessToken, refreshToken string, err error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	ownerID, err := a.tokens.UserIDByRefreshToken(ctx, presentedToken)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			return "", "", a.handleUnknownToken(ctx, log, presentedToken)
		}

		log.Error("failed to look up refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	claims, verr := a.tm.VerifyRefresh(presentedToken)
	if verr != nil || claims.UserID != ownerID {
		// Stored but no longer valid (or signed for someone else):
		// purge it so it cannot linger in the set.
		if err := a.tokens.RemoveRefreshToken(ctx, ownerID, presentedToken); err != nil {
			log.Error("failed to purge stale refresh token", sl.Err(err))
			return "", "", fmt.Errorf("%s: %w", op, err)
		}

		log.Warn("stored refresh token failed verification", slog.String("uid", ownerID))

		return "", "", ErrInvalidToken
	}

	accessToken, err = a.tm.SignAccess(ownerID)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err = a.tm.SignRefresh(ownerID)
	if err != nil {
		log.Error("failed to sign refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	if err := a.tokens.RotateRefreshToken(ctx, ownerID, presentedToken, refreshToken); err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			// A concurrent refresh consumed the token first; the loser
			// gets a plain rejection, never a duplicate pair.
			log.Warn("refresh token consumed concurrently", slog.String("uid", ownerID))
			return "", "", ErrInvalidToken
		}

		log.Error("failed to rotate refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.String("uid", ownerID))

	return accessToken, refreshToken, nil
}

// handleUnknownToken deals with a refresh token absent from every user's
// set. A token that still verifies was rotated out by a legitimate earlier
// refresh, so its reappearance means it was captured and replayed: all
// sessions of the claimed account are revoked. Garbage never mutates state.
func (a *Auth) handleUnknownToken(ctx context.Context, log *slog.Logger, presentedToken string) error {
	claims, err := a.tm.VerifyRefresh(presentedToken)
	if err != nil {
		log.Warn("unknown refresh token failed verification", sl.Err(err))
		return ErrInvalidToken
	}

	hacked, err := a.usrProvider.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("refresh token signed for nonexistent user")
			return ErrInvalidToken
		}

		log.Error("failed to load user for reuse check", sl.Err(err))
		return ErrInvalidToken
	}

	if err := a.tokens.ClearRefreshTokens(ctx, hacked.ID); err != nil {
		log.Error("failed to revoke sessions after token reuse", sl.Err(err))
		return ErrInvalidToken
	}

	log.Warn("refresh token reuse detected, all sessions revoked", slog.String("uid", hacked.ID))

	return ErrInvalidToken
}

// Logout removes exactly the presented refresh token. It is idempotent:
// an absent or unknown token is a no-op success.
func (a *Auth) Logout(ctx context.Context, presentedToken string) error {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	if presentedToken == "" {
		return nil
	}

	ownerID, err := a.tokens.UserIDByRefreshToken(ctx, presentedToken)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			return nil
		}

		log.Error("failed to look up refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.tokens.RemoveRefreshToken(ctx, ownerID, presentedToken); err != nil {
		log.Error("failed to remove refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out", slog.String("uid", ownerID))

	return nil
}

// ForgotPassword issues a reset token and mails a reset link. When the
// mail job cannot be published the token is rolled back before the error
// is surfaced, so no orphaned reset token stays usable.
func (a *Auth) ForgotPassword(ctx context.Context, email, refererURL string) error {
	const op = "auth.ForgotPassword"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return storage.ErrUserNotFound
		}

		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	raw, hash, err := token.NewResetToken()
	if err != nil {
		log.Error("failed to generate reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	expires := time.Now().Add(a.resetTTL)
	user.PasswordResetToken = hash
	user.PasswordResetExpires = &expires

	if err := a.usrSaver.UpdateUser(ctx, user); err != nil {
		log.Error("failed to store reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	resetURL := fmt.Sprintf("%sreset-password/%s", refererURL, raw)

	msg := models.Message{
		Email:   user.Email,
		Subject: "Password reset token for Form Builder account (valid for 10 minutes)",
		Body: "You are receiving this email because you have just requested to reset " +
			"your Form Builder password. Please click on the link below or copy and paste " +
			"the URL in a new browser window to reset your password:\n\n" +
			resetURL + "\n\n" +
			"If you did not request this, please ignore this email and your password will remain unchanged.",
	}

	if err := a.mailPub.SendMessage(ctx, msg); err != nil {
		log.Error("failed to publish reset email, rolling back token", sl.Err(err))

		user.PasswordResetToken = ""
		user.PasswordResetExpires = nil
		if rbErr := a.usrSaver.UpdateUser(ctx, user); rbErr != nil {
			log.Error("failed to roll back reset token", sl.Err(rbErr))
		}

		return ErrEmailSend
	}

	log.Info("reset email queued", slog.String("uid", user.ID))

	return nil
}

func (a *Auth) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByResetToken(ctx, token.HashResetToken(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrResetTokenInvalid
		}

		log.Error("failed to look up reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if user.PasswordResetExpires == nil || time.Now().After(*user.PasswordResetExpires) {
		return ErrResetTokenInvalid
	}

	if err := a.setPassword(ctx, &user, newPassword); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset", slog.String("uid", user.ID))

	return nil
}

// ChangePassword verifies the current password, stores the new one and
// revokes every session. Setting PasswordChangedAt also invalidates all
// outstanding access tokens issued before the change.
func (a *Auth) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	const op = "auth.ChangePassword"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	if err := a.setPassword(ctx, &user, newPassword); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed", slog.String("uid", user.ID))

	return nil
}

func (a *Auth) Profile(ctx context.Context, userID string) (models.User, error) {
	return a.usrProvider.UserByID(ctx, userID)
}

func (a *Auth) UpdateProfile(ctx context.Context, userID, name, email, avatar string) (models.User, error) {
	const op = "auth.UpdateProfile"

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	if name != "" {
		user.Name = name
	}
	if email != "" {
		user.Email = email
	}
	if avatar != "" {
		user.Avatar = avatar
	}

	if err := a.usrSaver.UpdateUser(ctx, user); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// DeleteAccount soft-deletes the user. The record is never removed.
func (a *Auth) DeleteAccount(ctx context.Context, userID string) error {
	const op = "auth.DeleteAccount"

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	user.IsDeleted = true
	user.DeletedAt = &now

	if err := a.usrSaver.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.tokens.ClearRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("account deleted", slog.String("op", op), slog.String("uid", userID))

	return nil
}

func (a *Auth) setPassword(ctx context.Context, user *models.User, newPassword string) error {
	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}

	now := time.Now()
	user.PassHash = passHash
	user.PasswordChangedAt = &now
	user.PasswordResetToken = ""
	user.PasswordResetExpires = nil

	if err := a.usrSaver.UpdateUser(ctx, *user); err != nil {
		return err
	}

	return a.tokens.ClearRefreshTokens(ctx, user.ID)
}

func (a *Auth) issueTokens(ctx context.Context, userID string) (string, string, error) {
	accessToken, err := a.tm.SignAccess(userID)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := a.tm.SignRefresh(userID)
	if err != nil {
		return "", "", err
	}

	if err := a.tokens.AddRefreshToken(ctx, userID, refreshToken); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}
