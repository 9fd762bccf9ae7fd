// Package authjwt guards routes with a Bearer access token. Beyond the
// signature and expiry check, the token is rejected when its user no
// longer exists, was soft-deleted, or changed their password after the
// token was issued.
package authjwt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	resp "formbuilder/internal/lib/api/response"
	sl "formbuilder/internal/lib/logger"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"
	"formbuilder/internal/token"

	"github.com/go-chi/render"
)

type ctxKey struct{}

// UserID returns the authenticated user id injected by the middleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

type UserProvider interface {
	UserByID(ctx context.Context, id string) (models.User, error)
}

func New(log *slog.Logger, tm *token.Manager, users UserProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authjwt"

			log := log.With(slog.String("op", op))

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("You are not logged in! Please log in to get access."))

				return
			}

			claims, err := tm.VerifyAccess(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				log.Warn("invalid access token", sl.Err(err))

				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("Invalid token!"))

				return
			}

			user, err := users.UserByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, storage.ErrUserNotFound) {
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, resp.Error("The user belonging to this token no longer exists."))

					return
				}

				log.Error("failed to load user", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))

				return
			}

			if user.IsDeleted {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("The user belonging to this token no longer exists."))

				return
			}

			if user.PasswordChangedAt != nil && user.PasswordChangedAt.After(claims.IssuedAt) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("User recently changed password! Please log in again."))

				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		}

		return http.HandlerFunc(fn)
	}
}
