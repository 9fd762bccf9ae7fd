package refresh

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"formbuilder/internal/auth"
	"formbuilder/internal/http_server/cookies"
	resp "formbuilder/internal/lib/api/response"
	sl "formbuilder/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	AccessToken string `json:"accessToken"`
}

func New(
	log *slog.Logger,
	authService *auth.Auth,
	cookieTTL time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		presented := cookies.Read(r)
		if presented == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("No refresh token!"))

			return
		}

		accessToken, refreshToken, err := authService.Refresh(r.Context(), presented)
		if err != nil {
			cookies.Clear(w)

			if errors.Is(err, auth.ErrInvalidToken) {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("Invalid refresh token!"))

				return
			}

			log.Error("failed to refresh tokens", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("tokens refreshed")

		cookies.Set(w, refreshToken, cookieTTL)

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			AccessToken: accessToken,
		})
	}
}
