package logout

import (
	"log/slog"
	"net/http"

	"formbuilder/internal/auth"
	"formbuilder/internal/http_server/cookies"
	sl "formbuilder/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
)

// New always answers 204: logging out an absent or unknown session is a
// no-op success.
func New(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		presented := cookies.Read(r)

		if err := authService.Logout(r.Context(), presented); err != nil {
			// Storage trouble is logged but not surfaced: the client's
			// session cookie is gone either way.
			log.Error("failed to logout user", sl.Err(err))
		}

		cookies.Clear(w)

		w.WriteHeader(http.StatusNoContent)
	}
}
