package login

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"formbuilder/internal/auth"
	"formbuilder/internal/http_server/cookies"
	resp "formbuilder/internal/lib/api/response"
	sl "formbuilder/internal/lib/logger"
	"formbuilder/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	AccessToken string `json:"accessToken"`
	Data        Data   `json:"data"`
}

type Data struct {
	User models.PublicUser `json:"user"`
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	cookieTTL time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Please provide email and password!"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		presented := cookies.Read(r)

		accessToken, refreshToken, user, err := authService.Login(r.Context(), req.Email, req.Password, presented)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Incorrect email or password!"))

				return
			}

			log.Error("failed to login user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("user logged in", slog.String("uid", user.ID))

		cookies.Set(w, refreshToken, cookieTTL)

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			AccessToken: accessToken,
			Data:        Data{User: user.Public()},
		})
	}
}
