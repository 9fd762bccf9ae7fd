// Package forms serves the form CRUD endpoints. Fetching a single form is
// public so respondents can load it; everything else requires the owner.
package forms

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"formbuilder/internal/forms"
	resp "formbuilder/internal/lib/api/response"
	sl "formbuilder/internal/lib/logger"
	"formbuilder/internal/middleware/authjwt"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type CreateRequest struct {
	Name     string         `json:"name" validate:"required"`
	Elements []models.Field `json:"elements" validate:"required,min=1"`
}

type UpdateRequest struct {
	Name     *string        `json:"name"`
	Elements []models.Field `json:"elements"`
	IsActive *bool          `json:"isActive"`
}

type BulkDeleteRequest struct {
	Forms []string `json:"forms" validate:"required,min=1"`
}

type FormResponse struct {
	resp.Response
	Data FormData `json:"data"`
}

type FormData struct {
	Form models.Form `json:"form"`
}

type ListResponse struct {
	resp.Response
	Data ListData `json:"data"`
}

type ListData struct {
	Forms []models.Form `json:"forms"`
	Total int           `json:"total"`
}

func NewList(log *slog.Logger, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forms.NewList"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, _ := authjwt.UserID(r.Context())

		params := forms.ListParams{
			Search: r.URL.Query().Get("search"),
			Sort:   r.URL.Query().Get("sort"),
		}
		params.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
		params.PageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))

		found, total, err := service.List(r.Context(), userID, params)
		if err != nil {
			if errors.Is(err, forms.ErrPageOutOfRange) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("This page does not exist"))

				return
			}

			log.Error("failed to list forms", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		if found == nil {
			found = []models.Form{}
		}

		render.JSON(w, r, ListResponse{
			Response: resp.OK(),
			Data:     ListData{Forms: found, Total: total},
		})
	}
}

func NewCreate(log *slog.Logger, validate *validator.Validate, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forms.NewCreate"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, _ := authjwt.UserID(r.Context())

		var req CreateRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if req.Name == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Please provide the name of the form!"))

			return
		}

		if len(req.Elements) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Please add some elements to the form!"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		form, err := service.Create(r.Context(), userID, req.Name, req.Elements)
		if err != nil {
			log.Error("failed to create form", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, FormResponse{
			Response: resp.OK(),
			Data:     FormData{Form: form},
		})
	}
}

func NewGet(log *slog.Logger, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forms.NewGet"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		form, err := service.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondFormError(w, r, log, err)
			return
		}

		render.JSON(w, r, FormResponse{
			Response: resp.OK(),
			Data:     FormData{Form: form},
		})
	}
}

func NewUpdate(log *slog.Logger, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forms.NewUpdate"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, _ := authjwt.UserID(r.Context())

		var req UpdateRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		form, err := service.Update(r.Context(), userID, chi.URLParam(r, "id"), forms.UpdateParams{
			Name:     req.Name,
			Fields:   req.Elements,
			IsActive: req.IsActive,
		})
		if err != nil {
			respondFormError(w, r, log, err)
			return
		}

		render.JSON(w, r, FormResponse{
			Response: resp.OK(),
			Data:     FormData{Form: form},
		})
	}
}

func NewDelete(log *slog.Logger, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forms.NewDelete"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, _ := authjwt.UserID(r.Context())

		if err := service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
			respondFormError(w, r, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func NewBulkDelete(log *slog.Logger, validate *validator.Validate, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forms.NewBulkDelete"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, _ := authjwt.UserID(r.Context())

		var req BulkDeleteRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Please provide a list of form IDs!"))

			return
		}

		if err := validate.Struct(req); err != nil {
			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Please provide a list of form IDs!"))

			return
		}

		if err := service.BulkDelete(r.Context(), userID, req.Forms); err != nil {
			log.Error("failed to bulk delete forms", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func respondFormError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if errors.Is(err, storage.ErrFormNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, resp.Error("No form found with that ID"))

		return
	}

	log.Error("form operation failed", sl.Err(err))

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, resp.Error("Internal error"))
}
