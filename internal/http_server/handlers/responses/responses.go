// Package responses serves submission endpoints: respondents post answers
// to a form, owners read them back and export them as CSV.
package responses

import (
	"errors"
	"log/slog"
	"net/http"

	"formbuilder/internal/forms"
	resp "formbuilder/internal/lib/api/response"
	sl "formbuilder/internal/lib/logger"
	"formbuilder/internal/middleware/authjwt"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type SubmitRequest struct {
	Response []models.Answer `json:"response"`
}

type SubmitResponse struct {
	resp.Response
	Data SubmitData `json:"data"`
}

type SubmitData struct {
	Response models.FormResponse `json:"response"`
}

type ListResponse struct {
	resp.Response
	Data ListData `json:"data"`
}

type ListData struct {
	Responses []models.FormResponse `json:"responses"`
}

func NewList(log *slog.Logger, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.responses.NewList"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, _ := authjwt.UserID(r.Context())

		found, err := service.Responses(r.Context(), userID, chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		if found == nil {
			found = []models.FormResponse{}
		}

		render.JSON(w, r, ListResponse{
			Response: resp.OK(),
			Data:     ListData{Responses: found},
		})
	}
}

func NewSubmit(log *slog.Logger, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.responses.NewSubmit"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req SubmitRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Please provide response of the form!"))

			return
		}

		if len(req.Response) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Please provide response of the form!"))

			return
		}

		saved, err := service.Submit(r.Context(), chi.URLParam(r, "id"), req.Response)
		if err != nil {
			if errors.Is(err, forms.ErrFormClosed) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("The form is no longer accepting submissions"))

				return
			}

			respondError(w, r, log, err)

			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, SubmitResponse{
			Response: resp.OK(),
			Data:     SubmitData{Response: saved},
		})
	}
}

// NewExportCSV streams every response of the form as a CSV attachment.
func NewExportCSV(log *slog.Logger, service *forms.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.responses.NewExportCSV"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, _ := authjwt.UserID(r.Context())

		data, err := service.ExportCSV(r.Context(), userID, chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="submissions.csv"`)
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write(data); err != nil {
			log.Error("failed to write csv response", sl.Err(err))
		}
	}
}

func respondError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if errors.Is(err, storage.ErrFormNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, resp.Error("No form found with that ID"))

		return
	}

	log.Error("response operation failed", sl.Err(err))

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, resp.Error("Internal error"))
}
