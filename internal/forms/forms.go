// Package forms implements the form lifecycle: owners create, update and
// delete forms, respondents submit answers while a form is accepting them,
// and owners read the collected responses back.
package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"formbuilder/internal/lib/csvexport"
	sl "formbuilder/internal/lib/logger"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrFormClosed     = errors.New("the form is no longer accepting submissions")
	ErrPageOutOfRange = errors.New("this page does not exist")
	ErrNoFields       = errors.New("form has no fields")
	ErrNoAnswers      = errors.New("response has no answers")
)

// Sort columns accepted by List. Anything else falls back to created_at.
var sortColumns = map[string]bool{
	"name":       true,
	"created_at": true,
	"updated_at": true,
}

type ListParams struct {
	Page     int
	PageSize int
	Search   string
	Sort     string
}

type FormStore interface {
	SaveForm(ctx context.Context, form models.Form) error
	FormByID(ctx context.Context, id string) (models.Form, error)
	Forms(ctx context.Context, userID string, params ListParams) ([]models.Form, int, error)
	UpdateForm(ctx context.Context, form models.Form) error
	DeleteForm(ctx context.Context, id string) error
	DeleteForms(ctx context.Context, userID string, ids []string) error
}

type ResponseStore interface {
	SaveResponse(ctx context.Context, response models.FormResponse) error
	ResponsesByForm(ctx context.Context, formID string) ([]models.FormResponse, error)
}

type Service struct {
	log       *slog.Logger
	forms     FormStore
	responses ResponseStore
}

func New(log *slog.Logger, formStore FormStore, responseStore ResponseStore) *Service {
	return &Service{
		log:       log,
		forms:     formStore,
		responses: responseStore,
	}
}

// List returns the owner's forms one page at a time. Requesting a page
// past the end fails with ErrPageOutOfRange, except page zero which is
// always valid so an empty account still lists cleanly.
func (s *Service) List(ctx context.Context, userID string, params ListParams) ([]models.Form, int, error) {
	const op = "forms.List"

	if params.PageSize <= 0 {
		params.PageSize = 10
	}
	if params.Page < 0 {
		params.Page = 0
	}
	if !sortColumns[params.Sort] {
		params.Sort = "created_at"
	}

	found, total, err := s.forms.Forms(ctx, userID, params)
	if err != nil {
		s.log.Error("failed to list forms", slog.String("op", op), sl.Err(err))
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	if params.Page > 0 && params.Page*params.PageSize >= total {
		return nil, 0, ErrPageOutOfRange
	}

	return found, total, nil
}

func (s *Service) Create(ctx context.Context, userID, name string, fields []models.Field) (models.Form, error) {
	const op = "forms.Create"

	if len(fields) == 0 {
		return models.Form{}, ErrNoFields
	}

	form := models.Form{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Fields:   fields,
		IsActive: true,
	}

	if err := s.forms.SaveForm(ctx, form); err != nil {
		s.log.Error("failed to save form", slog.String("op", op), sl.Err(err))
		return models.Form{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("form created", slog.String("op", op), slog.String("form_id", form.ID))

	return form, nil
}

// Get is unauthenticated: respondents load the form to fill it in.
func (s *Service) Get(ctx context.Context, id string) (models.Form, error) {
	return s.forms.FormByID(ctx, id)
}

// UpdateParams carries a partial update; nil means "leave unchanged".
type UpdateParams struct {
	Name     *string
	Fields   []models.Field
	IsActive *bool
}

func (s *Service) Update(ctx context.Context, userID, id string, params UpdateParams) (models.Form, error) {
	const op = "forms.Update"

	form, err := s.ownedForm(ctx, userID, id)
	if err != nil {
		return models.Form{}, err
	}

	if params.Name != nil {
		form.Name = *params.Name
	}
	if params.Fields != nil {
		form.Fields = params.Fields
	}
	if params.IsActive != nil {
		form.IsActive = *params.IsActive
	}

	if err := s.forms.UpdateForm(ctx, form); err != nil {
		s.log.Error("failed to update form", slog.String("op", op), sl.Err(err))
		return models.Form{}, fmt.Errorf("%s: %w", op, err)
	}

	return form, nil
}

// Delete removes a form and, via the storage layer, every response
// collected for it.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	const op = "forms.Delete"

	if _, err := s.ownedForm(ctx, userID, id); err != nil {
		return err
	}

	if err := s.forms.DeleteForm(ctx, id); err != nil {
		s.log.Error("failed to delete form", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("form deleted", slog.String("op", op), slog.String("form_id", id))

	return nil
}

// BulkDelete removes the given forms, skipping ids the user does not own.
func (s *Service) BulkDelete(ctx context.Context, userID string, ids []string) error {
	const op = "forms.BulkDelete"

	if err := s.forms.DeleteForms(ctx, userID, ids); err != nil {
		s.log.Error("failed to bulk delete forms", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Service) Responses(ctx context.Context, userID, formID string) ([]models.FormResponse, error) {
	const op = "forms.Responses"

	if _, err := s.ownedForm(ctx, userID, formID); err != nil {
		return nil, err
	}

	responses, err := s.responses.ResponsesByForm(ctx, formID)
	if err != nil {
		s.log.Error("failed to list responses", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return responses, nil
}

// Submit records a respondent's answers. Submissions are rejected once the
// owner has switched the form off.
func (s *Service) Submit(ctx context.Context, formID string, answers []models.Answer) (models.FormResponse, error) {
	const op = "forms.Submit"

	if len(answers) == 0 {
		return models.FormResponse{}, ErrNoAnswers
	}

	form, err := s.forms.FormByID(ctx, formID)
	if err != nil {
		return models.FormResponse{}, err
	}

	if !form.IsActive {
		return models.FormResponse{}, ErrFormClosed
	}

	response := models.FormResponse{
		ID:      uuid.NewString(),
		FormID:  form.ID,
		Answers: answers,
	}

	if err := s.responses.SaveResponse(ctx, response); err != nil {
		s.log.Error("failed to save response", slog.String("op", op), sl.Err(err))
		return models.FormResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	return response, nil
}

// ExportCSV renders every response of the form as CSV, one column per
// form field in declaration order.
func (s *Service) ExportCSV(ctx context.Context, userID, formID string) ([]byte, error) {
	const op = "forms.ExportCSV"

	form, err := s.ownedForm(ctx, userID, formID)
	if err != nil {
		return nil, err
	}

	responses, err := s.responses.ResponsesByForm(ctx, formID)
	if err != nil {
		s.log.Error("failed to list responses", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := csvexport.Export(form, responses)
	if err != nil {
		s.log.Error("failed to render csv", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return data, nil
}

// ownedForm loads a form and hides its existence from non-owners.
func (s *Service) ownedForm(ctx context.Context, userID, id string) (models.Form, error) {
	form, err := s.forms.FormByID(ctx, id)
	if err != nil {
		return models.Form{}, err
	}

	if form.UserID != userID {
		return models.Form{}, storage.ErrFormNotFound
	}

	return form, nil
}
