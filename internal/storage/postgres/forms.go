package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"formbuilder/internal/forms"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"

	"github.com/jackc/pgx/v5"
)

func (r *PostgresRepo) SaveForm(ctx context.Context, form models.Form) error {
	const op = "storage.postgres.SaveForm"

	fields, err := json.Marshal(form.Fields)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `
		INSERT INTO forms (id, user_id, name, fields, is_active)
		VALUES ($1, $2, $3, $4, $5);
	`

	if _, err := r.pool.Exec(ctx, query, form.ID, form.UserID, form.Name, fields, form.IsActive); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) FormByID(ctx context.Context, id string) (models.Form, error) {
	query := `
		SELECT id, user_id, name, fields, is_active, created_at, updated_at
		FROM forms
		WHERE id = $1;
	`

	return scanForm(r.pool.QueryRow(ctx, query, id))
}

// Forms lists one page of the user's forms with an optional
// case-insensitive name filter. The sort column arrives pre-validated
// against a whitelist in the forms service; anything else is rejected here
// as well before it reaches the query text.
func (r *PostgresRepo) Forms(ctx context.Context, userID string, params forms.ListParams) ([]models.Form, int, error) {
	const op = "storage.postgres.Forms"

	orderBy, ok := map[string]string{
		"name":       "name",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}[params.Sort]
	if !ok {
		orderBy = "created_at"
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, name, fields, is_active, created_at, updated_at,
			COUNT(*) OVER() AS total
		FROM forms
		WHERE user_id = $1
			AND ($2 = '' OR LOWER(name) LIKE '%%' || LOWER($2) || '%%')
		ORDER BY %s ASC
		LIMIT $3 OFFSET $4;
	`, orderBy)

	rows, err := r.pool.Query(ctx, query, userID, params.Search, params.PageSize, params.Page*params.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var (
		result []models.Form
		total  int
	)

	for rows.Next() {
		var (
			form   models.Form
			fields []byte
		)

		err := rows.Scan(
			&form.ID, &form.UserID, &form.Name, &fields,
			&form.IsActive, &form.CreatedAt, &form.UpdatedAt, &total,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}

		if err := json.Unmarshal(fields, &form.Fields); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}

		result = append(result, form)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, rows.Err())
	}

	// The window total is lost when the page is past the end; count again
	// so the service can distinguish an empty account from a bad page.
	if total == 0 && params.Page > 0 {
		countQuery := `
			SELECT COUNT(*) FROM forms
			WHERE user_id = $1
				AND ($2 = '' OR LOWER(name) LIKE '%' || LOWER($2) || '%');
		`
		if err := r.pool.QueryRow(ctx, countQuery, userID, params.Search).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
	}

	return result, total, nil
}

func (r *PostgresRepo) UpdateForm(ctx context.Context, form models.Form) error {
	const op = "storage.postgres.UpdateForm"

	fields, err := json.Marshal(form.Fields)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `
		UPDATE forms
		SET name = $2, fields = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1;
	`

	tag, err := r.pool.Exec(ctx, query, form.ID, form.Name, fields, form.IsActive)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrFormNotFound
	}

	return nil
}

// DeleteForm removes the form; responses go with it through the cascading
// foreign key.
func (r *PostgresRepo) DeleteForm(ctx context.Context, id string) error {
	const op = "storage.postgres.DeleteForm"

	tag, err := r.pool.Exec(ctx, `DELETE FROM forms WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrFormNotFound
	}

	return nil
}

func (r *PostgresRepo) DeleteForms(ctx context.Context, userID string, ids []string) error {
	const op = "storage.postgres.DeleteForms"

	query := `DELETE FROM forms WHERE user_id = $1 AND id = ANY($2);`

	if _, err := r.pool.Exec(ctx, query, userID, ids); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) SaveResponse(ctx context.Context, response models.FormResponse) error {
	const op = "storage.postgres.SaveResponse"

	answers, err := json.Marshal(response.Answers)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `
		INSERT INTO form_responses (id, form_id, answers)
		VALUES ($1, $2, $3);
	`

	if _, err := r.pool.Exec(ctx, query, response.ID, response.FormID, answers); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) ResponsesByForm(ctx context.Context, formID string) ([]models.FormResponse, error) {
	const op = "storage.postgres.ResponsesByForm"

	query := `
		SELECT id, form_id, answers, created_at
		FROM form_responses
		WHERE form_id = $1
		ORDER BY created_at ASC;
	`

	rows, err := r.pool.Query(ctx, query, formID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []models.FormResponse

	for rows.Next() {
		var (
			response models.FormResponse
			answers  []byte
		)

		if err := rows.Scan(&response.ID, &response.FormID, &answers, &response.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if err := json.Unmarshal(answers, &response.Answers); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		result = append(result, response)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}

	return result, nil
}

func scanForm(row pgx.Row) (models.Form, error) {
	var (
		form   models.Form
		fields []byte
	)

	err := row.Scan(
		&form.ID, &form.UserID, &form.Name, &fields,
		&form.IsActive, &form.CreatedAt, &form.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Form{}, storage.ErrFormNotFound
		}

		return models.Form{}, err
	}

	if err := json.Unmarshal(fields, &form.Fields); err != nil {
		return models.Form{}, err
	}

	return form, nil
}
