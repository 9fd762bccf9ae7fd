package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formbuilder/internal/config"
	"formbuilder/internal/models"
	"formbuilder/internal/storage"
	"formbuilder/internal/storage/postgres/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	if err := runMigrations(ctx, dsn); err != nil {
		return nil, fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// runMigrations applies the embedded goose migrations over a temporary
// database/sql handle; the pgx pool used for queries is opened afterwards.
func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

func (r *PostgresRepo) SaveUser(ctx context.Context, u models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (id, name, email, avatar, password_hash)
		VALUES ($1, $2, $3, $4, $5);
	`

	_, err := r.pool.Exec(ctx, query, u.ID, u.Name, u.Email, nullable(u.Avatar), string(u.PassHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return storage.ErrUserExists
		}

		return fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return nil
}

const userColumns = `
	id, name, email, COALESCE(avatar, ''), password_hash,
	password_changed_at, COALESCE(password_reset_token, ''), password_reset_expires,
	is_deleted, deleted_at, created_at, updated_at
`

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1;`

	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PostgresRepo) UserByID(ctx context.Context, id string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1;`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepo) UserByResetToken(ctx context.Context, tokenHash string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE password_reset_token = $1;`

	return r.scanUser(r.pool.QueryRow(ctx, query, tokenHash))
}

func (r *PostgresRepo) UpdateUser(ctx context.Context, u models.User) error {
	const op = "storage.postgres.UpdateUser"

	query := `
		UPDATE users
		SET name = $2,
			email = $3,
			avatar = $4,
			password_hash = $5,
			password_changed_at = $6,
			password_reset_token = $7,
			password_reset_expires = $8,
			is_deleted = $9,
			deleted_at = $10,
			updated_at = NOW()
		WHERE id = $1;
	`

	tag, err := r.pool.Exec(ctx, query,
		u.ID,
		u.Name,
		u.Email,
		nullable(u.Avatar),
		string(u.PassHash),
		u.PasswordChangedAt,
		nullable(u.PasswordResetToken),
		u.PasswordResetExpires,
		u.IsDeleted,
		u.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) UserIDByRefreshToken(ctx context.Context, tokenStr string) (string, error) {
	query := `SELECT user_id FROM refresh_tokens WHERE token = $1;`

	var userID string

	err := r.pool.QueryRow(ctx, query, tokenStr).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrRefreshTokenNotFound
		}

		return "", err
	}

	return userID, nil
}

func (r *PostgresRepo) AddRefreshToken(ctx context.Context, userID, tokenStr string) error {
	const op = "storage.postgres.AddRefreshToken"

	query := `INSERT INTO refresh_tokens (token, user_id) VALUES ($1, $2);`

	if _, err := r.pool.Exec(ctx, query, tokenStr, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) RemoveRefreshToken(ctx context.Context, userID, tokenStr string) error {
	const op = "storage.postgres.RemoveRefreshToken"

	query := `DELETE FROM refresh_tokens WHERE user_id = $1 AND token = $2;`

	// A zero-row delete is fine: the token may have been consumed already.
	if _, err := r.pool.Exec(ctx, query, userID, tokenStr); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RotateRefreshToken consumes oldToken and stores newToken in a single
// transaction, so two racing refresh calls can never both succeed.
func (r *PostgresRepo) RotateRefreshToken(ctx context.Context, userID, oldToken, newToken string) error {
	const op = "storage.postgres.RotateRefreshToken"

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token = $2;`,
		userID, oldToken,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrRefreshTokenNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO refresh_tokens (token, user_id) VALUES ($1, $2);`,
		newToken, userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) ClearRefreshTokens(ctx context.Context, userID string) error {
	const op = "storage.postgres.ClearRefreshTokens"

	query := `DELETE FROM refresh_tokens WHERE user_id = $1;`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) scanUser(row pgx.Row) (models.User, error) {
	var (
		u        models.User
		avatar   string
		resetTok string
		passHash string
	)

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&avatar,
		&passHash,
		&u.PasswordChangedAt,
		&resetTok,
		&u.PasswordResetExpires,
		&u.IsDeleted,
		&u.DeletedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	u.Avatar = avatar
	u.PasswordResetToken = resetTok
	u.PassHash = []byte(passHash)

	return u, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
