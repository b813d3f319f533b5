package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"keymanager/internal/config"
	"keymanager/internal/models"
	"keymanager/internal/storage"
	"keymanager/internal/storage/postgres/migrations"
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

func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

// EnsureAdmin seeds the default account on a fresh database. Existing
// rows are left untouched.
func (r *PostgresRepo) EnsureAdmin(ctx context.Context, username, email, fullName string, passHash []byte) error {
	const op = "storage.postgres.EnsureAdmin"

	query := `
		INSERT INTO users (username, email, full_name, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING;
	`

	_, err := r.pool.Exec(ctx, query, username, email, fullName, string(passHash))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// --- Categories ---

func (r *PostgresRepo) SaveCategory(ctx context.Context, name string, icon *string) (models.Category, error) {
	const op = "storage.postgres.SaveCategory"

	query := `
		INSERT INTO categories (name, icon)
		VALUES ($1, $2)
		RETURNING id;
	`

	cat := models.Category{Name: name, Icon: icon}

	err := r.pool.QueryRow(ctx, query, name, icon).Scan(&cat.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Category{}, storage.ErrCategoryExists
		}

		return models.Category{}, fmt.Errorf("%s: %w", op, err)
	}

	return cat, nil
}

func (r *PostgresRepo) Categories(ctx context.Context) ([]models.Category, error) {
	const op = "storage.postgres.Categories"

	query := `SELECT id, name, icon FROM categories ORDER BY name;`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	cats := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		cats = append(cats, c)
	}

	return cats, rows.Err()
}

func (r *PostgresRepo) UpdateCategory(ctx context.Context, id int64, name string, icon *string) (models.Category, error) {
	const op = "storage.postgres.UpdateCategory"

	query := `
		UPDATE categories
		SET name = $2, icon = COALESCE($3, icon)
		WHERE id = $1
		RETURNING id, name, icon;
	`

	var c models.Category
	err := r.pool.QueryRow(ctx, query, id, name, icon).Scan(&c.ID, &c.Name, &c.Icon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Category{}, storage.ErrCategoryNotFound
		}
		if isUniqueViolation(err) {
			return models.Category{}, storage.ErrCategoryExists
		}

		return models.Category{}, fmt.Errorf("%s: %w", op, err)
	}

	return c, nil
}

// DeleteCategory removes the category; the licenses referencing it go
// with it via the FK cascade.
func (r *PostgresRepo) DeleteCategory(ctx context.Context, id int64) error {
	const op = "storage.postgres.DeleteCategory"

	tag, err := r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrCategoryNotFound
	}

	return nil
}

// --- Licenses ---

const licenseColumns = `id, category_id, product_name, edition, vendor, version,
	license_key, iso_url, last_used_at, created_at, updated_at`

func (r *PostgresRepo) SaveLicense(ctx context.Context, lic models.License) (models.License, error) {
	const op = "storage.postgres.SaveLicense"

	query := `
		INSERT INTO licenses (category_id, product_name, edition, vendor, version, license_key, iso_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + licenseColumns + `;
	`

	row := r.pool.QueryRow(ctx, query,
		lic.CategoryID, lic.ProductName, lic.Edition, lic.Vendor, lic.Version, lic.LicenseKey, lic.ISOURL)

	saved, err := scanLicense(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.License{}, storage.ErrLicenseKeyExists
		}
		if isForeignKeyViolation(err) {
			return models.License{}, storage.ErrCategoryNotFound
		}

		return models.License{}, fmt.Errorf("%s: %w", op, err)
	}

	return saved, nil
}

func (r *PostgresRepo) Licenses(ctx context.Context) ([]models.License, error) {
	const op = "storage.postgres.Licenses"

	query := `SELECT ` + licenseColumns + ` FROM licenses ORDER BY id;`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	lics := []models.License{}
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		lics = append(lics, lic)
	}

	return lics, rows.Err()
}

// License loads one license together with its category name for the
// usage notification.
func (r *PostgresRepo) License(ctx context.Context, id int64) (models.License, error) {
	query := `
		SELECT l.id, l.category_id, l.product_name, l.edition, l.vendor, l.version,
			l.license_key, l.iso_url, l.last_used_at, l.created_at, l.updated_at,
			c.name
		FROM licenses l
		JOIN categories c ON c.id = l.category_id
		WHERE l.id = $1;
	`

	var lic models.License
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&lic.ID, &lic.CategoryID, &lic.ProductName, &lic.Edition, &lic.Vendor, &lic.Version,
		&lic.LicenseKey, &lic.ISOURL, &lic.LastUsedAt, &lic.CreatedAt, &lic.UpdatedAt,
		&lic.CategoryName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.License{}, storage.ErrLicenseNotFound
		}

		return models.License{}, err
	}

	return lic, nil
}

func (r *PostgresRepo) UpdateLicense(ctx context.Context, id int64, patch models.LicensePatch) (models.License, error) {
	const op = "storage.postgres.UpdateLicense"

	query := `
		UPDATE licenses
		SET product_name = COALESCE($2, product_name),
			edition      = COALESCE($3, edition),
			vendor       = COALESCE($4, vendor),
			version      = COALESCE($5, version),
			license_key  = COALESCE($6, license_key),
			iso_url      = COALESCE($7, iso_url),
			updated_at   = now()
		WHERE id = $1
		RETURNING ` + licenseColumns + `;
	`

	row := r.pool.QueryRow(ctx, query, id,
		patch.ProductName, patch.Edition, patch.Vendor, patch.Version, patch.LicenseKey, patch.ISOURL)

	lic, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.License{}, storage.ErrLicenseNotFound
		}
		if isUniqueViolation(err) {
			return models.License{}, storage.ErrLicenseKeyExists
		}

		return models.License{}, fmt.Errorf("%s: %w", op, err)
	}

	return lic, nil
}

func (r *PostgresRepo) DeleteLicense(ctx context.Context, id int64) error {
	const op = "storage.postgres.DeleteLicense"

	tag, err := r.pool.Exec(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrLicenseNotFound
	}

	return nil
}

// SetLastUsed commits the usage timestamp in its own statement, before
// any notification attempt begins.
func (r *PostgresRepo) SetLastUsed(ctx context.Context, id int64, usedAt time.Time) error {
	const op = "storage.postgres.SetLastUsed"

	query := `UPDATE licenses SET last_used_at = $2, updated_at = $2 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, usedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrLicenseNotFound
	}

	return nil
}

func scanLicense(row pgx.Row) (models.License, error) {
	var lic models.License
	err := row.Scan(
		&lic.ID, &lic.CategoryID, &lic.ProductName, &lic.Edition, &lic.Vendor, &lic.Version,
		&lic.LicenseKey, &lic.ISOURL, &lic.LastUsedAt, &lic.CreatedAt, &lic.UpdatedAt,
	)
	return lic, err
}

// --- Users ---

const userColumns = `id, username, email, full_name, password_hash, is_active,
	created_at, updated_at,
	smtp_host, smtp_port, smtp_username, smtp_password, smtp_from, smtp_use_tls`

func (r *PostgresRepo) UserByIdentifier(ctx context.Context, identifier string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 OR email = $1;`

	return r.queryUser(ctx, query, identifier)
}

func (r *PostgresRepo) UserByUsername(ctx context.Context, username string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1;`

	return r.queryUser(ctx, query, username)
}

func (r *PostgresRepo) queryUser(ctx context.Context, query string, arg any) (models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	return u, nil
}

func (r *PostgresRepo) UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (models.User, error) {
	const op = "storage.postgres.UpdateUser"

	query := `
		UPDATE users
		SET username   = COALESCE($2, username),
			email      = COALESCE($3, email),
			full_name  = COALESCE($4, full_name),
			is_active  = COALESCE($5, is_active),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns + `;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id,
		patch.Username, patch.Email, patch.FullName, patch.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrUserExists
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UpdatePassword(ctx context.Context, id int64, passHash []byte) error {
	const op = "storage.postgres.UpdatePassword"

	query := `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, string(passHash))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) UpdateSMTP(ctx context.Context, id int64, patch models.SMTPSettings) (models.User, error) {
	const op = "storage.postgres.UpdateSMTP"

	query := `
		UPDATE users
		SET smtp_host     = COALESCE($2, smtp_host),
			smtp_port     = COALESCE($3, smtp_port),
			smtp_username = COALESCE($4, smtp_username),
			smtp_password = COALESCE($5, smtp_password),
			smtp_from     = COALESCE($6, smtp_from),
			smtp_use_tls  = COALESCE($7, smtp_use_tls),
			updated_at    = now()
		WHERE id = $1
		RETURNING ` + userColumns + `;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id,
		patch.Host, patch.Port, patch.Username, patch.Password, patch.From, patch.UseTLS))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// ResetSMTP clears the personal override so the system defaults apply
// again.
func (r *PostgresRepo) ResetSMTP(ctx context.Context, id int64) error {
	const op = "storage.postgres.ResetSMTP"

	query := `
		UPDATE users
		SET smtp_host = NULL, smtp_port = NULL, smtp_username = NULL,
			smtp_password = NULL, smtp_from = NULL, smtp_use_tls = TRUE,
			updated_at = now()
		WHERE id = $1;
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FullName, &u.PassHash, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt,
		&u.SMTP.Host, &u.SMTP.Port, &u.SMTP.Username, &u.SMTP.Password, &u.SMTP.From, &u.SMTP.UseTLS,
	)
	return u, err
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// dsn builds the connection string.
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
