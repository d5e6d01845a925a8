package subject

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Repository persists subjects in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const subjectColumns = `id, user_id, full_name, email, phone, date_of_birth, country, city, timezone, locale, created_at, updated_at`

// Insert stores a new subject.
func (r *Repository) Insert(ctx context.Context, s *Subject) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subjects (id, user_id, full_name, email, phone, date_of_birth, country, city, timezone, locale, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, s.FullName, s.Email, s.Phone, s.DateOfBirth, s.Country, s.City, s.Timezone, s.Locale, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// Get returns a subject by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Subject, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id)
	return scanSubject(row)
}

// GetByUser returns the subject linked to a portal user account.
func (r *Repository) GetByUser(ctx context.Context, userID int64) (*Subject, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE user_id = $1`, userID)
	return scanSubject(row)
}

// Update applies the non-nil fields.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, u Update) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subjects SET
			full_name = COALESCE($2, full_name),
			phone     = COALESCE($3, phone),
			country   = COALESCE($4, country),
			city      = COALESCE($5, city),
			timezone  = COALESCE($6, timezone),
			locale    = COALESCE($7, locale),
			updated_at = now()
		WHERE id = $1`,
		id, u.FullName, u.Phone, u.Country, u.City, u.Timezone, u.Locale,
	)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: subject %s", shared.ErrNotFound, id)
	}
	return nil
}

// List returns subjects ordered by name, paginated.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Subject, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM subjects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+subjectColumns+` FROM subjects ORDER BY full_name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

func scanSubject(row pgx.Row) (*Subject, error) {
	var s Subject
	err := row.Scan(
		&s.ID, &s.UserID, &s.FullName, &s.Email, &s.Phone, &s.DateOfBirth,
		&s.Country, &s.City, &s.Timezone, &s.Locale, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: subject", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan subject: %w", err)
	}
	return &s, nil
}
