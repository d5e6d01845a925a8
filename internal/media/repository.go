package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Repository provides PostgreSQL backed persistence for media assets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const assetColumns = `id, subject_id, kind, mime_type, byte_size, testimonial,
	verified_by, verified_at, submitted_by, submitted_at, approved_by, approved_at,
	approval_revoked_at, created_at, updated_at`

// InsertTx creates the asset row inside the caller's transaction.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, a *Asset) error {
	_, err := tx.Exec(ctx, `INSERT INTO media_assets
	(id, subject_id, kind, mime_type, byte_size, testimonial, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		a.ID, a.SubjectID, string(a.Kind), a.MimeType, a.ByteSize, a.Testimonial, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("media: insert asset: %w", err)
	}
	return nil
}

// AttachVariantTx adds one variant. Variants are immutable: the unique
// constraint on (asset_id, name) turns a second attach into ErrConflict and
// the first locator is never touched.
func (r *Repository) AttachVariantTx(ctx context.Context, tx pgx.Tx, assetID uuid.UUID, name, locator string) error {
	_, err := tx.Exec(ctx, `INSERT INTO media_variants (asset_id, name, locator, created_at)
VALUES ($1, $2, $3, $4)`, assetID, name, locator, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: variant %q already attached", shared.ErrConflict, name)
		}
		return fmt.Errorf("media: attach variant: %w", err)
	}
	return nil
}

// Get loads an asset and its variants.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = $1`, id)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("media: get asset: %w", err)
	}
	if err := r.loadVariants(ctx, r.pool, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetTx loads and locks an asset for a state transition.
func (r *Repository) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Asset, error) {
	row := tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("media: get asset: %w", err)
	}
	if err := r.loadVariants(ctx, tx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SubmitTx marks the asset submitted for review and clears any previous
// approval cycle.
func (r *Repository) SubmitTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE media_assets SET
	submitted_by = $2, submitted_at = $3,
	approved_by = NULL, approved_at = NULL, approval_revoked_at = NULL,
	updated_at = $3
WHERE id = $1`, id, actorID, at)
	if err != nil {
		return fmt.Errorf("media: submit: %w", err)
	}
	return nil
}

// ApproveTx records staff approval.
func (r *Repository) ApproveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE media_assets SET approved_by = $2, approved_at = $3, updated_at = $3
WHERE id = $1`, id, actorID, at)
	if err != nil {
		return fmt.Errorf("media: approve: %w", err)
	}
	return nil
}

// UnpublishTx withdraws approval from one asset.
func (r *Repository) UnpublishTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE media_assets SET approval_revoked_at = $2, updated_at = $2
WHERE id = $1 AND approved_at IS NOT NULL AND approval_revoked_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("media: unpublish: %w", err)
	}
	return nil
}

// VerifyTx records staff verification of the underlying document.
func (r *Repository) VerifyTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE media_assets SET verified_by = $2, verified_at = $3, updated_at = $3
WHERE id = $1`, id, actorID, at)
	if err != nil {
		return fmt.Errorf("media: verify: %w", err)
	}
	return nil
}

// RevokeApprovalsTx withdraws approval from every published asset of the
// subject whose visibility depends on the revoked category. Runs inside the
// revocation transaction. face_visible narrows variant eligibility only and
// never unpublishes.
func (r *Repository) RevokeApprovalsTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category string) ([]uuid.UUID, error) {
	query := `UPDATE media_assets SET approval_revoked_at = $2, updated_at = $2
WHERE subject_id = $1 AND approved_at IS NOT NULL AND approval_revoked_at IS NULL`
	switch category {
	case "media_use":
		// every published asset
	case "testimonial_published":
		query += ` AND testimonial = TRUE`
	default:
		return nil, nil
	}
	query += ` RETURNING id`

	rows, err := tx.Query(ctx, query, subjectID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("media: revoke approvals: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("media: revoke approvals scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("media: revoke approvals rows: %w", err)
	}
	return ids, nil
}

// ListBySubject returns all of a subject's assets, newest first.
func (r *Repository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]Asset, error) {
	return r.list(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE subject_id = $1 ORDER BY created_at DESC`, subjectID)
}

// ApprovedBySubject returns the subject's assets holding an unrevoked
// approval, the candidates for public serving.
func (r *Repository) ApprovedBySubject(ctx context.Context, subjectID uuid.UUID) ([]Asset, error) {
	return r.list(ctx, `SELECT `+assetColumns+` FROM media_assets
WHERE subject_id = $1 AND approved_at IS NOT NULL AND approval_revoked_at IS NULL
ORDER BY created_at DESC`, subjectID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Asset, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("media: list: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("media: list scan: %w", err)
		}
		assets = append(assets, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("media: list rows: %w", err)
	}
	for i := range assets {
		if err := r.loadVariants(ctx, r.pool, &assets[i]); err != nil {
			return nil, err
		}
	}
	return assets, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) loadVariants(ctx context.Context, q querier, a *Asset) error {
	rows, err := q.Query(ctx, `SELECT name, locator FROM media_variants WHERE asset_id = $1 ORDER BY created_at ASC`, a.ID)
	if err != nil {
		return fmt.Errorf("media: load variants: %w", err)
	}
	defer rows.Close()

	a.Variants = make(map[string]string)
	for rows.Next() {
		var name, locator string
		if err := rows.Scan(&name, &locator); err != nil {
			return fmt.Errorf("media: variant scan: %w", err)
		}
		a.Variants[name] = locator
	}
	return rows.Err()
}

func scanAsset(row pgx.Row) (*Asset, error) {
	var (
		a    Asset
		kind string
	)
	err := row.Scan(&a.ID, &a.SubjectID, &kind, &a.MimeType, &a.ByteSize, &a.Testimonial,
		&a.VerifiedBy, &a.VerifiedAt, &a.SubmittedBy, &a.SubmittedAt,
		&a.ApprovedBy, &a.ApprovedAt, &a.ApprovalRevokedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = Kind(kind)
	return &a, nil
}
