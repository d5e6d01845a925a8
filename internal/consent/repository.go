package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Repository provides PostgreSQL backed persistence for consent records.
// There is no delete and the only update stamps a revocation timestamp on a
// not-yet-revoked row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, subject_id, category, granted, consent_text, signature, capture_ip, granted_at, revoked_at, revocation_reason`

// InsertTx appends a new consent record inside the caller's transaction.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, rec *Record) error {
	_, err := tx.Exec(ctx, `INSERT INTO consent_records
	(id, subject_id, category, granted, consent_text, signature, capture_ip, granted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SubjectID, string(rec.Category), rec.Granted,
		rec.ConsentText, rec.Signature, rec.CaptureIP, rec.GrantedAt)
	if err != nil {
		return fmt.Errorf("consent: insert: %w", err)
	}
	return nil
}

// LatestGrantTx locks and returns the governing granted record for the
// subject and category: the active grant when one exists, otherwise the most
// recently revoked one so callers can distinguish already-revoked from
// never-granted. Returns shared.ErrNotFound when the subject never granted
// this category.
func (r *Repository) LatestGrantTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category Category) (*Record, error) {
	row := tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM consent_records
WHERE subject_id = $1 AND category = $2 AND granted = TRUE
ORDER BY revoked_at IS NULL DESC, granted_at DESC, id DESC LIMIT 1 FOR UPDATE`, subjectID, string(category))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("consent: latest grant: %w", err)
	}
	return rec, nil
}

// RevokeTx stamps the revocation timestamp. The WHERE clause refuses rows that
// are already revoked, so a stamped timestamp can never change afterwards.
func (r *Repository) RevokeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time, reason string) error {
	tag, err := tx.Exec(ctx, `UPDATE consent_records
SET revoked_at = $2, revocation_reason = $3
WHERE id = $1 AND revoked_at IS NULL`, id, at, reason)
	if err != nil {
		return fmt.Errorf("consent: revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyRevoked
	}
	return nil
}

// SupersedeActiveTx revokes every still-active grant for the subject and
// category so at most one active record exists per category at a time. Called
// before each new record is inserted; returns the ids of superseded records.
func (r *Repository) SupersedeActiveTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category Category, at time.Time) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `UPDATE consent_records
SET revoked_at = $3, revocation_reason = 'superseded'
WHERE subject_id = $1 AND category = $2 AND granted = TRUE AND revoked_at IS NULL
RETURNING id`, subjectID, string(category), at)
	if err != nil {
		return nil, fmt.Errorf("consent: supersede: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("consent: supersede scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("consent: supersede rows: %w", err)
	}
	return ids, nil
}

// Active reports whether the subject currently holds an active grant. The
// check follows the latest record for the category, so a denial or superseded
// grant reads inactive even when older granted rows linger in the history.
func (r *Repository) Active(ctx context.Context, subjectID uuid.UUID, category Category) (bool, error) {
	return active(ctx, r.pool, subjectID, category, "")
}

// ActiveTx is the transactional variant used for commit-time re-checks. It
// share-locks the governing record so a revocation committing concurrently
// conflicts with the caller's transaction instead of slipping past unseen.
func (r *Repository) ActiveTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category Category) (bool, error) {
	return active(ctx, tx, subjectID, category, " FOR SHARE")
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func active(ctx context.Context, q queryRower, subjectID uuid.UUID, category Category, lock string) (bool, error) {
	var activeNow bool
	err := q.QueryRow(ctx, `SELECT granted AND revoked_at IS NULL FROM consent_records
WHERE subject_id = $1 AND category = $2
ORDER BY granted_at DESC, id DESC LIMIT 1`+lock, subjectID, string(category)).Scan(&activeNow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consent: active check: %w", err)
	}
	return activeNow, nil
}

// History returns the subject's full consent history, newest first. An empty
// category returns all categories.
func (r *Repository) History(ctx context.Context, subjectID uuid.UUID, category Category) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM consent_records WHERE subject_id = $1`
	args := []any{subjectID}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, string(category))
	}
	query += ` ORDER BY granted_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("consent: history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("consent: history scan: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("consent: history rows: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec      Record
		category string
	)
	err := row.Scan(&rec.ID, &rec.SubjectID, &category, &rec.Granted,
		&rec.ConsentText, &rec.Signature, &rec.CaptureIP,
		&rec.GrantedAt, &rec.RevokedAt, &rec.RevocationReason)
	if err != nil {
		return nil, err
	}
	rec.Category = Category(category)
	return &rec, nil
}
