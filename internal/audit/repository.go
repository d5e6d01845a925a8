package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Repository persists audit entries in PostgreSQL. The surface is
// insert-and-read only: no update or delete exists, so illegal mutation is
// inexpressible at the type level.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEntry = `INSERT INTO audit_log
	(id, actor_id, actor_kind, subject_id, action, target_kind, target_id, outcome, ip, user_agent, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING seq`

// Insert appends one entry using the pool.
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	return r.insert(ctx, r.pool, e)
}

// InsertTx appends one entry inside the caller's transaction so the entry
// commits atomically with the mutation it describes.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, e *Entry) error {
	return r.insert(ctx, tx, e)
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) insert(ctx context.Context, q execQuerier, e *Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("audit: marshal detail: %w", err)
	}
	var subjectID any
	if e.SubjectID != uuid.Nil {
		subjectID = e.SubjectID
	}
	err = q.QueryRow(ctx, insertEntry,
		e.ID, e.ActorID, string(e.ActorKind), subjectID, e.Action,
		e.TargetKind, e.TargetID, string(e.Outcome), e.IP, e.UserAgent,
		detail, e.OccurredAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("audit: %w: %w", shared.ErrStorageUnavailable, err)
	}
	return nil
}

// Query returns entries ordered by occurred_at ascending, seq ascending.
func (r *Repository) Query(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	idx := 1
	if f.SubjectID != uuid.Nil {
		where += fmt.Sprintf(" AND subject_id = $%d", idx)
		args = append(args, f.SubjectID)
		idx++
	}
	if f.ActorID != 0 {
		where += fmt.Sprintf(" AND actor_id = $%d", idx)
		args = append(args, f.ActorID)
		idx++
	}
	if f.Action != "" {
		where += fmt.Sprintf(" AND action = $%d", idx)
		args = append(args, f.Action)
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(" AND occurred_at >= $%d", idx)
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(" AND occurred_at <= $%d", idx)
		args = append(args, f.To)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, seq, actor_id, actor_kind, subject_id, action, target_kind, target_id, outcome, ip, user_agent, detail, occurred_at
FROM audit_log %s ORDER BY occurred_at ASC, seq ASC LIMIT $%d OFFSET $%d`, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			actorKind string
			outcome   string
			subjectID *uuid.UUID
			detail    []byte
			occurred  time.Time
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.ActorID, &actorKind, &subjectID, &e.Action, &e.TargetKind, &e.TargetID, &outcome, &e.IP, &e.UserAgent, &detail, &occurred); err != nil {
			return nil, 0, fmt.Errorf("audit: scan: %w", err)
		}
		e.ActorKind = shared.ActorKind(actorKind)
		e.Outcome = Outcome(outcome)
		if subjectID != nil {
			e.SubjectID = *subjectID
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, 0, fmt.Errorf("audit: decode detail for entry %s: %w", e.ID, err)
			}
		}
		e.OccurredAt = occurred
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("audit: rows: %w", err)
	}
	return entries, total, nil
}
