package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ReviewRepo persists Review rows in a CRUD shape (scan-then-parse
// timestamps, optional-filter listing).
type ReviewRepo struct {
	db *sql.DB
}

func NewReviewRepo(db *sql.DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx so repo methods can
// run either standalone (reads) or inside a Store.WithWriteLock
// transaction (writes).
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ReviewRepo) Insert(ctx context.Context, q querier, rv *Review) error {
	if q == nil {
		q = r.db
	}
	_, err := q.ExecContext(ctx, `
INSERT INTO reviews (
	id, status, intent, description, diff, affected_files,
	agent_type, agent_role, phase, plan, task,
	category, priority,
	claimed_by, claimed_at, claim_generation,
	verdict_reason, current_round,
	counter_patch, counter_patch_status,
	parent_id, created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		rv.ID, rv.Status, rv.Intent, rv.Description, rv.Diff, rv.AffectedFiles,
		rv.AgentType, rv.AgentRole, rv.Phase, rv.Plan, rv.Task,
		rv.Category, rv.Priority,
		nullableString(rv.ClaimedBy), nullableTime(rv.ClaimedAt), rv.ClaimGeneration,
		rv.VerdictReason, rv.CurrentRound,
		rv.CounterPatch, nullableString(rv.CounterPatchStatus),
		nullableString(rv.ParentID), formatReviewTimestamp(rv.CreatedAt), formatReviewTimestamp(rv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

const reviewColumns = `
	id, status, intent, description, diff, affected_files,
	agent_type, agent_role, phase, plan, task,
	category, priority,
	claimed_by, claimed_at, claim_generation,
	verdict_reason, current_round,
	counter_patch, counter_patch_status,
	parent_id, created_at, updated_at
`

func scanReview(scan func(dest ...any) error) (*Review, error) {
	var rv Review
	var claimedBy, claimedAt, counterPatchStatus, parentID sql.NullString
	var createdAtRaw, updatedAtRaw string

	err := scan(
		&rv.ID, &rv.Status, &rv.Intent, &rv.Description, &rv.Diff, &rv.AffectedFiles,
		&rv.AgentType, &rv.AgentRole, &rv.Phase, &rv.Plan, &rv.Task,
		&rv.Category, &rv.Priority,
		&claimedBy, &claimedAt, &rv.ClaimGeneration,
		&rv.VerdictReason, &rv.CurrentRound,
		&rv.CounterPatch, &counterPatchStatus,
		&parentID, &createdAtRaw, &updatedAtRaw,
	)
	if err != nil {
		return nil, err
	}

	rv.ClaimedBy = claimedBy.String
	rv.CounterPatchStatus = counterPatchStatus.String
	rv.ParentID = parentID.String

	if claimedAt.Valid {
		t, err := ParseTimestamp(claimedAt.String)
		if err != nil {
			return nil, err
		}
		rv.ClaimedAt = &t
	}
	rv.CreatedAt, err = ParseTimestamp(createdAtRaw)
	if err != nil {
		return nil, err
	}
	rv.UpdatedAt, err = ParseTimestamp(updatedAtRaw)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (r *ReviewRepo) Get(ctx context.Context, q querier, id string) (*Review, error) {
	if q == nil {
		q = r.db
	}
	row := q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	rv, err := scanReview(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return rv, nil
}

// List orders by priority (critical < normal < low) then created_at
// ascending.
func (r *ReviewRepo) List(ctx context.Context, filter ReviewFilter) ([]*Review, error) {
	var clauses []string
	var args []any
	if strings.TrimSpace(filter.Status) != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if strings.TrimSpace(filter.Category) != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT ` + reviewColumns + ` FROM reviews`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += `
ORDER BY
	CASE priority WHEN 'critical' THEN 0 WHEN 'normal' THEN 1 WHEN 'low' THEN 2 ELSE 3 END ASC,
	created_at ASC
`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// ListClaimedStale returns reviews in claimed status whose claimed_at
// (falling back to updated_at, then created_at) is older than
// cutoffUnixSeconds, used by the pool manager's claim-timeout sweep.
func (r *ReviewRepo) ListClaimedStale(ctx context.Context, cutoffUnixSeconds int64) ([]*Review, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+reviewColumns+` FROM reviews
WHERE status = 'claimed'
  AND CAST(strftime('%s', COALESCE(claimed_at, updated_at, created_at)) AS INTEGER) < ?
`, cutoffUnixSeconds)
	if err != nil {
		return nil, fmt.Errorf("list stale claims: %w", err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// ListClaimed returns every review currently claimed, for the startup
// ownership sweep to check against the live reviewer set.
func (r *ReviewRepo) ListClaimed(ctx context.Context) ([]*Review, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE status = 'claimed'`)
	if err != nil {
		return nil, fmt.Errorf("list claimed reviews: %w", err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		rv, err := scanReview(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// Update persists the full row after a state transition. Callers pass
// the already-updated *Review; Update bumps UpdatedAt.
func (r *ReviewRepo) Update(ctx context.Context, q querier, rv *Review) error {
	if q == nil {
		q = r.db
	}
	rv.UpdatedAt = nowUTC()
	_, err := q.ExecContext(ctx, `
UPDATE reviews SET
	status = ?, intent = ?, description = ?, diff = ?, affected_files = ?,
	agent_type = ?, agent_role = ?, phase = ?, plan = ?, task = ?,
	category = ?, priority = ?,
	claimed_by = ?, claimed_at = ?, claim_generation = ?,
	verdict_reason = ?, current_round = ?,
	counter_patch = ?, counter_patch_status = ?,
	parent_id = ?, updated_at = ?
WHERE id = ?
`,
		rv.Status, rv.Intent, rv.Description, rv.Diff, rv.AffectedFiles,
		rv.AgentType, rv.AgentRole, rv.Phase, rv.Plan, rv.Task,
		rv.Category, rv.Priority,
		nullableString(rv.ClaimedBy), nullableTime(rv.ClaimedAt), rv.ClaimGeneration,
		rv.VerdictReason, rv.CurrentRound,
		rv.CounterPatch, nullableString(rv.CounterPatchStatus),
		nullableString(rv.ParentID), formatReviewTimestamp(rv.UpdatedAt),
		rv.ID,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatReviewTimestamp(*t)
}
