package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ReviewerRepo persists broker-managed subprocess rows.
type ReviewerRepo struct {
	db *sql.DB
}

func NewReviewerRepo(db *sql.DB) *ReviewerRepo {
	return &ReviewerRepo{db: db}
}

const reviewerColumns = `
	id, display_name, session_token, status, pid, spawned_at,
	last_active_at, terminated_at, exit_code,
	reviews_completed, total_review_seconds, approvals, rejections
`

func (r *ReviewerRepo) Insert(ctx context.Context, q querier, rv *Reviewer) error {
	if q == nil {
		q = r.db
	}
	_, err := q.ExecContext(ctx, `
INSERT INTO reviewers (
	id, display_name, session_token, status, pid, spawned_at,
	last_active_at, terminated_at, exit_code,
	reviews_completed, total_review_seconds, approvals, rejections
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		rv.ID, rv.DisplayName, rv.SessionToken, rv.Status, rv.PID, formatReviewTimestamp(rv.SpawnedAt),
		nullableTime(rv.LastActiveAt), nullableTime(rv.TerminatedAt), nullableInt(rv.ExitCode),
		rv.ReviewsCompleted, rv.TotalReviewSeconds, rv.Approvals, rv.Rejections,
	)
	if err != nil {
		return fmt.Errorf("insert reviewer: %w", err)
	}
	return nil
}

func scanReviewer(scan func(dest ...any) error) (*Reviewer, error) {
	var rv Reviewer
	var lastActiveAt, terminatedAt sql.NullString
	var exitCode sql.NullInt64
	var spawnedAtRaw string

	if err := scan(
		&rv.ID, &rv.DisplayName, &rv.SessionToken, &rv.Status, &rv.PID, &spawnedAtRaw,
		&lastActiveAt, &terminatedAt, &exitCode,
		&rv.ReviewsCompleted, &rv.TotalReviewSeconds, &rv.Approvals, &rv.Rejections,
	); err != nil {
		return nil, err
	}

	ts, err := ParseTimestamp(spawnedAtRaw)
	if err != nil {
		return nil, err
	}
	rv.SpawnedAt = ts

	if lastActiveAt.Valid {
		t, err := ParseTimestamp(lastActiveAt.String)
		if err != nil {
			return nil, err
		}
		rv.LastActiveAt = &t
	}
	if terminatedAt.Valid {
		t, err := ParseTimestamp(terminatedAt.String)
		if err != nil {
			return nil, err
		}
		rv.TerminatedAt = &t
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		rv.ExitCode = &v
	}
	return &rv, nil
}

func (r *ReviewerRepo) Get(ctx context.Context, q querier, id string) (*Reviewer, error) {
	if q == nil {
		q = r.db
	}
	row := q.QueryRowContext(ctx, `SELECT `+reviewerColumns+` FROM reviewers WHERE id = ?`, id)
	rv, err := scanReviewer(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reviewer: %w", err)
	}
	return rv, nil
}

func (r *ReviewerRepo) List(ctx context.Context) ([]*Reviewer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reviewerColumns+` FROM reviewers ORDER BY spawned_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	defer rows.Close()

	var out []*Reviewer
	for rows.Next() {
		rv, err := scanReviewer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *ReviewerRepo) Update(ctx context.Context, q querier, rv *Reviewer) error {
	if q == nil {
		q = r.db
	}
	_, err := q.ExecContext(ctx, `
UPDATE reviewers SET
	status = ?, pid = ?, last_active_at = ?, terminated_at = ?, exit_code = ?,
	reviews_completed = ?, total_review_seconds = ?, approvals = ?, rejections = ?
WHERE id = ?
`,
		rv.Status, rv.PID, nullableTime(rv.LastActiveAt), nullableTime(rv.TerminatedAt), nullableInt(rv.ExitCode),
		rv.ReviewsCompleted, rv.TotalReviewSeconds, rv.Approvals, rv.Rejections,
		rv.ID,
	)
	if err != nil {
		return fmt.Errorf("update reviewer: %w", err)
	}
	return nil
}

// RecordVerdict increments a reviewer's review-count, elapsed-seconds,
// and approval/rejection tallies after it submits a verdict. A verdict
// of "comment" advances neither counter: it leaves the review claimed
// rather than closing out a round.
func (r *ReviewerRepo) RecordVerdict(ctx context.Context, q querier, id string, approved bool, elapsedSeconds float64) error {
	if q == nil {
		q = r.db
	}
	approvalDelta, rejectionDelta := 0, 0
	if approved {
		approvalDelta = 1
	} else {
		rejectionDelta = 1
	}
	_, err := q.ExecContext(ctx, `
UPDATE reviewers SET
	reviews_completed = reviews_completed + 1,
	total_review_seconds = total_review_seconds + ?,
	approvals = approvals + ?,
	rejections = rejections + ?
WHERE id = ?
`, elapsedSeconds, approvalDelta, rejectionDelta, id)
	if err != nil {
		return fmt.Errorf("record reviewer verdict: %w", err)
	}
	return nil
}

// MarkAllTerminatedExceptSession flags every reviewer row from a prior
// broker run as terminated, the first step of startup recovery.
func (r *ReviewerRepo) MarkAllTerminatedExceptSession(ctx context.Context, sessionToken string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE reviewers SET status = 'terminated', terminated_at = COALESCE(terminated_at, ?)
WHERE session_token != ? AND status != 'terminated'
`, formatReviewTimestamp(nowUTC()), sessionToken)
	if err != nil {
		return fmt.Errorf("mark prior-session reviewers terminated: %w", err)
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
