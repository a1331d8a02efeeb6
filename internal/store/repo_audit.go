package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AuditRepo appends and queries the broker's immutable event stream.
// Rows are never updated or deleted.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(ctx context.Context, q querier, ev *AuditEvent) error {
	if q == nil {
		q = r.db
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = nowUTC()
	}
	res, err := q.ExecContext(ctx, `
INSERT INTO audit_events (review_id, event_type, actor, old_status, new_status, metadata, created_at)
VALUES (?,?,?,?,?,?,?)
`, nullableString(ev.ReviewID), ev.EventType, ev.Actor, nullableString(ev.OldStatus), nullableString(ev.NewStatus), ev.Metadata, formatAuditTimestamp(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

func scanAuditEvent(scan func(dest ...any) error) (*AuditEvent, error) {
	var ev AuditEvent
	var reviewID, oldStatus, newStatus sql.NullString
	var createdAtRaw string
	if err := scan(&ev.ID, &reviewID, &ev.EventType, &ev.Actor, &oldStatus, &newStatus, &ev.Metadata, &createdAtRaw); err != nil {
		return nil, err
	}
	ev.ReviewID = reviewID.String
	ev.OldStatus = oldStatus.String
	ev.NewStatus = newStatus.String
	ts, err := ParseTimestamp(createdAtRaw)
	if err != nil {
		return nil, err
	}
	ev.CreatedAt = ts
	return &ev, nil
}

const auditColumns = `id, review_id, event_type, actor, old_status, new_status, metadata, created_at`

// List returns every audit event, optionally scoped to one review, in
// chronological order.
func (r *AuditRepo) List(ctx context.Context, reviewID string) ([]*AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events`
	var args []any
	if reviewID != "" {
		query += ` WHERE review_id = ?`
		args = append(args, reviewID)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Timeline is List scoped to a single review: the review timeline is
// List(ctx, reviewID) under a different name for callers that want the
// distinction to read clearly at the call site.
func (r *AuditRepo) Timeline(ctx context.Context, reviewID string) ([]*AuditEvent, error) {
	return r.List(ctx, reviewID)
}

// Stats aggregates review totals for dashboard and status reporting.
type Stats struct {
	TotalReviews       int
	ByStatus           map[string]int
	ByCategory         map[string]int
	ApprovalRatePct    *float64
	AvgSecondsToVerdict *float64
	AvgSecondsToClose   *float64
}

func (r *AuditRepo) ComputeStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: map[string]int{}, ByCategory: map[string]int{}}

	if err := r.db.QueryRowContext(ctx, `SELECT count(1) FROM reviews`).Scan(&stats.TotalReviews); err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, count(1) FROM reviews GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count reviews by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT category, count(1) FROM reviews WHERE category != '' GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count reviews by category: %w", err)
	}
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		stats.ByCategory[category] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var totalVerdicts, approvedVerdicts sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `
SELECT
	count(1),
	sum(CASE WHEN json_extract(metadata, '$.verdict') = 'approved' THEN 1 ELSE 0 END)
FROM audit_events
WHERE event_type = 'verdict_submitted'
`).Scan(&totalVerdicts, &approvedVerdicts); err != nil {
		return nil, fmt.Errorf("aggregate verdicts: %w", err)
	}
	if totalVerdicts.Valid && totalVerdicts.Int64 > 0 {
		pct := float64(approvedVerdicts.Int64) / float64(totalVerdicts.Int64) * 100
		stats.ApprovalRatePct = &pct
	}

	var avgToVerdict sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, `
SELECT avg(
	(julianday(ae.created_at) - julianday(r.created_at)) * 86400
)
FROM audit_events ae
JOIN reviews r ON r.id = ae.review_id
WHERE ae.event_type = 'verdict_submitted'
AND ae.id = (
	SELECT min(id) FROM audit_events ae2
	WHERE ae2.review_id = ae.review_id AND ae2.event_type = 'verdict_submitted'
)
`).Scan(&avgToVerdict); err != nil {
		return nil, fmt.Errorf("average seconds to verdict: %w", err)
	}
	if avgToVerdict.Valid {
		v := avgToVerdict.Float64
		stats.AvgSecondsToVerdict = &v
	}

	var avgToClose sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, `
SELECT avg(
	(julianday(ae.created_at) - julianday(r.created_at)) * 86400
)
FROM audit_events ae
JOIN reviews r ON r.id = ae.review_id
WHERE ae.event_type = 'review_closed'
`).Scan(&avgToClose); err != nil {
		return nil, fmt.Errorf("average seconds to close: %w", err)
	}
	if avgToClose.Valid {
		v := avgToClose.Float64
		stats.AvgSecondsToClose = &v
	}

	return stats, nil
}
