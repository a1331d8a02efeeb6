package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MessageRepo persists discussion-thread turns.
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Insert(ctx context.Context, q querier, m *Message) error {
	if q == nil {
		q = r.db
	}
	_, err := q.ExecContext(ctx, `
INSERT INTO messages (id, review_id, sender_role, round, body, metadata, created_at)
VALUES (?,?,?,?,?,?,?)
`, m.ID, m.ReviewID, m.SenderRole, m.Round, m.Body, m.Metadata, formatReviewTimestamp(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LastForReview returns the most recently inserted message for a
// review (by rowid, i.e. insertion order), or nil if none exist. Turn
// alternation is enforced against this row's sender_role.
func (r *MessageRepo) LastForReview(ctx context.Context, q querier, reviewID string) (*Message, error) {
	if q == nil {
		q = r.db
	}
	row := q.QueryRowContext(ctx, `
SELECT id, review_id, sender_role, round, body, metadata, created_at
FROM messages
WHERE review_id = ?
ORDER BY rowid DESC
LIMIT 1
`, reviewID)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last message: %w", err)
	}
	return m, nil
}

func scanMessage(scan func(dest ...any) error) (*Message, error) {
	var m Message
	var createdAtRaw string
	if err := scan(&m.ID, &m.ReviewID, &m.SenderRole, &m.Round, &m.Body, &m.Metadata, &createdAtRaw); err != nil {
		return nil, err
	}
	ts, err := ParseTimestamp(createdAtRaw)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = ts
	return &m, nil
}

// ListForReview returns the ordered message list, optionally filtered
// by round.
func (r *MessageRepo) ListForReview(ctx context.Context, reviewID string, round int) ([]*Message, error) {
	query := `
SELECT id, review_id, sender_role, round, body, metadata, created_at
FROM messages
WHERE review_id = ?
`
	args := []any{reviewID}
	if round > 0 {
		query += " AND round = ?"
		args = append(args, round)
	}
	query += " ORDER BY rowid ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountForReview returns the number of messages in a review's thread,
// used by get_activity_feed's message-count subquery.
func (r *MessageRepo) CountForReview(ctx context.Context, reviewID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(1) FROM messages WHERE review_id = ?`, reviewID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
