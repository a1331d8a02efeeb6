package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create core review tables",
		sql: `
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK(status IN ('pending','claimed','in_review','approved','changes_requested','closed')),
	intent TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	diff TEXT NOT NULL DEFAULT '',
	affected_files TEXT NOT NULL DEFAULT '[]',
	agent_type TEXT NOT NULL DEFAULT '',
	agent_role TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL DEFAULT '',
	plan TEXT NOT NULL DEFAULT '',
	task TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT 'normal',
	claimed_by TEXT,
	claimed_at TEXT,
	claim_generation INTEGER NOT NULL DEFAULT 0,
	verdict_reason TEXT NOT NULL DEFAULT '',
	current_round INTEGER NOT NULL DEFAULT 1,
	counter_patch TEXT NOT NULL DEFAULT '',
	counter_patch_status TEXT,
	parent_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY(parent_id) REFERENCES reviews(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	review_id TEXT NOT NULL,
	sender_role TEXT NOT NULL CHECK(sender_role IN ('proposer','reviewer')),
	round INTEGER NOT NULL,
	body TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	FOREIGN KEY(review_id) REFERENCES reviews(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	review_id TEXT,
	event_type TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	old_status TEXT,
	new_status TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reviewers (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	session_token TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('active','draining','terminated')),
	pid INTEGER NOT NULL DEFAULT 0,
	spawned_at TEXT NOT NULL,
	last_active_at TEXT,
	terminated_at TEXT,
	exit_code INTEGER,
	reviews_completed INTEGER NOT NULL DEFAULT 0,
	total_review_seconds REAL NOT NULL DEFAULT 0,
	approvals INTEGER NOT NULL DEFAULT 0,
	rejections INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
CREATE INDEX IF NOT EXISTS idx_reviews_category ON reviews(category);
CREATE INDEX IF NOT EXISTS idx_reviews_priority ON reviews(priority);
CREATE INDEX IF NOT EXISTS idx_reviews_claimed_by ON reviews(claimed_by);
CREATE INDEX IF NOT EXISTS idx_messages_review_id ON messages(review_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_review_id ON audit_events(review_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
CREATE INDEX IF NOT EXISTS idx_reviewers_session_token ON reviewers(session_token);
CREATE INDEX IF NOT EXISTS idx_reviewers_status ON reviewers(status);
`,
	},
}

// runMigrations applies each migration's SQL idempotently. New tables
// use CREATE TABLE IF NOT EXISTS; later revisions may append ALTER
// TABLE ADD COLUMN statements here, tolerating only "duplicate column"
// errors on replay.
func runMigrations(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create _meta table: %w", err)
	}

	for _, m := range migrations {
		if _, err := conn.ExecContext(ctx, m.sql); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}
