package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(context.Background(), filepath.Join(dir, "broker.db"), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenAppliesPragmasAndMigrations(t *testing.T) {
	st := openTestStore(t)

	var journalMode string
	if err := st.SQL().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var n int
	if err := st.SQL().QueryRow(`SELECT count(1) FROM sqlite_master WHERE type='table' AND name='reviews'`).Scan(&n); err != nil {
		t.Fatalf("check reviews table: %v", err)
	}
	if n != 1 {
		t.Fatalf("reviews table not created")
	}
}

func TestWithWriteLockCommitsOnSuccess(t *testing.T) {
	st := openTestStore(t)
	repo := NewReviewRepo(st.SQL())

	rv := &Review{
		ID: NewID(), Status: StatusPending, Intent: "test", Priority: PriorityNormal,
		CurrentRound: 1, CreatedAt: nowUTC(), UpdatedAt: nowUTC(),
	}
	err := st.WithWriteLock(context.Background(), func(tx *sql.Tx) error {
		return repo.Insert(context.Background(), tx, rv)
	})
	if err != nil {
		t.Fatalf("WithWriteLock: %v", err)
	}

	got, err := repo.Get(context.Background(), nil, rv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Intent != "test" {
		t.Fatalf("got %+v, want persisted review", got)
	}
}

func TestWithWriteLockRollsBackOnError(t *testing.T) {
	st := openTestStore(t)
	repo := NewReviewRepo(st.SQL())
	id := NewID()

	err := st.WithWriteLock(context.Background(), func(tx *sql.Tx) error {
		rv := &Review{ID: id, Status: StatusPending, Intent: "x", Priority: PriorityNormal, CreatedAt: nowUTC(), UpdatedAt: nowUTC()}
		if err := repo.Insert(context.Background(), tx, rv); err != nil {
			return err
		}
		return errIntentional
	})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}

	got, err := repo.Get(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected rollback, but row was persisted")
	}
}

var errIntentional = &testError{"intentional failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestReviewRepoListOrdersByPriorityThenCreatedAt(t *testing.T) {
	st := openTestStore(t)
	repo := NewReviewRepo(st.SQL())
	ctx := context.Background()

	mk := func(priority string) *Review {
		return &Review{
			ID: NewID(), Status: StatusPending, Intent: "i", Priority: priority,
			CurrentRound: 1, CreatedAt: nowUTC(), UpdatedAt: nowUTC(),
		}
	}
	low := mk(PriorityLow)
	critical := mk(PriorityCritical)
	normal := mk(PriorityNormal)

	for _, rv := range []*Review{low, critical, normal} {
		if err := repo.Insert(ctx, nil, rv); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := repo.List(ctx, ReviewFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ID != critical.ID || rows[1].ID != normal.ID || rows[2].ID != low.ID {
		t.Fatalf("unexpected priority order: %v, %v, %v", rows[0].Priority, rows[1].Priority, rows[2].Priority)
	}
}

func TestAuditRepoStatsNullSafeWithNoVerdicts(t *testing.T) {
	st := openTestStore(t)
	audit := NewAuditRepo(st.SQL())

	stats, err := audit.ComputeStats(context.Background())
	if err != nil {
		t.Fatalf("ComputeStats: %v", err)
	}
	if stats.ApprovalRatePct != nil {
		t.Fatalf("expected nil approval rate with no verdicts, got %v", *stats.ApprovalRatePct)
	}
}

func TestMessageRepoTurnTracking(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	messages := NewMessageRepo(st.SQL())

	last, err := messages.LastForReview(ctx, nil, "nonexistent")
	if err != nil {
		t.Fatalf("LastForReview: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil for empty thread")
	}

	owner := &Review{ID: "r1", Status: StatusPending, Intent: "i", Priority: PriorityNormal, CurrentRound: 1, CreatedAt: nowUTC(), UpdatedAt: nowUTC()}
	if err := NewReviewRepo(st.SQL()).Insert(ctx, nil, owner); err != nil {
		t.Fatalf("insert review: %v", err)
	}

	m := &Message{ID: NewID(), ReviewID: "r1", SenderRole: SenderProposer, Round: 1, Body: "hi", Metadata: "{}", CreatedAt: nowUTC()}
	if err := messages.Insert(ctx, nil, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	last, err = messages.LastForReview(ctx, nil, "r1")
	if err != nil {
		t.Fatalf("LastForReview: %v", err)
	}
	if last == nil || last.SenderRole != SenderProposer {
		t.Fatalf("expected last message from proposer, got %+v", last)
	}
}

func TestReviewerRepoRecordVerdictAccumulates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	reviewers := NewReviewerRepo(st.SQL())

	rv := &Reviewer{ID: "codex-r1-sess1", DisplayName: "codex-r1", SessionToken: "sess1", Status: ReviewerActive, SpawnedAt: nowUTC()}
	if err := reviewers.Insert(ctx, nil, rv); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := reviewers.RecordVerdict(ctx, nil, rv.ID, true, 12.5); err != nil {
		t.Fatalf("RecordVerdict (approved): %v", err)
	}
	if err := reviewers.RecordVerdict(ctx, nil, rv.ID, false, 7.5); err != nil {
		t.Fatalf("RecordVerdict (rejected): %v", err)
	}

	got, err := reviewers.Get(ctx, nil, rv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ReviewsCompleted != 2 {
		t.Fatalf("ReviewsCompleted = %d, want 2", got.ReviewsCompleted)
	}
	if got.Approvals != 1 || got.Rejections != 1 {
		t.Fatalf("Approvals/Rejections = %d/%d, want 1/1", got.Approvals, got.Rejections)
	}
	if got.TotalReviewSeconds != 20 {
		t.Fatalf("TotalReviewSeconds = %v, want 20", got.TotalReviewSeconds)
	}
}
