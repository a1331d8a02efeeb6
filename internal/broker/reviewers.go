package broker

import (
	"context"
	"strings"

	"github.com/user/reviewbroker/internal/store"
)

// ReviewerManager is the narrow surface the broker's manual pool
// controls (spawn_reviewer/kill_reviewer/list_reviewers) need from the
// reviewer pool manager. Distinct from the Pool interface above, which
// covers the hooks the pool manager needs from the broker: this one is
// the direction the tool surface calls into the pool.
type ReviewerManager interface {
	SpawnOne(ctx context.Context) (string, error)
	Kill(ctx context.Context, reviewerID string) error
}

// reviewerManager is nil until AttachReviewerManager is called, which
// happens only when a pool configuration section is present.
func (s *Service) AttachReviewerManager(rm ReviewerManager) {
	s.reviewerManager = rm
}

// SpawnReviewer asks the pool manager to spawn one reviewer subprocess.
func (s *Service) SpawnReviewer(ctx context.Context) any {
	if s.reviewerManager == nil {
		return opError("reviewer pool is disabled")
	}
	id, err := s.reviewerManager.SpawnOne(ctx)
	if err != nil {
		return opError("failed to spawn reviewer: %v", err)
	}
	return SpawnReviewerResult{ReviewerID: id}
}

// KillReviewer starts a graceful drain of a broker-spawned reviewer
// subprocess; it has no effect on ids the pool does not recognize.
func (s *Service) KillReviewer(ctx context.Context, args KillReviewerArgs) any {
	if strings.TrimSpace(args.ReviewerID) == "" {
		return opError("reviewer_id is required")
	}
	if s.reviewerManager == nil {
		return opError("reviewer pool is disabled")
	}
	if err := s.reviewerManager.Kill(ctx, args.ReviewerID); err != nil {
		return opError("failed to kill reviewer %s: %v", args.ReviewerID, err)
	}
	return KillReviewerResult{Status: "draining"}
}

// ListReviewers reads directly from the reviewers table: the pool
// manager owns the live subprocess state, but the historical row set
// is the store's concern.
func (s *Service) ListReviewers(ctx context.Context) any {
	rows, err := s.reviewers.List(ctx)
	if err != nil {
		return opError("failed to list reviewers: %v", err)
	}
	out := make([]ReviewerView, 0, len(rows))
	for _, rv := range rows {
		out = append(out, viewReviewer(rv))
	}
	return ListReviewersResult{Reviewers: out}
}

func viewReviewer(rv *store.Reviewer) ReviewerView {
	v := ReviewerView{
		ID:                 rv.ID,
		DisplayName:        rv.DisplayName,
		Status:             rv.Status,
		PID:                rv.PID,
		SpawnedAt:          isoTimestamp(rv.SpawnedAt),
		ReviewsCompleted:   rv.ReviewsCompleted,
		TotalReviewSeconds: rv.TotalReviewSeconds,
		Approvals:          rv.Approvals,
		Rejections:         rv.Rejections,
	}
	if rv.LastActiveAt != nil {
		v.LastActiveAt = isoTimestamp(*rv.LastActiveAt)
	}
	return v
}
