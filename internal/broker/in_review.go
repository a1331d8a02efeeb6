package broker

import (
	"context"
	"database/sql"
	"strings"

	"github.com/user/reviewbroker/internal/statemachine"
	"github.com/user/reviewbroker/internal/store"
)

// MarkInReviewArgs/Result back the mark_in_review operation: the
// claimed->in_review transition is legal but otherwise undriven. A
// reviewer that wants to distinguish "claimed but not yet started" from
// "actively reviewing" calls this once it begins deliberation.
type MarkInReviewArgs struct {
	ReviewID        string `json:"review_id"`
	ReviewerID      string `json:"reviewer_id,omitempty"`
	ClaimGeneration *int   `json:"claim_generation,omitempty"`
}

type MarkInReviewResult struct {
	Status string `json:"status"`
}

// MarkInReview transitions a claimed review to in_review.
func (s *Service) MarkInReview(ctx context.Context, args MarkInReviewArgs) any {
	if strings.TrimSpace(args.ReviewID) == "" {
		return opError("review_id is required")
	}

	var result any
	err := s.store.WithWriteLock(ctx, func(tx *sql.Tx) error {
		rv, err := s.reviews.Get(ctx, tx, args.ReviewID)
		if err != nil {
			return err
		}
		if rv == nil {
			result = opError("review %s not found", args.ReviewID)
			return nil
		}
		if err := statemachine.CheckFence(rv.ClaimGeneration, fencePtrToValue(args.ClaimGeneration)); err != nil {
			result = opError("%v", err)
			return nil
		}
		if strings.TrimSpace(args.ReviewerID) != "" && args.ReviewerID != rv.ClaimedBy {
			result = opError("reviewer_id does not match the review's claimed_by")
			return nil
		}
		if err := statemachine.RequireTransition(rv.Status, store.StatusInReview); err != nil {
			result = opError("%v", err)
			return nil
		}

		oldStatus := rv.Status
		rv.Status = store.StatusInReview
		if err := s.reviews.Update(ctx, tx, rv); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, rv.ID, "review_in_review", actorOrReviewer(args.ReviewerID, rv.ClaimedBy), oldStatus, rv.Status, "{}"); err != nil {
			return err
		}
		result = MarkInReviewResult{Status: rv.Status}
		return nil
	})
	if err != nil {
		return opError("failed to mark review in_review: %v", err)
	}
	s.bus.Notify(args.ReviewID)
	return result
}
