package broker

import (
	"context"
	"database/sql"
	"strings"

	"github.com/user/reviewbroker/internal/diffvalidate"
	"github.com/user/reviewbroker/internal/statemachine"
	"github.com/user/reviewbroker/internal/store"
)

// ClaimReview assigns a pending review to a reviewer. The diff is
// re-validated inside the write mutex to guard against working-tree
// drift since create_review's earlier check; a second-time failure
// auto-rejects the review to changes_requested.
func (s *Service) ClaimReview(ctx context.Context, args ClaimReviewArgs) any {
	if strings.TrimSpace(args.ReviewID) == "" || strings.TrimSpace(args.ReviewerID) == "" {
		return opError("review_id and reviewer_id are required")
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
		if err := statemachine.RequireTransition(rv.Status, store.StatusClaimed); err != nil {
			result = opError("%v", err)
			return nil
		}

		root, rootOK := s.store.RepoRoot()
		var valid bool
		var detail string
		if rv.Diff != "" {
			if !rootOK {
				valid, detail = false, "repository root could not be discovered at startup; diff validation is unavailable"
			} else {
				valid, detail, err = diffvalidate.Validate(ctx, rv.Diff, root)
				if err != nil {
					return err
				}
			}
		} else {
			valid = true
		}

		if !valid {
			oldStatus := rv.Status
			rv.Status = store.StatusChangesRequested
			rv.VerdictReason = "Auto-rejected: diff does not apply cleanly. " + detail
			if err := s.reviews.Update(ctx, tx, rv); err != nil {
				return err
			}
			if err := s.recordAudit(ctx, tx, rv.ID, "review_auto_rejected", "broker", oldStatus, store.StatusChangesRequested, `{"reason":"diff_apply_failed"}`); err != nil {
				return err
			}
			result = opError("diff no longer applies cleanly; review auto-rejected to changes_requested: %s", detail)
			return nil
		}

		oldStatus := rv.Status
		rv.ClaimedBy = args.ReviewerID
		claimedAt := now()
		rv.ClaimedAt = &claimedAt
		rv.ClaimGeneration++
		rv.Status = store.StatusClaimed
		if err := s.reviews.Update(ctx, tx, rv); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, rv.ID, "review_claimed", args.ReviewerID, oldStatus, store.StatusClaimed, "{}"); err != nil {
			return err
		}

		result = ClaimReviewResult{
			Status:          rv.Status,
			Intent:          rv.Intent,
			Description:     rv.Description,
			AffectedFiles:   rv.AffectedFiles,
			Category:        rv.Category,
			ClaimGeneration: rv.ClaimGeneration,
			HasDiff:         rv.Diff != "",
		}
		return nil
	})
	if err != nil {
		return opError("failed to claim review: %v", err)
	}

	s.bus.Notify(args.ReviewID)
	return result
}
