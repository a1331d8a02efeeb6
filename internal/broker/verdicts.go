package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/user/reviewbroker/internal/diffvalidate"
	"github.com/user/reviewbroker/internal/statemachine"
	"github.com/user/reviewbroker/internal/store"
)

const (
	verdictApproved         = "approved"
	verdictChangesRequested = "changes_requested"
	verdictComment          = "comment"
)

// SubmitVerdict records a reviewer's verdict on a claimed review.
func (s *Service) SubmitVerdict(ctx context.Context, args SubmitVerdictArgs) any {
	if strings.TrimSpace(args.ReviewID) == "" {
		return opError("review_id is required")
	}
	switch args.Verdict {
	case verdictApproved, verdictChangesRequested, verdictComment:
	default:
		return opError("verdict must be one of approved, changes_requested, comment")
	}
	if (args.Verdict == verdictChangesRequested || args.Verdict == verdictComment) && strings.TrimSpace(args.Reason) == "" {
		return opError("reason is required for verdict=%s", args.Verdict)
	}
	if strings.TrimSpace(args.CounterPatch) != "" && args.Verdict == verdictApproved {
		return opError("counter_patch is only accepted for changes_requested or comment verdicts")
	}

	var result any
	var reviewerToRetire string

	err := s.store.WithWriteLock(ctx, func(tx *sql.Tx) error {
		rv, err := s.reviews.Get(ctx, tx, args.ReviewID)
		if err != nil {
			return err
		}
		if rv == nil {
			result = opError("review %s not found", args.ReviewID)
			return nil
		}
		if !isInReviewCapable(rv.Status) {
			result = opError("review %s is not claimed (status=%s)", rv.ID, rv.Status)
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

		hasCounterPatch := false
		if strings.TrimSpace(args.CounterPatch) != "" {
			root, rootOK := s.store.RepoRoot()
			var valid bool
			var detail string
			if rootOK {
				valid, detail, err = diffvalidate.Validate(ctx, args.CounterPatch, root)
				if err != nil {
					return err
				}
			} else {
				valid, detail = false, "repository root could not be discovered at startup"
			}
			if !valid {
				result = opError("counter_patch does not apply cleanly: %s", detail)
				return nil
			}
			rv.CounterPatch = args.CounterPatch
			rv.CounterPatchStatus = store.CounterPatchPending
			hasCounterPatch = true
		}

		oldStatus := rv.Status

		switch args.Verdict {
		case verdictComment:
			rv.VerdictReason = args.Reason
			if err := s.reviews.Update(ctx, tx, rv); err != nil {
				return err
			}
			if err := s.recordAudit(ctx, tx, rv.ID, "verdict_comment", actorOrReviewer(args.ReviewerID, rv.ClaimedBy), oldStatus, oldStatus, jsonVerdictMeta(args.Verdict, hasCounterPatch)); err != nil {
				return err
			}
			result = SubmitVerdictResult{Status: rv.Status}

		case verdictApproved:
			if err := statemachine.RequireTransition(rv.Status, store.StatusApproved); err != nil {
				result = opError("%v", err)
				return nil
			}
			rv.Status = store.StatusApproved
			rv.VerdictReason = args.Reason
			if err := s.reviews.Update(ctx, tx, rv); err != nil {
				return err
			}
			if err := s.recordAudit(ctx, tx, rv.ID, "verdict_submitted", actorOrReviewer(args.ReviewerID, rv.ClaimedBy), oldStatus, rv.Status, jsonVerdictMeta(args.Verdict, hasCounterPatch)); err != nil {
				return err
			}
			if err := s.recordReviewerVerdict(ctx, tx, rv, true); err != nil {
				return err
			}
			result = SubmitVerdictResult{Status: rv.Status}
			reviewerToRetire = rv.ClaimedBy

		case verdictChangesRequested:
			if err := statemachine.RequireTransition(rv.Status, store.StatusChangesRequested); err != nil {
				result = opError("%v", err)
				return nil
			}
			rv.Status = store.StatusChangesRequested
			rv.VerdictReason = args.Reason
			if err := s.reviews.Update(ctx, tx, rv); err != nil {
				return err
			}
			if err := s.recordAudit(ctx, tx, rv.ID, "verdict_submitted", actorOrReviewer(args.ReviewerID, rv.ClaimedBy), oldStatus, rv.Status, jsonVerdictMeta(args.Verdict, hasCounterPatch)); err != nil {
				return err
			}
			if err := s.recordReviewerVerdict(ctx, tx, rv, false); err != nil {
				return err
			}
			result = SubmitVerdictResult{Status: rv.Status}
			reviewerToRetire = rv.ClaimedBy
		}
		return nil
	})
	if err != nil {
		return opError("failed to submit verdict: %v", err)
	}

	s.bus.Notify(args.ReviewID)
	if reviewerToRetire != "" {
		s.pool.ReviewerFinishedVerdict(ctx, reviewerToRetire)
	}
	return result
}

// recordReviewerVerdict tallies the verdict against the claiming
// reviewer's stats row: reviews_completed, total_review_seconds (time
// since the review was claimed), and approvals/rejections. A review
// claimed outside the pool (args.ReviewerID/rv.ClaimedBy empty, or a
// manual claimed_by with no matching reviewer row) leaves no stats to
// update, so a missing row is not an error.
func (s *Service) recordReviewerVerdict(ctx context.Context, tx *sql.Tx, rv *store.Review, approved bool) error {
	reviewerID := rv.ClaimedBy
	if strings.TrimSpace(reviewerID) == "" {
		return nil
	}
	existing, err := s.reviewers.Get(ctx, tx, reviewerID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	elapsed := 0.0
	if rv.ClaimedAt != nil {
		elapsed = rv.UpdatedAt.Sub(*rv.ClaimedAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
	}
	return s.reviewers.RecordVerdict(ctx, tx, reviewerID, approved, elapsed)
}

func fencePtrToValue(p *int) int {
	if p == nil {
		return statemachine.NoFence
	}
	return *p
}

func actorOrReviewer(reviewerID, claimedBy string) string {
	if strings.TrimSpace(reviewerID) != "" {
		return reviewerID
	}
	if strings.TrimSpace(claimedBy) != "" {
		return claimedBy
	}
	return "reviewer"
}

func jsonVerdictMeta(verdict string, hasCounterPatch bool) string {
	buf, err := json.Marshal(struct {
		Verdict         string `json:"verdict"`
		HasCounterPatch bool   `json:"has_counter_patch"`
	}{Verdict: verdict, HasCounterPatch: hasCounterPatch})
	if err != nil {
		return "{}"
	}
	return string(buf)
}

// AcceptCounterPatch applies a pending counter patch: the
// proposer adopts the reviewer's alternative diff as a revision.
func (s *Service) AcceptCounterPatch(ctx context.Context, args AcceptCounterPatchArgs) any {
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
		if strings.TrimSpace(rv.CounterPatch) == "" || rv.CounterPatchStatus != store.CounterPatchPending {
			result = opError("review %s has no pending counter-patch", rv.ID)
			return nil
		}

		root, rootOK := s.store.RepoRoot()
		var valid bool
		var detail string
		if rootOK {
			valid, detail, err = diffvalidate.Validate(ctx, rv.CounterPatch, root)
			if err != nil {
				return err
			}
		} else {
			valid, detail = false, "repository root could not be discovered at startup"
		}
		if !valid {
			result = opError("counter_patch no longer applies cleanly: %s", detail)
			return nil
		}

		rv.Diff = rv.CounterPatch
		rv.AffectedFiles = diffvalidate.ExtractAffectedFiles(rv.Diff)
		rv.CounterPatchStatus = store.CounterPatchAccepted
		rv.Status = store.StatusPending
		rv.ClaimedBy = ""
		rv.ClaimedAt = nil
		rv.CurrentRound++
		if err := s.reviews.Update(ctx, tx, rv); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, rv.ID, "counter_patch_accepted", "proposer", store.StatusChangesRequested, store.StatusPending, "{}"); err != nil {
			return err
		}

		result = AcceptCounterPatchResult{
			Status:        rv.Status,
			Diff:          rv.Diff,
			AffectedFiles: rv.AffectedFiles,
			CurrentRound:  rv.CurrentRound,
		}
		return nil
	})
	if err != nil {
		return opError("failed to accept counter-patch: %v", err)
	}
	s.bus.Notify(args.ReviewID)
	return result
}

// RejectCounterPatch discards a pending counter patch.
func (s *Service) RejectCounterPatch(ctx context.Context, args RejectCounterPatchArgs) any {
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
		if strings.TrimSpace(rv.CounterPatch) == "" {
			result = opError("review %s has no counter-patch to reject", rv.ID)
			return nil
		}

		rv.CounterPatchStatus = store.CounterPatchRejected
		rv.CounterPatch = ""
		if err := s.reviews.Update(ctx, tx, rv); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, rv.ID, "counter_patch_rejected", "proposer", rv.Status, rv.Status, "{}"); err != nil {
			return err
		}
		result = RejectCounterPatchResult{Status: rv.Status}
		return nil
	})
	if err != nil {
		return opError("failed to reject counter-patch: %v", err)
	}
	s.bus.Notify(args.ReviewID)
	return result
}
