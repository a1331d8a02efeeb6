package broker

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/user/reviewbroker/internal/diffvalidate"
	"github.com/user/reviewbroker/internal/statemachine"
	"github.com/user/reviewbroker/internal/store"
)

// CreateReview handles fresh submission when review_id is absent, and
// revision when present and the review is in changes_requested.
func (s *Service) CreateReview(ctx context.Context, args CreateReviewArgs) any {
	if strings.TrimSpace(args.Intent) == "" {
		return opError("intent is required")
	}
	if strings.TrimSpace(args.AgentType) == "" || strings.TrimSpace(args.AgentRole) == "" {
		return opError("agent_type and agent_role are required")
	}

	valid, detail, err := s.validateDiffIfPresent(ctx, args.Diff, args.SkipDiffValidation)
	if err != nil {
		return opError("diff validation failed: %v", err)
	}
	if !valid {
		return opError("diff does not apply cleanly: %s", detail)
	}
	affected := diffvalidate.ExtractAffectedFiles(args.Diff)

	if strings.TrimSpace(args.ReviewID) == "" {
		return s.createFreshReview(ctx, args, affected)
	}
	return s.reviseReview(ctx, args, affected)
}

func (s *Service) createFreshReview(ctx context.Context, args CreateReviewArgs, affected string) any {
	id := store.NewID()
	priority := statemachine.InferPriority(args.AgentType, args.AgentRole, args.Phase, args.Category)

	rv := &store.Review{
		ID:            id,
		Status:        store.StatusPending,
		Intent:        args.Intent,
		Description:   args.Description,
		Diff:          args.Diff,
		AffectedFiles: affected,
		AgentType:     args.AgentType,
		AgentRole:     args.AgentRole,
		Phase:         args.Phase,
		Plan:          args.Plan,
		Task:          args.Task,
		Category:      args.Category,
		Priority:      priority,
		CurrentRound:  1,
		CreatedAt:     now(),
		UpdatedAt:     now(),
	}

	err := s.store.WithWriteLock(ctx, func(tx *sql.Tx) error {
		if err := s.reviews.Insert(ctx, tx, rv); err != nil {
			return err
		}
		return s.recordAudit(ctx, tx, rv.ID, "review_created", "proposer", "", store.StatusPending, "{}")
	})
	if err != nil {
		return opError("failed to create review: %v", err)
	}

	s.bus.Notify(rv.ID)
	s.pool.TriggerScaleUp(ctx)

	return CreateReviewResult{ReviewID: rv.ID, Status: rv.Status}
}

func (s *Service) reviseReview(ctx context.Context, args CreateReviewArgs, affected string) any {
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
		if rv.Status != store.StatusChangesRequested {
			result = opError("review %s is not in changes_requested (status=%s)", rv.ID, rv.Status)
			return nil
		}

		rv.Intent = args.Intent
		rv.Description = args.Description
		rv.Diff = args.Diff
		rv.AffectedFiles = affected
		rv.ClaimedBy = ""
		rv.ClaimedAt = nil
		rv.VerdictReason = ""
		rv.CounterPatch = ""
		rv.CounterPatchStatus = ""
		rv.Status = store.StatusPending
		rv.CurrentRound++

		if err := s.reviews.Update(ctx, tx, rv); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, rv.ID, "review_revised", "proposer", store.StatusChangesRequested, store.StatusPending, "{}"); err != nil {
			return err
		}
		result = CreateReviewResult{ReviewID: rv.ID, Status: rv.Status}
		return nil
	})
	if err != nil {
		return opError("failed to revise review: %v", err)
	}

	s.bus.Notify(args.ReviewID)
	s.pool.TriggerScaleUp(ctx)
	return result
}

// ListReviews returns a filtered, ordered summary of reviews.
func (s *Service) ListReviews(ctx context.Context, args ListReviewsArgs) any {
	rows, err := s.reviews.List(ctx, store.ReviewFilter{Status: args.Status, Category: args.Category})
	if err != nil {
		return opError("failed to list reviews: %v", err)
	}

	out := make([]ReviewSummary, 0, len(rows))
	for _, rv := range rows {
		out = append(out, ReviewSummary{
			ID:              rv.ID,
			Status:          rv.Status,
			Intent:          rv.Intent,
			Category:        rv.Category,
			Priority:        rv.Priority,
			ClaimedBy:       rv.ClaimedBy,
			ClaimGeneration: rv.ClaimGeneration,
			CurrentRound:    rv.CurrentRound,
			CreatedAt:       isoTimestamp(rv.CreatedAt),
			UpdatedAt:       isoTimestamp(rv.UpdatedAt),
		})
	}
	return ListReviewsResult{Reviews: out}
}

// GetProposal returns a review's full proposal, the only operation
// that returns the full diff text inline.
func (s *Service) GetProposal(ctx context.Context, args GetProposalArgs) any {
	rv, err := s.reviews.Get(ctx, nil, args.ReviewID)
	if err != nil {
		return opError("failed to load review: %v", err)
	}
	if rv == nil {
		return opError("review %s not found", args.ReviewID)
	}
	return GetProposalResult{
		ReviewID:      rv.ID,
		Status:        rv.Status,
		Intent:        rv.Intent,
		Description:   rv.Description,
		Diff:          rv.Diff,
		AffectedFiles: rv.AffectedFiles,
		Category:      rv.Category,
		Priority:      rv.Priority,
		CurrentRound:  rv.CurrentRound,
	}
}

// CloseReview terminates a review's lifecycle; legal only from
// approved or changes_requested.
func (s *Service) CloseReview(ctx context.Context, args CloseReviewArgs) any {
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
		if err := statemachine.RequireTransition(rv.Status, store.StatusClosed); err != nil {
			result = opError("%v", err)
			return nil
		}

		oldStatus := rv.Status
		rv.Status = store.StatusClosed
		if err := s.reviews.Update(ctx, tx, rv); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, rv.ID, "review_closed", "proposer", oldStatus, store.StatusClosed, "{}"); err != nil {
			return err
		}
		result = CloseReviewResult{Status: rv.Status}
		return nil
	})
	if err != nil {
		return opError("failed to close review: %v", err)
	}
	s.bus.Notify(args.ReviewID)
	return result
}

// isoTimestamp normalizes the legacy space-separated review timestamp
// form to ISO-8601 UTC on output only.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
