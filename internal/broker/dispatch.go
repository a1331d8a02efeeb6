package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Dispatch decodes raw into the argument struct for the named
// operation, invokes it, and marshals the result. A non-nil error here
// is a transport-level failure (unknown operation, malformed JSON) that
// C8 maps to an HTTP 400; domain-level failures are embedded in the
// returned JSON as the {"error": "..."} envelope defined in §4.4/§7 and
// never surface as a Go error.
func (s *Service) Dispatch(ctx context.Context, op string, raw json.RawMessage) (json.RawMessage, error) {
	decode := func(into any) error {
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(into); err != nil {
			return fmt.Errorf("decode %s arguments: %w", op, err)
		}
		return nil
	}

	var result any

	switch op {
	case "create_review":
		var args CreateReviewArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.CreateReview(ctx, args)

	case "list_reviews":
		var args ListReviewsArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.ListReviews(ctx, args)

	case "claim_review":
		var args ClaimReviewArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.ClaimReview(ctx, args)

	case "get_proposal":
		var args GetProposalArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.GetProposal(ctx, args)

	case "mark_in_review":
		var args MarkInReviewArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.MarkInReview(ctx, args)

	case "submit_verdict":
		var args SubmitVerdictArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.SubmitVerdict(ctx, args)

	case "accept_counter_patch":
		var args AcceptCounterPatchArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.AcceptCounterPatch(ctx, args)

	case "reject_counter_patch":
		var args RejectCounterPatchArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.RejectCounterPatch(ctx, args)

	case "add_message":
		var args AddMessageArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.AddMessage(ctx, args)

	case "get_discussion":
		var args GetDiscussionArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.GetDiscussion(ctx, args)

	case "close_review":
		var args CloseReviewArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.CloseReview(ctx, args)

	case "get_review_status":
		var args GetReviewStatusArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.GetReviewStatus(ctx, args)

	case "get_activity_feed":
		var args GetActivityFeedArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.GetActivityFeed(ctx, args)

	case "get_audit_log":
		var args GetAuditLogArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.GetAuditLog(ctx, args)

	case "get_review_stats":
		result = s.GetReviewStats(ctx)

	case "get_review_timeline":
		var args GetReviewTimelineArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.GetReviewTimeline(ctx, args)

	case "spawn_reviewer":
		result = s.SpawnReviewer(ctx)

	case "kill_reviewer":
		var args KillReviewerArgs
		if err := decode(&args); err != nil {
			return nil, err
		}
		result = s.KillReviewer(ctx, args)

	case "list_reviewers":
		result = s.ListReviewers(ctx)

	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", op, err)
	}
	return out, nil
}
