package broker

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/user/reviewbroker/internal/store"
)

// GetActivityFeed lists all reviews with a message-count subquery
// and last-message preview, ordered by updated_at DESC.
func (s *Service) GetActivityFeed(ctx context.Context, args GetActivityFeedArgs) any {
	rows, err := s.reviews.List(ctx, store.ReviewFilter{Status: args.Status, Category: args.Category})
	if err != nil {
		return opError("failed to load activity feed: %v", err)
	}

	// List orders by priority/created_at for list_reviews; the activity
	// feed needs updated_at DESC, so re-sort the already-filtered set in
	// place rather than adding a second repo query shape for one caller.
	sortByUpdatedAtDesc(rows)

	out := make([]ActivityEntry, 0, len(rows))
	for _, rv := range rows {
		count, err := s.messages.CountForReview(ctx, rv.ID)
		if err != nil {
			return opError("failed to count messages: %v", err)
		}
		entry := ActivityEntry{
			ReviewID:          rv.ID,
			Status:            rv.Status,
			Intent:            rv.Intent,
			Category:          rv.Category,
			Priority:          rv.Priority,
			MessageCount:      count,
			UpdatedAt:         isoTimestamp(rv.UpdatedAt),
			UpdatedAtRelative: humanize.Time(rv.UpdatedAt),
		}
		if last, err := s.messages.LastForReview(ctx, nil, rv.ID); err == nil && last != nil {
			preview := last.Body
			if len(preview) > 100 {
				preview = preview[:100]
			}
			entry.LastMessagePreview = preview
		}
		out = append(out, entry)
	}
	return GetActivityFeedResult{Activity: out}
}

func sortByUpdatedAtDesc(rows []*store.Review) {
	for i := 1; i < len(rows); i++ {
		j := i
		for j > 0 && rows[j-1].UpdatedAt.Before(rows[j].UpdatedAt) {
			rows[j-1], rows[j] = rows[j], rows[j-1]
			j--
		}
	}
}

// GetAuditLog returns the append-only audit event stream, optionally
// scoped to one review.
func (s *Service) GetAuditLog(ctx context.Context, args GetAuditLogArgs) any {
	events, err := s.audit.List(ctx, args.ReviewID)
	if err != nil {
		return opError("failed to load audit log: %v", err)
	}
	return GetAuditLogResult{Events: viewAuditEvents(events)}
}

// GetReviewTimeline returns the audit event stream scoped to one
// review.
func (s *Service) GetReviewTimeline(ctx context.Context, args GetReviewTimelineArgs) any {
	events, err := s.audit.Timeline(ctx, args.ReviewID)
	if err != nil {
		return opError("failed to load timeline: %v", err)
	}
	return GetReviewTimelineResult{ReviewID: args.ReviewID, Events: viewAuditEvents(events)}
}

func viewAuditEvents(events []*store.AuditEvent) []AuditEventView {
	out := make([]AuditEventView, 0, len(events))
	for _, ev := range events {
		out = append(out, AuditEventView{
			ID:        ev.ID,
			ReviewID:  ev.ReviewID,
			EventType: ev.EventType,
			Actor:     ev.Actor,
			OldStatus: ev.OldStatus,
			NewStatus: ev.NewStatus,
			Metadata:  ev.Metadata,
			CreatedAt: isoTimestamp(ev.CreatedAt),
		})
	}
	return out
}

// GetReviewStats returns aggregate counts and timing statistics across
// all reviews.
func (s *Service) GetReviewStats(ctx context.Context) any {
	stats, err := s.audit.ComputeStats(ctx)
	if err != nil {
		return opError("failed to compute stats: %v", err)
	}
	return GetReviewStatsResult{
		TotalReviews:        stats.TotalReviews,
		ByStatus:            stats.ByStatus,
		ByCategory:          stats.ByCategory,
		ApprovalRatePct:     stats.ApprovalRatePct,
		AvgSecondsToVerdict: stats.AvgSecondsToVerdict,
		AvgSecondsToClose:   stats.AvgSecondsToClose,
	}
}
