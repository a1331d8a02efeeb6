package broker

import (
	"context"
	"time"
)

const defaultWaitTimeoutSeconds = 25.0
const maxWaitTimeoutSeconds = 29.0 // stays under the transport's 30s budget

// GetReviewStatus reads a review's current status, including its
// long-poll mode: when wait=true it blocks on the notification bus up
// to timeout_seconds before reading and returning current state.
func (s *Service) GetReviewStatus(ctx context.Context, args GetReviewStatusArgs) any {
	if args.Wait {
		timeout := defaultWaitTimeoutSeconds
		if args.TimeoutSeconds != nil {
			timeout = *args.TimeoutSeconds
		}
		if timeout > maxWaitTimeoutSeconds {
			timeout = maxWaitTimeoutSeconds
		}
		if timeout > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
			s.bus.Wait(waitCtx, args.ReviewID)
			cancel()
		}
	}

	rv, err := s.reviews.Get(ctx, nil, args.ReviewID)
	if err != nil {
		return opError("failed to load review: %v", err)
	}
	if rv == nil {
		return opError("review %s not found", args.ReviewID)
	}

	result := GetReviewStatusResult{
		ReviewID:        rv.ID,
		Status:          rv.Status,
		Priority:        rv.Priority,
		Category:        rv.Category,
		ClaimGeneration: rv.ClaimGeneration,
		CreatedAt:       isoTimestamp(rv.CreatedAt),
		UpdatedAt:       isoTimestamp(rv.UpdatedAt),
	}

	last, err := s.messages.LastForReview(ctx, nil, args.ReviewID)
	if err == nil && last != nil {
		preview := last.Body
		if len(preview) > 100 {
			preview = preview[:100]
		}
		result.LastMessagePreview = preview
	}
	return result
}
