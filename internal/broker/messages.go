package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/user/reviewbroker/internal/store"
)

// AddMessage appends a discussion-thread turn, enforcing strict
// global turn alternation against the last inserted row for the review.
func (s *Service) AddMessage(ctx context.Context, args AddMessageArgs) any {
	if strings.TrimSpace(args.ReviewID) == "" || strings.TrimSpace(args.Body) == "" {
		return opError("review_id and body are required")
	}
	if args.SenderRole != store.SenderProposer && args.SenderRole != store.SenderReviewer {
		return opError("sender_role must be proposer or reviewer")
	}
	metadata := args.Metadata
	if metadata == "" {
		metadata = "{}"
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

		last, err := s.messages.LastForReview(ctx, tx, args.ReviewID)
		if err != nil {
			return err
		}
		if last != nil && last.SenderRole == args.SenderRole {
			result = opError("turn alternation violated: last message was also from %s", args.SenderRole)
			return nil
		}

		m := &store.Message{
			ID:         store.NewID(),
			ReviewID:   args.ReviewID,
			SenderRole: args.SenderRole,
			Round:      rv.CurrentRound,
			Body:       args.Body,
			Metadata:   metadata,
			CreatedAt:  now(),
		}
		if err := s.messages.Insert(ctx, tx, m); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, rv.ID, "message_sent", args.SenderRole, rv.Status, rv.Status, messagePreviewMeta(args.Body, m.Round)); err != nil {
			return err
		}

		result = AddMessageResult{MessageID: m.ID, Round: m.Round}
		return nil
	})
	if err != nil {
		return opError("failed to add message: %v", err)
	}
	s.bus.Notify(args.ReviewID)
	return result
}

func messagePreviewMeta(body string, round int) string {
	preview := body
	if len(preview) > 100 {
		preview = preview[:100]
	}
	buf, err := json.Marshal(struct {
		Preview string `json:"preview"`
		Round   int    `json:"round"`
	}{Preview: preview, Round: round})
	if err != nil {
		return "{}"
	}
	return string(buf)
}

// GetDiscussion returns the discussion thread, optionally filtered to
// one round.
func (s *Service) GetDiscussion(ctx context.Context, args GetDiscussionArgs) any {
	msgs, err := s.messages.ListForReview(ctx, args.ReviewID, args.Round)
	if err != nil {
		return opError("failed to load discussion: %v", err)
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{
			ID:         m.ID,
			SenderRole: m.SenderRole,
			Round:      m.Round,
			Body:       m.Body,
			Metadata:   m.Metadata,
			CreatedAt:  isoTimestamp(m.CreatedAt),
		})
	}
	return GetDiscussionResult{Messages: out}
}
