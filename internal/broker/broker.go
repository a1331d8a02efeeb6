// Package broker implements the review broker's tool surface: the
// named operations exposed to the proposer and reviewer agents, wired
// on top of the store, state machine, diff validator, and notification
// bus. Shaped as a set of named operations with structured
// args/results, akin to an orchestrator's tool registry, but using
// typed request/result structs per operation rather than
// map[string]any payloads, since this broker's wire protocol is fixed
// rather than model-tool-call-driven.
package broker

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/user/reviewbroker/internal/diffvalidate"
	"github.com/user/reviewbroker/internal/notify"
	"github.com/user/reviewbroker/internal/store"
)

// Pool is the subset of the reviewer pool manager the broker needs to
// trigger from within tool-surface operations. Declared here, not in
// internal/reviewerpool, to keep the dependency direction pointing from
// the pool manager toward the broker's primitives, not the reverse;
// the concrete *reviewerpool.Manager is wired in after both are
// constructed, via AttachPool.
type Pool interface {
	// TriggerScaleUp re-evaluates the reactive scale-up trigger after a
	// review is created. Must not block the caller.
	TriggerScaleUp(ctx context.Context)
	// ReviewerFinishedVerdict lets the pool retire a draining reviewer
	// with no further outstanding claims.
	ReviewerFinishedVerdict(ctx context.Context, reviewerID string)
}

// noopPool is used until AttachPool is called, so a broker built
// before the pool exists, or with pooling disabled entirely, never
// needs a nil check at every call site.
type noopPool struct{}

func (noopPool) TriggerScaleUp(context.Context)                  {}
func (noopPool) ReviewerFinishedVerdict(context.Context, string) {}

// Service implements every tool-surface operation.
type Service struct {
	store           *store.Store
	reviews         *store.ReviewRepo
	messages        *store.MessageRepo
	audit           *store.AuditRepo
	reviewers       *store.ReviewerRepo
	bus             *notify.Bus
	pool            Pool
	reviewerManager ReviewerManager
	log             *slog.Logger
}

// New wires a Service over an already-opened Store and Bus.
func New(st *store.Store, bus *notify.Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	db := st.SQL()
	return &Service{
		store:     st,
		reviews:   store.NewReviewRepo(db),
		messages:  store.NewMessageRepo(db),
		audit:     store.NewAuditRepo(db),
		reviewers: store.NewReviewerRepo(db),
		bus:       bus,
		pool:      noopPool{},
		log:       log,
	}
}

// AttachPool wires the reviewer pool manager once it has been
// constructed over the same store and bus; see cmd/broker for the
// wiring order.
func (s *Service) AttachPool(p Pool) {
	if p == nil {
		p = noopPool{}
	}
	s.pool = p
}

// validateDiffIfPresent runs diffvalidate.Validate unless the diff is
// empty or the caller opted out via skip_diff_validation, honored only
// at create/revise time: claim_review always re-validates.
func (s *Service) validateDiffIfPresent(ctx context.Context, diff string, skip bool) (bool, string, error) {
	if diff == "" || skip {
		return true, "", nil
	}
	root, ok := s.store.RepoRoot()
	if !ok {
		return false, "repository root could not be discovered at startup; diff validation is unavailable", nil
	}
	return diffvalidate.Validate(ctx, diff, root)
}

func (s *Service) recordAudit(ctx context.Context, tx *sql.Tx, reviewID, eventType, actor, oldStatus, newStatus, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	ev := &store.AuditEvent{
		ReviewID:  reviewID,
		EventType: eventType,
		Actor:     actor,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Metadata:  metadata,
	}
	return s.audit.Insert(ctx, tx, ev)
}

func isInReviewCapable(status string) bool {
	return status == store.StatusClaimed || status == store.StatusInReview
}

// now is the single time source for broker-level timestamps, kept as a
// var (not a direct time.Now call) so tests can substitute it; default
// is the real clock.
var now = func() time.Time { return time.Now().UTC() }
