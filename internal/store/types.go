package store

import "time"

// Review statuses.
const (
	StatusPending          = "pending"
	StatusClaimed          = "claimed"
	StatusInReview         = "in_review"
	StatusApproved         = "approved"
	StatusChangesRequested = "changes_requested"
	StatusClosed           = "closed"
)

// Priority levels.
const (
	PriorityCritical = "critical"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)

// Counter-patch statuses.
const (
	CounterPatchPending  = "pending"
	CounterPatchAccepted = "accepted"
	CounterPatchRejected = "rejected"
)

// Message sender roles.
const (
	SenderProposer = "proposer"
	SenderReviewer = "reviewer"
)

// Reviewer subprocess statuses.
const (
	ReviewerActive     = "active"
	ReviewerDraining   = "draining"
	ReviewerTerminated = "terminated"
)

// Review is the central entity: a proposer's request for review, its
// lifecycle state, and its verdict/claim bookkeeping.
type Review struct {
	ID            string
	Status        string
	Intent        string
	Description   string
	Diff          string
	AffectedFiles string // derived JSON list of {path, operation, added, removed}

	AgentType string
	AgentRole string
	Phase     string
	Plan      string
	Task      string

	Category string
	Priority string

	ClaimedBy       string
	ClaimedAt       *time.Time
	ClaimGeneration int

	VerdictReason string
	CurrentRound  int

	CounterPatch       string
	CounterPatchStatus string // "", pending, accepted, rejected

	ParentID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a review's discussion thread.
type Message struct {
	ID         string
	ReviewID   string
	SenderRole string
	Round      int
	Body       string
	Metadata   string // JSON, may be "{}"
	CreatedAt  time.Time
}

// AuditEvent is one append-only row in the broker's event stream.
type AuditEvent struct {
	ID        int64
	ReviewID  string // may be empty for broker-level events
	EventType string
	Actor     string
	OldStatus string
	NewStatus string
	Metadata  string // JSON, may be "{}"
	CreatedAt time.Time
}

// Reviewer is a broker-managed subprocess row.
type Reviewer struct {
	ID           string
	DisplayName  string
	SessionToken string
	Status       string
	PID          int
	SpawnedAt    time.Time
	LastActiveAt *time.Time
	TerminatedAt *time.Time
	ExitCode     *int

	ReviewsCompleted   int
	TotalReviewSeconds float64
	Approvals          int
	Rejections         int
}

// ReviewFilter narrows list_reviews/get_activity_feed queries.
type ReviewFilter struct {
	Status   string
	Category string
}
