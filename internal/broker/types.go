package broker

// Request/result shapes for every tool-surface operation. Field names
// match the wire protocol's JSON keys; the transport layer decodes
// directly into these.

type CreateReviewArgs struct {
	Intent             string `json:"intent"`
	AgentType          string `json:"agent_type"`
	AgentRole          string `json:"agent_role"`
	Phase              string `json:"phase"`
	Plan               string `json:"plan,omitempty"`
	Task               string `json:"task,omitempty"`
	Description        string `json:"description,omitempty"`
	Diff               string `json:"diff,omitempty"`
	Category           string `json:"category,omitempty"`
	ReviewID           string `json:"review_id,omitempty"`
	SkipDiffValidation bool   `json:"skip_diff_validation,omitempty"`
}

type CreateReviewResult struct {
	ReviewID string `json:"review_id"`
	Status   string `json:"status"`
}

type ListReviewsArgs struct {
	Status   string `json:"status,omitempty"`
	Category string `json:"category,omitempty"`
}

type ReviewSummary struct {
	ID              string `json:"review_id"`
	Status          string `json:"status"`
	Intent          string `json:"intent"`
	Category        string `json:"category"`
	Priority        string `json:"priority"`
	ClaimedBy       string `json:"claimed_by,omitempty"`
	ClaimGeneration int    `json:"claim_generation"`
	CurrentRound    int    `json:"current_round"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type ListReviewsResult struct {
	Reviews []ReviewSummary `json:"reviews"`
}

type ClaimReviewArgs struct {
	ReviewID   string `json:"review_id"`
	ReviewerID string `json:"reviewer_id"`
}

type ClaimReviewResult struct {
	Status          string `json:"status"`
	Intent          string `json:"intent"`
	Description     string `json:"description"`
	AffectedFiles   string `json:"affected_files"`
	Category        string `json:"category"`
	ClaimGeneration int    `json:"claim_generation"`
	HasDiff         bool   `json:"has_diff"`
}

type GetProposalArgs struct {
	ReviewID string `json:"review_id"`
}

type GetProposalResult struct {
	ReviewID      string `json:"review_id"`
	Status        string `json:"status"`
	Intent        string `json:"intent"`
	Description   string `json:"description"`
	Diff          string `json:"diff"`
	AffectedFiles string `json:"affected_files"`
	Category      string `json:"category"`
	Priority      string `json:"priority"`
	CurrentRound  int    `json:"current_round"`
}

type SubmitVerdictArgs struct {
	ReviewID        string `json:"review_id"`
	Verdict         string `json:"verdict"`
	Reason          string `json:"reason,omitempty"`
	CounterPatch    string `json:"counter_patch,omitempty"`
	ReviewerID      string `json:"reviewer_id,omitempty"`
	ClaimGeneration *int   `json:"claim_generation,omitempty"`
}

type SubmitVerdictResult struct {
	Status string `json:"status"`
}

type AcceptCounterPatchArgs struct {
	ReviewID string `json:"review_id"`
}

type AcceptCounterPatchResult struct {
	Status        string `json:"status"`
	Diff          string `json:"diff"`
	AffectedFiles string `json:"affected_files"`
	CurrentRound  int    `json:"current_round"`
}

type RejectCounterPatchArgs struct {
	ReviewID string `json:"review_id"`
}

type RejectCounterPatchResult struct {
	Status string `json:"status"`
}

type AddMessageArgs struct {
	ReviewID   string `json:"review_id"`
	SenderRole string `json:"sender_role"`
	Body       string `json:"body"`
	Metadata   string `json:"metadata,omitempty"`
}

type AddMessageResult struct {
	MessageID string `json:"message_id"`
	Round     int    `json:"round"`
}

type GetDiscussionArgs struct {
	ReviewID string `json:"review_id"`
	Round    int    `json:"round,omitempty"`
}

type MessageView struct {
	ID         string `json:"message_id"`
	SenderRole string `json:"sender_role"`
	Round      int    `json:"round"`
	Body       string `json:"body"`
	Metadata   string `json:"metadata,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type GetDiscussionResult struct {
	Messages []MessageView `json:"messages"`
}

type CloseReviewArgs struct {
	ReviewID string `json:"review_id"`
}

type CloseReviewResult struct {
	Status string `json:"status"`
}

type GetReviewStatusArgs struct {
	ReviewID       string   `json:"review_id"`
	Wait           bool     `json:"wait,omitempty"`
	TimeoutSeconds *float64 `json:"timeout_seconds,omitempty"`
}

type GetReviewStatusResult struct {
	ReviewID           string `json:"review_id"`
	Status             string `json:"status"`
	Priority           string `json:"priority"`
	Category           string `json:"category"`
	ClaimGeneration    int    `json:"claim_generation"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
}

type GetActivityFeedArgs struct {
	Status   string `json:"status,omitempty"`
	Category string `json:"category,omitempty"`
}

type ActivityEntry struct {
	ReviewID           string `json:"review_id"`
	Status             string `json:"status"`
	Intent             string `json:"intent"`
	Category           string `json:"category"`
	Priority           string `json:"priority"`
	MessageCount       int    `json:"message_count"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
	UpdatedAt          string `json:"updated_at"`
	UpdatedAtRelative  string `json:"updated_at_relative"`
}

type GetActivityFeedResult struct {
	Activity []ActivityEntry `json:"activity"`
}

type GetAuditLogArgs struct {
	ReviewID string `json:"review_id,omitempty"`
}

type AuditEventView struct {
	ID        int64  `json:"id"`
	ReviewID  string `json:"review_id,omitempty"`
	EventType string `json:"event_type"`
	Actor     string `json:"actor"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt string `json:"created_at"`
}

type GetAuditLogResult struct {
	Events []AuditEventView `json:"events"`
}

type GetReviewStatsResult struct {
	TotalReviews        int            `json:"total_reviews"`
	ByStatus            map[string]int `json:"by_status"`
	ByCategory          map[string]int `json:"by_category"`
	ApprovalRatePct     *float64       `json:"approval_rate_pct"`
	AvgSecondsToVerdict *float64       `json:"avg_seconds_to_verdict"`
	AvgSecondsToClose   *float64       `json:"avg_seconds_to_close"`
}

type GetReviewTimelineArgs struct {
	ReviewID string `json:"review_id"`
}

type GetReviewTimelineResult struct {
	ReviewID string           `json:"review_id"`
	Events   []AuditEventView `json:"events"`
}

type SpawnReviewerResult struct {
	ReviewerID string `json:"reviewer_id"`
}

type KillReviewerArgs struct {
	ReviewerID string `json:"reviewer_id"`
}

type KillReviewerResult struct {
	Status string `json:"status"`
}

type ReviewerView struct {
	ID                 string  `json:"reviewer_id"`
	DisplayName        string  `json:"display_name"`
	Status             string  `json:"status"`
	PID                int     `json:"pid"`
	SpawnedAt          string  `json:"spawned_at"`
	LastActiveAt       string  `json:"last_active_at,omitempty"`
	ReviewsCompleted   int     `json:"reviews_completed"`
	TotalReviewSeconds float64 `json:"total_review_seconds"`
	Approvals          int     `json:"approvals"`
	Rejections         int     `json:"rejections"`
}

type ListReviewersResult struct {
	Reviewers []ReviewerView `json:"reviewers"`
}

// ErrorEnvelope is the wire shape for every domain-level failure (spec
// §4.4, §7): never an exception, always this object.
type ErrorEnvelope struct {
	Error string `json:"error"`
}
