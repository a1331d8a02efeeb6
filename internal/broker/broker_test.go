package broker

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/reviewbroker/internal/notify"
	"github.com/user/reviewbroker/internal/store"
)

const validDiff = `diff --git a/hello.txt b/hello.txt
--- a/hello.txt
+++ b/hello.txt
@@ -1 +1,2 @@
 line one
+line two
`

func newTestService(t *testing.T) *Service {
	t.Helper()
	_, svc := newTestServiceWithStore(t)
	return svc
}

func newTestServiceWithStore(t *testing.T) (*store.Store, *Service) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	runGit := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	runGit("init")
	runGit("config", "user.email", "test@example.com")
	runGit("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	runGit("add", "hello.txt")
	runGit("commit", "-m", "initial")

	st, err := store.Open(context.Background(), filepath.Join(dir, ".broker", "broker.db"), dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, New(st, notify.NewBus(), nil)
}

func asResult[T any](t *testing.T, v any) T {
	t.Helper()
	if env, ok := v.(ErrorEnvelope); ok {
		t.Fatalf("unexpected error envelope: %s", env.Error)
	}
	result, ok := v.(T)
	if !ok {
		t.Fatalf("unexpected result type %T: %+v", v, v)
	}
	return result
}

func TestHappyPathScenario(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "Add feature X", AgentType: "gsd-executor", AgentRole: "proposer",
		Phase: "3", Plan: "03-01", Task: "2", Category: "code_change",
	}))
	if created.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", created.Status)
	}

	listed := asResult[ListReviewsResult](t, s.ListReviews(ctx, ListReviewsArgs{Status: store.StatusPending}))
	found := false
	for _, r := range listed.Reviews {
		if r.ID == created.ReviewID {
			found = true
		}
	}
	if !found {
		t.Fatalf("created review not in pending list")
	}

	claimed := asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: "reviewer-1"}))
	if claimed.Status != store.StatusClaimed || claimed.ClaimGeneration != 1 {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	gen := 1
	verdict := asResult[SubmitVerdictResult](t, s.SubmitVerdict(ctx, SubmitVerdictArgs{
		ReviewID: created.ReviewID, Verdict: "approved", ClaimGeneration: &gen,
	}))
	if verdict.Status != store.StatusApproved {
		t.Fatalf("status = %s, want approved", verdict.Status)
	}

	closed := asResult[CloseReviewResult](t, s.CloseReview(ctx, CloseReviewArgs{ReviewID: created.ReviewID}))
	if closed.Status != store.StatusClosed {
		t.Fatalf("status = %s, want closed", closed.Status)
	}

	timeline := asResult[GetReviewTimelineResult](t, s.GetReviewTimeline(ctx, GetReviewTimelineArgs{ReviewID: created.ReviewID}))
	wantSeq := []string{"review_created", "review_claimed", "verdict_submitted", "review_closed"}
	if len(timeline.Events) != len(wantSeq) {
		t.Fatalf("event count = %d, want %d (%+v)", len(timeline.Events), len(wantSeq), timeline.Events)
	}
	for i, want := range wantSeq {
		if timeline.Events[i].EventType != want {
			t.Fatalf("event[%d] = %s, want %s", i, timeline.Events[i].EventType, want)
		}
	}
}

func TestRevisionCycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "initial", AgentType: "gsd-executor", AgentRole: "proposer", Phase: "1",
	}))

	asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: "r1"}))

	gen1 := 1
	cr := asResult[SubmitVerdictResult](t, s.SubmitVerdict(ctx, SubmitVerdictArgs{
		ReviewID: created.ReviewID, Verdict: "changes_requested", Reason: "rename variable X to Y", ClaimGeneration: &gen1,
	}))
	if cr.Status != store.StatusChangesRequested {
		t.Fatalf("status = %s, want changes_requested", cr.Status)
	}

	revised := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "initial", AgentType: "gsd-executor", AgentRole: "proposer", Phase: "1",
		ReviewID: created.ReviewID, Diff: validDiff,
	}))
	if revised.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending after revision", revised.Status)
	}

	proposal := asResult[GetProposalResult](t, s.GetProposal(ctx, GetProposalArgs{ReviewID: created.ReviewID}))
	if proposal.CurrentRound != 2 {
		t.Fatalf("current_round = %d, want 2", proposal.CurrentRound)
	}

	claim2 := asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: "r1"}))
	if claim2.ClaimGeneration != 2 {
		t.Fatalf("claim_generation = %d, want 2", claim2.ClaimGeneration)
	}
}

func TestFencedReclaimRejectsStaleVerdict(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "x", AgentType: "gsd-executor", AgentRole: "proposer", Phase: "1",
	}))
	asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: "reviewer-A"}))

	// Simulate the pool manager's claim-timeout reclaim: it transitions
	// claimed->pending and increments claim_generation.
	rv, err := s.reviews.Get(ctx, nil, created.ReviewID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rv.Status = store.StatusPending
	rv.ClaimGeneration++
	rv.ClaimedBy = ""
	if err := s.reviews.Update(ctx, nil, rv); err != nil {
		t.Fatalf("Update: %v", err)
	}

	staleGen := 1
	result := s.SubmitVerdict(ctx, SubmitVerdictArgs{ReviewID: created.ReviewID, Verdict: "approved", ClaimGeneration: &staleGen})
	if _, ok := result.(ErrorEnvelope); !ok {
		t.Fatalf("expected error envelope for stale verdict, got %+v", result)
	}

	claimB := asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: "reviewer-B"}))
	if claimB.ClaimGeneration != 3 {
		t.Fatalf("claim_generation = %d, want 3", claimB.ClaimGeneration)
	}
}

func TestCommentVerdictLeavesStatusUnchanged(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "x", AgentType: "gsd-executor", AgentRole: "proposer", Phase: "1",
	}))
	asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: "r1"}))

	result := asResult[SubmitVerdictResult](t, s.SubmitVerdict(ctx, SubmitVerdictArgs{
		ReviewID: created.ReviewID, Verdict: "comment", Reason: "question about helper",
	}))
	if result.Status != store.StatusClaimed {
		t.Fatalf("status = %s, want claimed (comment must not transition)", result.Status)
	}

	msg := asResult[AddMessageResult](t, s.AddMessage(ctx, AddMessageArgs{
		ReviewID: created.ReviewID, SenderRole: store.SenderProposer, Body: "here's the answer",
	}))
	if msg.Round != 1 {
		t.Fatalf("round = %d, want 1", msg.Round)
	}
}

func TestSubmitVerdictUpdatesReviewerStats(t *testing.T) {
	st, s := newTestServiceWithStore(t)
	ctx := context.Background()

	reviewers := store.NewReviewerRepo(st.SQL())
	reviewer := &store.Reviewer{
		ID: "codex-r1-sess1", DisplayName: "codex-r1", SessionToken: "sess1",
		Status: store.ReviewerActive, SpawnedAt: time.Now().UTC(),
	}
	if err := reviewers.Insert(ctx, nil, reviewer); err != nil {
		t.Fatalf("insert reviewer: %v", err)
	}

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "x", AgentType: "gsd-executor", AgentRole: "proposer", Phase: "1",
	}))
	asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: reviewer.ID}))
	asResult[SubmitVerdictResult](t, s.SubmitVerdict(ctx, SubmitVerdictArgs{
		ReviewID: created.ReviewID, Verdict: "approved",
	}))

	got, err := reviewers.Get(ctx, nil, reviewer.ID)
	if err != nil {
		t.Fatalf("get reviewer: %v", err)
	}
	if got.ReviewsCompleted != 1 {
		t.Fatalf("ReviewsCompleted = %d, want 1", got.ReviewsCompleted)
	}
	if got.Approvals != 1 || got.Rejections != 0 {
		t.Fatalf("Approvals/Rejections = %d/%d, want 1/0", got.Approvals, got.Rejections)
	}
}

func TestTurnAlternationRejectsConsecutiveSameSender(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "x", AgentType: "gsd-executor", AgentRole: "proposer", Phase: "1",
	}))

	asResult[AddMessageResult](t, s.AddMessage(ctx, AddMessageArgs{
		ReviewID: created.ReviewID, SenderRole: store.SenderProposer, Body: "first",
	}))

	result := s.AddMessage(ctx, AddMessageArgs{ReviewID: created.ReviewID, SenderRole: store.SenderProposer, Body: "second"})
	if _, ok := result.(ErrorEnvelope); !ok {
		t.Fatalf("expected turn-alternation error, got %+v", result)
	}

	ok := asResult[AddMessageResult](t, s.AddMessage(ctx, AddMessageArgs{
		ReviewID: created.ReviewID, SenderRole: store.SenderReviewer, Body: "reply",
	}))
	if ok.Round != 1 {
		t.Fatalf("round = %d, want 1", ok.Round)
	}
}

func TestCounterPatchAcceptPath(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "x", AgentType: "gsd-executor", AgentRole: "proposer", Phase: "1",
	}))
	asResult[ClaimReviewResult](t, s.ClaimReview(ctx, ClaimReviewArgs{ReviewID: created.ReviewID, ReviewerID: "r1"}))

	gen := 1
	asResult[SubmitVerdictResult](t, s.SubmitVerdict(ctx, SubmitVerdictArgs{
		ReviewID: created.ReviewID, Verdict: "changes_requested", Reason: "use this instead",
		CounterPatch: validDiff, ClaimGeneration: &gen,
	}))

	accepted := asResult[AcceptCounterPatchResult](t, s.AcceptCounterPatch(ctx, AcceptCounterPatchArgs{ReviewID: created.ReviewID}))
	if accepted.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", accepted.Status)
	}
	if accepted.Diff != validDiff {
		t.Fatalf("diff not replaced with counter-patch")
	}
	if accepted.CurrentRound != 2 {
		t.Fatalf("current_round = %d, want 2", accepted.CurrentRound)
	}
}

func TestGetReviewStatsApprovalRateNullWithNoVerdicts(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.CreateReview(ctx, CreateReviewArgs{Intent: "x", AgentType: "a", AgentRole: "proposer", Phase: "1"})

	stats := asResult[GetReviewStatsResult](t, s.GetReviewStats(ctx))
	if stats.ApprovalRatePct != nil {
		t.Fatalf("expected nil approval rate, got %v", *stats.ApprovalRatePct)
	}
	if stats.TotalReviews != 1 {
		t.Fatalf("total_reviews = %d, want 1", stats.TotalReviews)
	}
}

func TestDispatchUnknownOperation(t *testing.T) {
	s := newTestService(t)
	_, err := s.Dispatch(context.Background(), "not_a_real_op", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected error for unknown operation")
	}
}

func TestDispatchRoundTripsCreateReview(t *testing.T) {
	s := newTestService(t)
	raw := json.RawMessage(`{"intent":"x","agent_type":"a","agent_role":"proposer","phase":"1"}`)
	out, err := s.Dispatch(context.Background(), "create_review", raw)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	var result CreateReviewResult
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", result.Status)
	}
}

func TestDiffRoundTripThroughCreateAndGetProposal(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created := asResult[CreateReviewResult](t, s.CreateReview(ctx, CreateReviewArgs{
		Intent: "x", AgentType: "a", AgentRole: "proposer", Phase: "1", Diff: validDiff,
	}))

	proposal := asResult[GetProposalResult](t, s.GetProposal(ctx, GetProposalArgs{ReviewID: created.ReviewID}))
	if proposal.Diff != validDiff {
		t.Fatalf("diff round-trip mismatch")
	}
	if proposal.AffectedFiles == "[]" || proposal.AffectedFiles == "" {
		t.Fatalf("expected non-empty affected_files, got %q", proposal.AffectedFiles)
	}
}
