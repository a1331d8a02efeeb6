package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/user/reviewbroker/internal/broker"
)

const (
	dashboardHeartbeatInterval = 2 * time.Second
	dashboardUpdateInterval    = 15 * time.Second
)

// overview is the payload for both GET /dashboard/api/overview and
// the SSE stream's overview_update events.
type overview struct {
	Reviews   []broker.ReviewSummary      `json:"reviews"`
	Reviewers []broker.ReviewerView       `json:"reviewers"`
	Stats     broker.GetReviewStatsResult `json:"stats"`
}

func (rt *router) buildOverview(ctx context.Context) (*overview, error) {
	reviewsRaw, err := rt.svc.Dispatch(ctx, "list_reviews", nil)
	if err != nil {
		return nil, fmt.Errorf("list_reviews: %w", err)
	}
	var reviewsResult broker.ListReviewsResult
	if err := json.Unmarshal(reviewsRaw, &reviewsResult); err != nil {
		return nil, fmt.Errorf("decode list_reviews: %w", err)
	}

	reviewersRaw, err := rt.svc.Dispatch(ctx, "list_reviewers", nil)
	if err != nil {
		return nil, fmt.Errorf("list_reviewers: %w", err)
	}
	var reviewersResult broker.ListReviewersResult
	if err := json.Unmarshal(reviewersRaw, &reviewersResult); err != nil {
		return nil, fmt.Errorf("decode list_reviewers: %w", err)
	}

	statsRaw, err := rt.svc.Dispatch(ctx, "get_review_stats", nil)
	if err != nil {
		return nil, fmt.Errorf("get_review_stats: %w", err)
	}
	var stats broker.GetReviewStatsResult
	if err := json.Unmarshal(statsRaw, &stats); err != nil {
		return nil, fmt.Errorf("decode get_review_stats: %w", err)
	}

	return &overview{
		Reviews:   reviewsResult.Reviews,
		Reviewers: reviewersResult.Reviewers,
		Stats:     stats,
	}, nil
}

// handleOverview implements GET /dashboard/api/overview. Read-only:
// it only ever calls read operations on the dispatcher.
func (rt *router) handleOverview(w http.ResponseWriter, r *http.Request) {
	data, err := rt.buildOverview(r.Context())
	if err != nil {
		rt.log.Warn("dashboard overview failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to build overview")
		return
	}
	jsonResponse(w, http.StatusOK, data)
}

// handleEvents implements GET /dashboard/events: a heartbeat comment
// every ~2s and an overview_update event every ~15s.
func (rt *router) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	rt.writeOverviewEvent(ctx, w, flusher)

	heartbeat := time.NewTicker(dashboardHeartbeatInterval)
	defer heartbeat.Stop()
	update := time.NewTicker(dashboardUpdateInterval)
	defer update.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-update.C:
			if !rt.writeOverviewEvent(ctx, w, flusher) {
				return
			}
		}
	}
}

func (rt *router) writeOverviewEvent(ctx context.Context, w http.ResponseWriter, flusher http.Flusher) bool {
	data, err := rt.buildOverview(ctx)
	if err != nil {
		rt.log.Warn("dashboard sse overview failed", "error", err)
		return true
	}
	payload, err := json.Marshal(data)
	if err != nil {
		rt.log.Warn("dashboard sse marshal failed", "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "event: overview_update\ndata: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
