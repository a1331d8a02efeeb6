package reviewerpool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/reviewbroker/internal/notify"
	"github.com/user/reviewbroker/internal/statemachine"
	"github.com/user/reviewbroker/internal/store"
)

const periodicCheckInterval = 30 * time.Second
const terminateGrace = 10 * time.Second
const reactiveScaleRatio = 3 // pending:active > 3:1 triggers a spawn

// Manager owns every reviewer subprocess spawned by this broker
// session, and implements the broker.Pool / broker.ReviewerManager
// interfaces the tool surface calls into: a ticker-driven background
// loop cancellable via ctx, guarding a mutex-protected live-process map
// with a Start/Close lifecycle.
type Manager struct {
	cfg            *Config
	st             *store.Store
	reviews        *store.ReviewRepo
	reviewers      *store.ReviewerRepo
	audit          *store.AuditRepo
	bus            *notify.Bus
	promptTemplate string
	endpoint       string
	sessionToken   string
	workspace      string
	wslDistro      string
	logDir         string
	log            *slog.Logger

	mu        sync.Mutex
	processes map[string]*process // reviewer id -> live subprocess
	draining  map[string]bool

	counter int64 // display-name allocator, codex-r{n}

	spawnMu   sync.Mutex
	lastSpawn time.Time

	closed atomic.Bool
}

// NewManager constructs the pool manager. cfg may be nil (pooling
// disabled); callers must still check cfg before calling Run/
// TriggerScaleUp's internals, which all no-op cleanly on a nil cfg.
// logDir is the directory each spawned reviewer's <id>.jsonl session
// log is written under.
func NewManager(cfg *Config, st *store.Store, bus *notify.Bus, promptTemplate, endpoint, sessionToken, workspace, wslDistro, logDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	db := st.SQL()
	return &Manager{
		cfg:            cfg,
		st:             st,
		reviews:        store.NewReviewRepo(db),
		reviewers:      store.NewReviewerRepo(db),
		audit:          store.NewAuditRepo(db),
		bus:            bus,
		promptTemplate: promptTemplate,
		endpoint:       endpoint,
		sessionToken:   sessionToken,
		workspace:      workspace,
		wslDistro:      wslDistro,
		logDir:         logDir,
		log:            log,
		processes:      make(map[string]*process),
		draining:       make(map[string]bool),
	}
}

// Enabled reports whether the pool section was configured at all; its
// absence disables the pool cleanly.
func (m *Manager) Enabled() bool { return m != nil && m.cfg != nil }

// StartupRecovery runs the broker's two-step startup recovery: mark
// every prior-session reviewer row terminated, then reclaim every review
// still claimed by a reviewer outside this session's (empty, at
// start-up) live set.
func (m *Manager) StartupRecovery(ctx context.Context) error {
	if err := m.reviewers.MarkAllTerminatedExceptSession(ctx, m.sessionToken); err != nil {
		return fmt.Errorf("mark prior-session reviewers terminated: %w", err)
	}
	return m.ownershipSweep(ctx)
}

// ownershipSweep reclaims every claimed review whose claimed_by is not
// in the current live set. Used as startup recovery's second step; the
// periodic check reclaims by claim age instead (checkClaimTimeouts).
func (m *Manager) ownershipSweep(ctx context.Context) error {
	claimed, err := m.reviews.ListClaimed(ctx)
	if err != nil {
		return fmt.Errorf("list claimed reviews: %w", err)
	}
	for _, rv := range claimed {
		if m.isLive(rv.ClaimedBy) {
			continue
		}
		if err := m.reclaim(ctx, rv.ID); err != nil {
			m.log.Warn("ownership sweep reclaim failed", "review_id", rv.ID, "error", err)
		}
	}
	return nil
}

func (m *Manager) isLive(reviewerID string) bool {
	if strings.TrimSpace(reviewerID) == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processes[reviewerID]
	return ok && !m.draining[reviewerID]
}

// reclaim transitions a claimed->pending with fence increment inside
// the write mutex, records review_reclaimed, and notifies.
func (m *Manager) reclaim(ctx context.Context, reviewID string) error {
	var notified bool
	err := m.st.WithWriteLock(ctx, func(tx *sql.Tx) error {
		rv, err := m.reviews.Get(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if rv == nil || rv.Status != store.StatusClaimed {
			return nil
		}
		if err := statemachine.RequireTransition(rv.Status, store.StatusPending); err != nil {
			return nil
		}

		oldClaimedBy := rv.ClaimedBy
		rv.Status = store.StatusPending
		rv.ClaimedBy = ""
		rv.ClaimedAt = nil
		rv.ClaimGeneration++
		if err := m.reviews.Update(ctx, tx, rv); err != nil {
			return err
		}
		ev := &store.AuditEvent{
			ReviewID:  rv.ID,
			EventType: "review_reclaimed",
			Actor:     "pool_manager",
			OldStatus: store.StatusClaimed,
			NewStatus: store.StatusPending,
			Metadata:  fmt.Sprintf(`{"previous_claimed_by":%q}`, oldClaimedBy),
		}
		if err := m.audit.Insert(ctx, tx, ev); err != nil {
			return err
		}
		notified = true
		return nil
	})
	if err != nil {
		return err
	}
	if notified {
		m.bus.Notify(reviewID)
	}
	return nil
}

// Run drives the periodic background checks (idle timeout, TTL,
// claim-timeout reclaim, dead-process detection) until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	ticker := time.NewTicker(periodicCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.periodicCheck(ctx)
		}
	}
}

func (m *Manager) periodicCheck(ctx context.Context) {
	m.reapDeadProcesses(ctx)
	m.checkIdleAndTTL(ctx)
	m.checkClaimTimeouts(ctx)
}

func (m *Manager) reapDeadProcesses(ctx context.Context) {
	m.mu.Lock()
	var deadIDs []string
	for id, p := range m.processes {
		if exited, _ := p.exitedNow(); exited {
			deadIDs = append(deadIDs, id)
		}
	}
	m.mu.Unlock()

	for _, id := range deadIDs {
		m.finalizeTerminated(ctx, id)
	}
}

func (m *Manager) checkIdleAndTTL(ctx context.Context) {
	rows, err := m.reviewers.List(ctx)
	if err != nil {
		m.log.Warn("list reviewers for idle/ttl check failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, rv := range rows {
		if rv.Status != store.ReviewerActive {
			continue
		}
		if now.Sub(rv.SpawnedAt) > m.cfg.maxTTL() {
			m.startDrain(ctx, rv.ID)
			continue
		}
		last := rv.SpawnedAt
		if rv.LastActiveAt != nil {
			last = *rv.LastActiveAt
		}
		if now.Sub(last) > m.cfg.idleTimeout() {
			m.startDrain(ctx, rv.ID)
		}
	}
}

func (m *Manager) checkClaimTimeouts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.claimTimeout()).Unix()
	stale, err := m.reviews.ListClaimedStale(ctx, cutoff)
	if err != nil {
		m.log.Warn("list stale claims failed", "error", err)
		return
	}
	for _, rv := range stale {
		if err := m.reclaim(ctx, rv.ID); err != nil {
			m.log.Warn("claim-timeout reclaim failed", "review_id", rv.ID, "error", err)
		}
	}
}

// TriggerScaleUp implements broker.Pool: the reactive scale-up
// trigger, run on every create_review call. Runs in a goroutine so the caller
// (a tool-surface operation) never blocks on a subprocess spawn.
func (m *Manager) TriggerScaleUp(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	go func() {
		if err := m.maybeScaleUp(context.Background()); err != nil {
			m.log.Warn("reactive scale-up failed", "error", err)
		}
	}()
}

func (m *Manager) maybeScaleUp(ctx context.Context) error {
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()

	if time.Since(m.lastSpawn) < m.cfg.spawnCooldown() {
		return nil
	}

	m.mu.Lock()
	poolSize := len(m.processes)
	activeCount := 0
	for id := range m.processes {
		if !m.draining[id] {
			activeCount++
		}
	}
	m.mu.Unlock()

	if poolSize >= m.cfg.MaxPoolSize {
		return nil
	}

	pending, err := m.reviews.List(ctx, store.ReviewFilter{Status: store.StatusPending})
	if err != nil {
		return err
	}
	pendingCount := len(pending)

	if activeCount == 0 {
		if pendingCount == 0 {
			return nil
		}
	} else if pendingCount <= activeCount*reactiveScaleRatio {
		return nil
	}

	_, err = m.spawnLocked(ctx)
	return err
}

// SpawnOne implements broker.ReviewerManager's manual spawn_reviewer.
func (m *Manager) SpawnOne(ctx context.Context) (string, error) {
	if !m.Enabled() {
		return "", fmt.Errorf("reviewer pool is disabled")
	}
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()
	return m.spawnLocked(ctx)
}

// spawnLocked performs the actual spawn; callers must hold spawnMu.
func (m *Manager) spawnLocked(ctx context.Context) (string, error) {
	m.mu.Lock()
	if len(m.processes) >= m.cfg.MaxPoolSize {
		m.mu.Unlock()
		return "", fmt.Errorf("pool is at max_pool_size (%d)", m.cfg.MaxPoolSize)
	}
	n := atomic.AddInt64(&m.counter, 1)
	m.mu.Unlock()

	displayName := fmt.Sprintf("codex-r%d", n)
	id := displayName + "-" + m.sessionToken

	argv := buildArgv(m.cfg.Model, m.cfg.ReasoningEffort, m.workspace, m.wslDistro)
	prompt := RenderPrompt(m.promptTemplate, id, m.endpoint)
	logPath := filepath.Join(m.logDir, id+".jsonl")

	proc, err := spawnProcess(argv, m.workspace, prompt, logPath)
	if err != nil {
		return "", fmt.Errorf("spawn reviewer subprocess: %w", err)
	}

	rv := &store.Reviewer{
		ID:           id,
		DisplayName:  displayName,
		SessionToken: m.sessionToken,
		Status:       store.ReviewerActive,
		PID:          proc.pid(),
		SpawnedAt:    time.Now().UTC(),
	}

	err = m.st.WithWriteLock(ctx, func(tx *sql.Tx) error {
		if err := m.reviewers.Insert(ctx, tx, rv); err != nil {
			return err
		}
		ev := &store.AuditEvent{EventType: "reviewer_spawned", Actor: "pool_manager", Metadata: fmt.Sprintf(`{"reviewer_id":%q}`, id)}
		return m.audit.Insert(ctx, tx, ev)
	})
	if err != nil {
		// Record write failed: kill the subprocess to avoid an orphan.
		proc.terminate(ctx, terminateGrace)
		return "", fmt.Errorf("record spawned reviewer: %w", err)
	}

	m.mu.Lock()
	m.processes[id] = proc
	m.lastSpawn = time.Now()
	m.mu.Unlock()

	return id, nil
}

// Kill implements broker.ReviewerManager's manual kill_reviewer: only
// affects broker-spawned reviewer ids.
func (m *Manager) Kill(ctx context.Context, reviewerID string) error {
	m.mu.Lock()
	_, ok := m.processes[reviewerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("reviewer %s is not managed by this broker session", reviewerID)
	}
	m.startDrain(ctx, reviewerID)
	return nil
}

// startDrain flags a reviewer for draining and records
// reviewer_drain_start; if it has no claimed review it terminates
// immediately.
func (m *Manager) startDrain(ctx context.Context, reviewerID string) {
	m.mu.Lock()
	if m.draining[reviewerID] {
		m.mu.Unlock()
		return
	}
	m.draining[reviewerID] = true
	m.mu.Unlock()

	_ = m.recordPoolEvent(ctx, "reviewer_drain_start", reviewerID)

	if !m.hasOutstandingReview(ctx, reviewerID) {
		m.terminateNow(ctx, reviewerID)
	}
}

func (m *Manager) hasOutstandingReview(ctx context.Context, reviewerID string) bool {
	claimed, err := m.reviews.ListClaimed(ctx)
	if err != nil {
		return true // fail closed: don't kill a reviewer we can't verify is idle
	}
	for _, rv := range claimed {
		if rv.ClaimedBy == reviewerID {
			return true
		}
	}
	return false
}

// ReviewerFinishedVerdict implements broker.Pool: called after
// submit_verdict. If the reviewer was draining and has no further
// outstanding claim, it is terminated now rather than waiting for the
// next periodic check.
func (m *Manager) ReviewerFinishedVerdict(ctx context.Context, reviewerID string) {
	m.mu.Lock()
	draining := m.draining[reviewerID]
	m.mu.Unlock()
	if !draining {
		return
	}
	if !m.hasOutstandingReview(ctx, reviewerID) {
		m.terminateNow(ctx, reviewerID)
	}
}

func (m *Manager) terminateNow(ctx context.Context, reviewerID string) {
	m.mu.Lock()
	proc, ok := m.processes[reviewerID]
	m.mu.Unlock()
	if ok {
		proc.terminate(ctx, terminateGrace)
	}
	m.finalizeTerminated(ctx, reviewerID)
}

// finalizeTerminated updates the reviewer row to terminated with its
// exit code and records reviewer_terminated; safe to call more than
// once for the same id (the second call is a no-op update).
func (m *Manager) finalizeTerminated(ctx context.Context, reviewerID string) {
	m.mu.Lock()
	proc := m.processes[reviewerID]
	delete(m.processes, reviewerID)
	delete(m.draining, reviewerID)
	m.mu.Unlock()

	exitCode := 0
	if proc != nil {
		_, exitCode = proc.exitedNow()
	}

	rv, err := m.reviewers.Get(ctx, nil, reviewerID)
	if err != nil || rv == nil {
		return
	}
	if rv.Status == store.ReviewerTerminated {
		return
	}

	terminatedAt := time.Now().UTC()
	rv.Status = store.ReviewerTerminated
	rv.TerminatedAt = &terminatedAt
	code := exitCode
	rv.ExitCode = &code

	_ = m.st.WithWriteLock(ctx, func(tx *sql.Tx) error {
		if err := m.reviewers.Update(ctx, tx, rv); err != nil {
			return err
		}
		ev := &store.AuditEvent{EventType: "reviewer_terminated", Actor: "pool_manager", Metadata: fmt.Sprintf(`{"reviewer_id":%q,"exit_code":%d}`, reviewerID, exitCode)}
		return m.audit.Insert(ctx, tx, ev)
	})
}

func (m *Manager) recordPoolEvent(ctx context.Context, eventType, reviewerID string) error {
	return m.st.WithWriteLock(ctx, func(tx *sql.Tx) error {
		ev := &store.AuditEvent{EventType: eventType, Actor: "pool_manager", Metadata: fmt.Sprintf(`{"reviewer_id":%q}`, reviewerID)}
		return m.audit.Insert(ctx, tx, ev)
	})
}

// Shutdown drains and terminates every live reviewer with a bounded
// grace period.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.closed.Swap(true) {
		return
	}
	m.mu.Lock()
	ids := make([]string, 0, len(m.processes))
	for id := range m.processes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(reviewerID string) {
			defer wg.Done()
			m.terminateNow(ctx, reviewerID)
		}(id)
	}
	wg.Wait()
}
