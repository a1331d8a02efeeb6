// Command broker starts the local review broker: a single-tenant
// coordination service mediating code-review hand-offs between a
// proposer and reviewer agent over loopback HTTP. Wiring follows a
// conventional service main: load config, open storage, construct the
// domain services, wire background loops, start the transport, and
// drain everything on signal-triggered shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/user/reviewbroker/internal/broker"
	"github.com/user/reviewbroker/internal/config"
	"github.com/user/reviewbroker/internal/notify"
	"github.com/user/reviewbroker/internal/reviewerpool"
	"github.com/user/reviewbroker/internal/store"
	"github.com/user/reviewbroker/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.DBPath, cfg.ProjectPath)
	if err != nil {
		log.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	bus := notify.NewBus()
	svc := broker.New(st, bus, log)

	pool, err := wireReviewerPool(cfg, st, bus, log)
	if err != nil {
		log.Error("failed to initialize reviewer pool", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		svc.AttachPool(pool)
		svc.AttachReviewerManager(pool)
		if err := pool.StartupRecovery(ctx); err != nil {
			log.Error("reviewer pool startup recovery failed", "error", err)
			os.Exit(1)
		}
		go pool.Run(ctx)
	}

	handler := transport.NewRouter(svc, log)
	srv := transport.New(cfg.Host, cfg.Port, handler, log)

	log.Info("review broker starting",
		"host", cfg.Host, "port", cfg.Port,
		"project", cfg.ProjectPath, "session_token", cfg.SessionToken,
		"pool_enabled", pool != nil,
	)

	if err := srv.Start(ctx); err != nil {
		log.Error("transport error", "error", err)
		if pool != nil {
			pool.Shutdown(context.Background())
		}
		os.Exit(1)
	}

	if pool != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		pool.Shutdown(shutdownCtx)
	}

	log.Info("review broker stopped")
}

// wireReviewerPool loads the pool config and prompt template and
// constructs the manager; a missing pool config file disables pooling
// cleanly, returning a nil *reviewerpool.Manager.
func wireReviewerPool(cfg *config.Config, st *store.Store, bus *notify.Bus, log *slog.Logger) (*reviewerpool.Manager, error) {
	poolCfg, err := reviewerpool.LoadConfig(cfg.PoolConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load pool config: %w", err)
	}
	if poolCfg == nil {
		log.Info("reviewer pool disabled: no pool config file found", "path", cfg.PoolConfigPath)
		return nil, nil
	}

	endpoint := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	promptTemplate, err := reviewerpool.LoadPromptTemplate(cfg.PromptTemplatePath, endpoint)
	if err != nil {
		return nil, fmt.Errorf("load reviewer prompt template: %w", err)
	}

	logDir := filepath.Join(cfg.ConfigDir, "logs", "reviewers")
	mgr := reviewerpool.NewManager(poolCfg, st, bus, promptTemplate, endpoint, cfg.SessionToken, cfg.ProjectPath, cfg.WSLDistro, logDir, log)
	return mgr, nil
}

// newLogger builds the broker's structured logger: a human-readable
// slog.TextHandler on stdout, fanned out to a JSONL file under the
// project's broker log directory so the session transcript stays
// machine-parseable. A single slog.Default is installed in main.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	logDir := filepath.Join(cfg.ConfigDir, "logs", "broker")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create broker log directory: %w", err)
	}
	logPath := filepath.Join(logDir, cfg.SessionToken+".jsonl")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open broker log file %s: %w", logPath, err)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	handler := fanoutHandler{
		slog.NewTextHandler(os.Stdout, opts),
		slog.NewJSONHandler(f, opts),
	}
	logger := slog.New(handler)

	closeFn := func() {
		_ = f.Close()
	}
	return logger, closeFn, nil
}

// fanoutHandler dispatches every record to each of its handlers,
// letting stdout stay human-readable text while the session file stays
// JSONL. The embedded errors.Join mirrors log/slog's own preference for
// reporting every sink's failure rather than the first.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
