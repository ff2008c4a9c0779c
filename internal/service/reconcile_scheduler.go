package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
)

const defaultReconcileSchedule = "@every 15m"

type reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconcileReport, error)
}

// ReconcileScheduler runs counter reconciliation on a cron schedule. Runs
// never overlap.
type ReconcileScheduler struct {
	reconciler reconciler
	schedule   string
	timeout    time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewReconcileScheduler constructs a scheduler. An empty schedule falls back
// to every fifteen minutes.
func NewReconcileScheduler(r reconciler, schedule string, timeout time.Duration, logger *zap.Logger) *ReconcileScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = defaultReconcileSchedule
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ReconcileScheduler{reconciler: r, schedule: schedule, timeout: timeout, logger: logger}
}

// Start registers the job and starts the cron loop.
func (s *ReconcileScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.schedule, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("reconcile scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the cron loop and waits for a running job until ctx expires.
func (s *ReconcileScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("reconcile job still running at shutdown")
	}
}

// RunOnce executes a single reconciliation bounded by the configured timeout.
func (s *ReconcileScheduler) RunOnce(ctx context.Context) (*models.ReconcileReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logger.Error("reconcile run failed", zap.Error(err))
		return nil, err
	}
	s.logger.Info("reconcile run finished",
		zap.Int("checked", report.Checked),
		zap.Int("corrections", len(report.Corrections)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}
