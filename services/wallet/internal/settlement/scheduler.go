package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AfshinJalili/goinvest/libs/trace"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/codes"
)

const (
	JobReconcile = "reconcile"
	JobMature    = "mature"
	JobPlans     = "plans"
)

type Task func(ctx context.Context) error

type SchedulerMetrics interface {
	ObserveSchedulerRun(job, status string, latency time.Duration)
}

// Scheduler runs named sweeps on cron specs. Overlapping runs of the same
// job are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics SchedulerMetrics
	timeout time.Duration

	mu    sync.Mutex
	tasks map[string]Task
}

func NewScheduler(logger *slog.Logger, metrics SchedulerMetrics, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		tasks:   map[string]Task{},
	}
}

// Register adds a job. spec uses the standard five-field cron syntax or a
// descriptor such as "@every 1m".
func (s *Scheduler) Register(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.run(ctx, name, task)
	}); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.tasks[name] = task
	return nil
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, name, task)
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "jobs", len(s.tasks))
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) error {
	ctx, span := trace.Start(ctx, "job."+name)
	defer span.End()

	start := time.Now()
	err := task(ctx)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("scheduled job failed", "job", name, "error", err)
	} else {
		s.logger.Debug("scheduled job finished", "job", name, "latency", time.Since(start))
	}
	if s.metrics != nil {
		s.metrics.ObserveSchedulerRun(name, status, time.Since(start))
	}
	return err
}
