package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNotSettled tells the worker the external side has no final answer yet.
// The job is retried after the poll interval.
var ErrNotSettled = errors.New("not settled")

type Handler func(ctx context.Context, job Job) error

type WorkerMetrics interface {
	ObserveJob(kind, status string)
}

type WorkerOptions struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 5 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	return o
}

type Worker struct {
	queue    Queue
	handlers map[string]Handler
	opts     WorkerOptions
	logger   *slog.Logger
	metrics  WorkerMetrics
	now      func() time.Time
}

func NewWorker(queue Queue, opts WorkerOptions, logger *slog.Logger, metrics WorkerMetrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		handlers: map[string]Handler{},
		opts:     opts.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (w *Worker) Handle(kind string, h Handler) {
	w.handlers[kind] = h
}

// RunOnce claims and processes every job due now. It returns the number of
// jobs processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now()
	jobs, err := w.queue.ClaimDue(ctx, now, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, job, now)
	}
	return len(jobs), nil
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Warn("settlement poll failed", "error", err)
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job, now time.Time) {
	h, ok := w.handlers[job.Kind]
	if !ok {
		w.logger.Error("no handler for settlement job", "kind", job.Kind, "job_id", job.ID)
		w.observe(job.Kind, "unhandled")
		return
	}

	err := h(ctx, job)
	if err == nil {
		w.observe(job.Kind, "done")
		return
	}

	job.Attempt++
	if job.Attempt >= w.opts.MaxAttempts {
		w.logger.Error("settlement job abandoned",
			"kind", job.Kind, "job_id", job.ID, "transaction_id", job.TransactionID,
			"attempts", job.Attempt, "error", err)
		w.observe(job.Kind, "abandoned")
		return
	}

	status := "retry"
	delay := w.backoff(job.Attempt)
	if errors.Is(err, ErrNotSettled) {
		status = "pending"
		delay = w.opts.BaseBackoff
	} else {
		w.logger.Warn("settlement job failed", "kind", job.Kind, "job_id", job.ID, "attempt", job.Attempt, "error", err)
	}
	job.RunAt = now.Add(delay)
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Error("requeue settlement job failed", "kind", job.Kind, "job_id", job.ID, "error", err)
		status = "lost"
	}
	w.observe(job.Kind, status)
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.opts.MaxBackoff {
			return w.opts.MaxBackoff
		}
	}
	return d
}

func (w *Worker) observe(kind, status string) {
	if w.metrics != nil {
		w.metrics.ObserveJob(kind, status)
	}
}
