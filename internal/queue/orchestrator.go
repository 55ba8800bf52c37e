package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/masahif/adtrail/internal/metrics"
	"github.com/masahif/adtrail/internal/models"
)

const (
	DefaultPollInterval = time.Second
	DefaultStaleTimeout = 10 * time.Minute
)

// Options tunes the orchestrator's polling.
type Options struct {
	PollInterval time.Duration
	// StaleTimeout is how long a processing job may go without a heartbeat
	// (claim, progress or log write) before it is considered abandoned and
	// queued again.
	StaleTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Orchestrator runs the registered stages on a broker and chains their
// output from one queue to the next.
type Orchestrator struct {
	broker Broker
	stages map[string]Stage
	order  []string
	opts   Options
}

// NewOrchestrator registers stages. Stage names must be unique and every
// Next must name a registered stage.
func NewOrchestrator(broker Broker, stages []Stage, opts Options) (*Orchestrator, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = DefaultStaleTimeout
	}

	o := &Orchestrator{
		broker: broker,
		stages: make(map[string]Stage, len(stages)),
		opts:   opts,
	}
	for _, s := range stages {
		if s.Name == "" || s.run == nil {
			return nil, fmt.Errorf("stage %q is not defined", s.Name)
		}
		if _, dup := o.stages[s.Name]; dup {
			return nil, fmt.Errorf("stage %q registered twice", s.Name)
		}
		o.stages[s.Name] = s
		o.order = append(o.order, s.Name)
	}
	for _, s := range stages {
		if s.Next == "" {
			continue
		}
		if _, ok := o.stages[s.Next]; !ok {
			return nil, fmt.Errorf("stage %q feeds %q: %w", s.Name, s.Next, ErrUnknownQueue)
		}
	}
	return o, nil
}

// Queues returns the registered queue names in registration order.
func (o *Orchestrator) Queues() []string {
	return append([]string(nil), o.order...)
}

// Submit validates payload against the queue's input type and enqueues it.
// An invalid payload returns a *models.ValidationError and nothing is
// enqueued.
func (o *Orchestrator) Submit(ctx context.Context, queue string, payload []byte) (string, error) {
	stage, ok := o.stages[queue]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if _, err := stage.decode(payload); err != nil {
		return "", err
	}

	id, err := o.broker.Enqueue(ctx, queue, payload, stage.EnqueueOptions())
	if err != nil {
		return "", err
	}
	slog.Info("Job submitted", "queue", queue, "job_id", id)
	return id, nil
}

// ProcessNext claims and runs one job from queue. It reports false when no
// job was due.
func (o *Orchestrator) ProcessNext(ctx context.Context, queue string) (bool, error) {
	stage, ok := o.stages[queue]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	job, err := o.broker.Claim(ctx, queue)
	if err != nil || job == nil {
		return false, err
	}

	start := time.Now()
	jc := newJobContext(ctx, o.broker, job)
	jc.logger.Debug("Job started", "attempt", job.Attempts, "max_attempts", job.MaxAttempts)

	result, next, runErr := o.execute(ctx, stage, jc)
	o.opts.Metrics.ObserveJob(queue, time.Since(start))

	// Bookkeeping survives shutdown so a finished job is not run twice.
	bctx := context.WithoutCancel(ctx)

	if runErr == nil {
		followUps := make([]FollowUp, 0, len(next))
		if stage.Next != "" {
			opts := o.stages[stage.Next].EnqueueOptions()
			for _, payload := range next {
				followUps = append(followUps, FollowUp{Queue: stage.Next, Payload: payload, Options: opts})
			}
		}
		if err := o.broker.Complete(bctx, job.ID, result, followUps...); err != nil {
			return true, fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		o.opts.Metrics.IncJob(queue, "completed")
		jc.logger.Info("Job completed", "follow_ups", len(followUps), "duration", time.Since(start))
		return true, nil
	}

	if ctx.Err() != nil {
		// Left processing; stale recovery queues it again.
		jc.logger.Warn("Job interrupted", "error", runErr)
		return true, ctx.Err()
	}

	var verr *models.ValidationError
	permanent := IsPermanent(runErr) || errors.As(runErr, &verr)
	requeued, err := o.broker.Fail(bctx, job.ID, runErr, permanent)
	if err != nil {
		return true, fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}
	if requeued {
		o.opts.Metrics.IncJob(queue, "retried")
		jc.logger.Warn("Job failed, will retry", "attempt", job.Attempts, "backoff", job.Backoff, "error", runErr)
	} else {
		o.opts.Metrics.IncJob(queue, "failed")
		jc.logger.Error("Job failed", "attempt", job.Attempts, "permanent", permanent, "error", runErr)
	}
	return true, nil
}

func (o *Orchestrator) execute(ctx context.Context, stage Stage, jc *JobContext) (result []byte, next [][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	in, err := stage.decode(jc.Job.Payload)
	if err != nil {
		return nil, nil, err
	}
	return stage.run(ctx, jc, in)
}

// Run starts every stage's workers and blocks until ctx is cancelled.
// Stale jobs are queued again on startup and then periodically.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.recoverStale(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, name := range o.order {
		stage := o.stages[name]
		slog.Info("Starting workers", "queue", name, "concurrency", stage.Concurrency)
		for i := 0; i < stage.Concurrency; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				o.worker(ctx, name, id)
			}(i)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.housekeeper(ctx)
	}()

	wg.Wait()
	slog.Info("Orchestrator stopped")
	return nil
}

func (o *Orchestrator) worker(ctx context.Context, queue string, id int) {
	slog.Debug("Worker started", "queue", queue, "worker_id", id)
	defer slog.Debug("Worker stopped", "queue", queue, "worker_id", id)

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := o.ProcessNext(ctx, queue)
		if err != nil && ctx.Err() == nil {
			slog.Error("Worker failed to process job", "queue", queue, "worker_id", id, "error", err)
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.opts.PollInterval):
		}
	}
}

// housekeeper re-queues stale jobs and refreshes the queue gauges.
func (o *Orchestrator) housekeeper(ctx context.Context) {
	ticker := time.NewTicker(o.sweepInterval())
	defer ticker.Stop()

	for {
		o.reportCounts(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.recoverStale(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Failed to requeue stale jobs", "error", err)
			}
		}
	}
}

func (o *Orchestrator) sweepInterval() time.Duration {
	interval := o.opts.StaleTimeout / 2
	if interval < o.opts.PollInterval {
		interval = o.opts.PollInterval
	}
	return interval
}

func (o *Orchestrator) recoverStale(ctx context.Context) error {
	n, err := o.broker.RequeueStale(ctx, o.opts.StaleTimeout)
	if err != nil {
		return fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	if n > 0 {
		slog.Warn("Requeued stale jobs", "count", n)
	}
	return nil
}

func (o *Orchestrator) reportCounts(ctx context.Context) {
	if o.opts.Metrics == nil {
		return
	}
	counts, err := o.broker.Counts(ctx)
	if err != nil {
		slog.Debug("Failed to read queue counts", "error", err)
		return
	}

	seen := make(map[[2]string]bool, len(counts))
	for _, c := range counts {
		o.opts.Metrics.SetQueueJobs(c.Queue, string(c.Status), c.Count)
		seen[[2]string{c.Queue, string(c.Status)}] = true
	}
	for _, q := range o.order {
		for _, s := range []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed} {
			if !seen[[2]string{q, string(s)}] {
				o.opts.Metrics.SetQueueJobs(q, string(s), 0)
			}
		}
	}
}

// Drain processes jobs until no registered queue has queued or processing
// work left. Jobs waiting out a backoff are waited for, and jobs left in
// processing by a dead worker are queued again once they go stale.
func (o *Orchestrator) Drain(ctx context.Context) error {
	if err := o.recoverStale(ctx); err != nil {
		return err
	}
	for {
		progressed := false
		for _, name := range o.order {
			processed, err := o.ProcessNext(ctx, name)
			if err != nil {
				return err
			}
			progressed = progressed || processed
		}
		if progressed {
			continue
		}

		pending, err := o.pending(ctx)
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		if err := o.recoverStale(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.opts.PollInterval):
		}
	}
}

func (o *Orchestrator) pending(ctx context.Context) (int, error) {
	counts, err := o.broker.Counts(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range counts {
		if _, ok := o.stages[c.Queue]; !ok {
			continue
		}
		if c.Status == StatusQueued || c.Status == StatusProcessing {
			n += c.Count
		}
	}
	return n, nil
}
