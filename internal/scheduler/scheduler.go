// Package scheduler runs slow reconciliation work off the primary loop and
// carries results back onto it. Scheduler owns a bounded worker pool; Loop
// is the single-goroutine primary loop that owns player-visible effects.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// JobState is the lifecycle state of one submitted unit of work.
type JobState string

const (
	JobEnqueued  JobState = "ENQUEUED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
)

// Job is a unit of work. A returned error marks the job FAILED; it is
// logged and dropped.
type Job = func(ctx context.Context) error

// Transition is reported to the observer each time a job changes state.
type Transition struct {
	JobID string
	Name  string
	State JobState
	Err   error
}

// Config controls the worker pool.
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration // 0 means no per-job deadline
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Queued    int   `json:"queued"`
}

type task struct {
	id   string
	name string
	fn   Job
}

// Scheduler executes jobs on a fixed set of worker goroutines. Submission
// never blocks: when the queue is full the job is rejected.
type Scheduler struct {
	cfg      Config
	tasks    chan task
	closed   atomic.Bool
	observer func(Transition)
	logger   *slog.Logger

	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a Scheduler. Workers do not start until Run is called; jobs
// submitted before that wait in the queue.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Scheduler{
		cfg:    cfg,
		tasks:  make(chan task, cfg.QueueSize),
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// SetObserver registers a callback for job transitions. It must be set
// before Run and must not block.
func (s *Scheduler) SetObserver(fn func(Transition)) {
	s.observer = fn
}

// RunAsync enqueues fn for execution on a worker and returns its job id.
// It returns domain.ErrQueueFull or domain.ErrSchedulerClosed without
// blocking when the job cannot be accepted.
func (s *Scheduler) RunAsync(name string, fn Job) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("scheduler: job %s: nil func", name)
	}
	if s.closed.Load() {
		s.rejected.Add(1)
		return "", domain.ErrSchedulerClosed
	}

	t := task{id: uuid.NewString(), name: name, fn: fn}
	// ENQUEUED is reported before the hand-off so a worker's RUNNING can
	// never precede it.
	s.transition(Transition{JobID: t.id, Name: name, State: JobEnqueued})
	select {
	case s.tasks <- t:
	default:
		s.rejected.Add(1)
		s.logger.Warn("job rejected, queue full",
			slog.String("job", name),
			slog.Int("queue_size", s.cfg.QueueSize),
		)
		s.transition(Transition{JobID: t.id, Name: name, State: JobFailed, Err: domain.ErrQueueFull})
		return "", domain.ErrQueueFull
	}

	s.enqueued.Add(1)
	return t.id, nil
}

// Run starts the workers and blocks until ctx is cancelled. Jobs still
// queued at that point are discarded.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Int("workers", s.cfg.Workers),
		slog.Int("queue_size", s.cfg.QueueSize),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case t := <-s.tasks:
					s.execute(gctx, t)
				}
			}
		})
	}
	_ = g.Wait()
	s.closed.Store(true)

	if dropped := len(s.tasks); dropped > 0 {
		s.logger.Warn("scheduler stopped with queued jobs", slog.Int("dropped", dropped))
	}
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) execute(ctx context.Context, t task) {
	s.transition(Transition{JobID: t.id, Name: t.name, State: JobRunning})

	jobCtx := ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = t.fn(jobCtx) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("job failed",
			slog.String("job", t.name),
			slog.String("job_id", t.id),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		s.transition(Transition{JobID: t.id, Name: t.name, State: JobFailed, Err: err})
		return
	}

	s.succeeded.Add(1)
	s.logger.Debug("job succeeded",
		slog.String("job", t.name),
		slog.String("job_id", t.id),
		slog.Duration("elapsed", time.Since(start)),
	)
	s.transition(Transition{JobID: t.id, Name: t.name, State: JobSucceeded})
}

func (s *Scheduler) transition(tr Transition) {
	if s.observer != nil {
		s.observer(tr)
	}
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Enqueued:  s.enqueued.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Rejected:  s.rejected.Load(),
		Queued:    len(s.tasks),
	}
}
