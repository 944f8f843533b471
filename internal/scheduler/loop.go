package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// Loop is the primary loop. Work posted from any goroutine is collected
// and executed in order on the loop goroutine once per tick, so callers
// never touch player-visible state concurrently.
type Loop struct {
	interval time.Duration
	inbox    chan func()
	stop     chan struct{}
	logger   *slog.Logger
}

// NewLoop creates a Loop that ticks tickRateHz times per second and buffers
// up to queue posted units of work between ticks.
func NewLoop(tickRateHz, queue int, logger *slog.Logger) *Loop {
	if tickRateHz <= 0 {
		tickRateHz = 20
	}
	if queue <= 0 {
		queue = 1024
	}
	return &Loop{
		interval: time.Second / time.Duration(tickRateHz),
		inbox:    make(chan func(), queue),
		stop:     make(chan struct{}),
		logger:   logger.With(slog.String("component", "primary_loop")),
	}
}

// Post queues fn for the next tick. It never blocks; when the inbox is full
// the work is dropped and domain.ErrQueueFull is returned.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	select {
	case l.inbox <- fn:
		return nil
	default:
		l.logger.Warn("primary loop inbox full, dropping work")
		return domain.ErrQueueFull
	}
}

// Run drives the loop until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var pending []func()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.inbox:
			pending = append(pending, fn)
		case <-ticker.C:
			l.runAll(pending)
			pending = pending[:0]
		}
	}
}

// Stop ends Run. It must be called at most once.
func (l *Loop) Stop() { close(l.stop) }

// StepOnce executes everything currently in the inbox on the calling
// goroutine and returns how many units ran. It is intended for tests and
// must not be used while Run is active.
func (l *Loop) StepOnce() int {
	var pending []func()
	for {
		select {
		case fn := <-l.inbox:
			pending = append(pending, fn)
		default:
			l.runAll(pending)
			return len(pending)
		}
	}
}

func (l *Loop) runAll(pending []func()) {
	for _, fn := range pending {
		var pc panics.Catcher
		pc.Try(fn)
		if r := pc.Recovered(); r != nil {
			l.logger.Error("primary loop task panicked", slog.String("error", r.AsError().Error()))
		}
	}
}
