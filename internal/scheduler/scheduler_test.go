package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	states map[string][]JobState
}

func (r *recorder) observe(tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = map[string][]JobState{}
	}
	r.states[tr.JobID] = append(r.states[tr.JobID], tr.State)
}

func (r *recorder) get(id string) []JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]JobState(nil), r.states[id]...)
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestScheduler_JobStates(t *testing.T) {
	s := New(Config{Workers: 2, QueueSize: 8}, discardLogger())
	rec := &recorder{}
	s.SetObserver(rec.observe)
	startScheduler(t, s)

	okID, err := s.RunAsync("ok", func(context.Context) error { return nil })
	require.NoError(t, err)
	failID, err := s.RunAsync("fail", func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)
	panicID, err := s.RunAsync("panic", func(context.Context) error { panic("kaboom") })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.Succeeded == 1 && st.Failed == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []JobState{JobEnqueued, JobRunning, JobSucceeded}, rec.get(okID))
	assert.Equal(t, []JobState{JobEnqueued, JobRunning, JobFailed}, rec.get(failID))
	assert.Equal(t, []JobState{JobEnqueued, JobRunning, JobFailed}, rec.get(panicID))
}

func TestScheduler_RunAsyncDoesNotBlockWhenFull(t *testing.T) {
	// Not started: nothing drains the queue.
	s := New(Config{Workers: 1, QueueSize: 1}, discardLogger())

	_, err := s.RunAsync("first", func(context.Context) error { return nil })
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunAsync("second", func(context.Context) error { return nil })
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("RunAsync blocked on a full queue")
	}
	assert.Equal(t, int64(1), s.Stats().Rejected)
}

func TestScheduler_EnqueuedAlwaysFirst(t *testing.T) {
	const jobs = 500
	s := New(Config{Workers: 8, QueueSize: jobs}, discardLogger())
	rec := &recorder{}
	s.SetObserver(rec.observe)
	startScheduler(t, s)

	ids := make([]string, 0, jobs)
	for i := 0; i < jobs; i++ {
		id, err := s.RunAsync("noop", func(context.Context) error { return nil })
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Eventually(t, func() bool { return s.Stats().Succeeded == jobs }, 5*time.Second, 5*time.Millisecond)

	for _, id := range ids {
		assert.Equal(t, []JobState{JobEnqueued, JobRunning, JobSucceeded}, rec.get(id), "job %s", id)
	}
}

func TestScheduler_RejectedJobEndsFailed(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 1}, discardLogger())
	var mu sync.Mutex
	var rejected []Transition
	s.SetObserver(func(tr Transition) {
		if tr.Name != "second" {
			return
		}
		mu.Lock()
		rejected = append(rejected, tr)
		mu.Unlock()
	})

	_, err := s.RunAsync("first", func(context.Context) error { return nil })
	require.NoError(t, err)
	_, err = s.RunAsync("second", func(context.Context) error { return nil })
	require.ErrorIs(t, err, domain.ErrQueueFull)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, rejected, 2)
	assert.Equal(t, JobEnqueued, rejected[0].State)
	assert.Equal(t, JobFailed, rejected[1].State)
	assert.ErrorIs(t, rejected[1].Err, domain.ErrQueueFull)
	assert.Equal(t, int64(1), s.Stats().Enqueued)
}

func TestScheduler_RejectsAfterShutdown(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 4}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := s.RunAsync("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrSchedulerClosed)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 4, JobTimeout: 20 * time.Millisecond}, discardLogger())
	startScheduler(t, s)

	_, err := s.RunAsync("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Stats().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestLoop_StepOnceRunsInOrder(t *testing.T) {
	l := NewLoop(20, 8, discardLogger())
	var got []int
	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Post(func() { panic("ignored") }))

	assert.Equal(t, 4, l.StepOnce())
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, l.StepOnce())
}

func TestLoop_PostFullInbox(t *testing.T) {
	l := NewLoop(20, 1, discardLogger())
	require.NoError(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Post(func() {}), domain.ErrQueueFull)
}

func TestLoop_RunExecutesOnTick(t *testing.T) {
	l := NewLoop(100, 8, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	ran := make(chan struct{})
	require.NoError(t, l.Post(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted work never ran")
	}
}
