package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatedRunner struct {
	gate    chan struct{}
	active  atomic.Int32
	maxSeen atomic.Int32
	err     error
}

func (g *gatedRunner) Run(ctx context.Context, task string) (*Result, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		cur := g.maxSeen.Load()
		if n <= cur || g.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &Result{FinalText: "done: " + task}, nil
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	runner := &gatedRunner{gate: make(chan struct{})}
	s := NewScheduler(runner, 2, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Submit(context.Background(), "session", "task")
			assert.NoError(t, err)
			assert.Equal(t, "done: task", res.FinalText)
		}()
	}

	require.Eventually(t, func() bool { return len(s.Running()) == 2 }, time.Second, 5*time.Millisecond)
	for _, task := range s.Running() {
		assert.Equal(t, TaskRunning, task.Status)
		assert.Equal(t, "session", task.SessionID)
	}

	close(runner.gate)
	wg.Wait()

	assert.LessOrEqual(t, runner.maxSeen.Load(), int32(2))
	assert.Empty(t, s.Running())
}

func TestSchedulerSubmitRespectsContextWhileQueued(t *testing.T) {
	runner := &gatedRunner{gate: make(chan struct{})}
	s := NewScheduler(runner, 1, zap.NewNop())

	go func() { _, _ = s.Submit(context.Background(), "a", "hold") }()
	require.Eventually(t, func() bool { return len(s.Running()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Submit(ctx, "b", "queued")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(runner.gate)
}

func TestSchedulerPropagatesRunErrors(t *testing.T) {
	boom := errors.New("boom")
	runner := &gatedRunner{gate: make(chan struct{}), err: boom}
	close(runner.gate)
	s := NewScheduler(runner, 0, zap.NewNop())

	_, err := s.Submit(context.Background(), "a", "task")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Running())
}
