package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner executes a single task. *Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, task string) (*Result, error)
}

// Scheduler bounds how many runs execute at once across sessions. Each run
// is still strictly sequential internally.
type Scheduler struct {
	runner  Runner
	mu      sync.RWMutex
	running map[string]*Task
	pool    chan struct{} // semaphore-based pool
	logger  *zap.Logger
}

// NewScheduler creates a scheduler allowing poolSize concurrent runs.
func NewScheduler(runner Runner, poolSize int, logger *zap.Logger) *Scheduler {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Scheduler{
		runner:  runner,
		running: make(map[string]*Task),
		pool:    make(chan struct{}, poolSize),
		logger:  logger,
	}
}

// Submit waits for a free slot and runs input to completion. Waiting for a
// slot respects ctx.
func (s *Scheduler) Submit(ctx context.Context, sessionID, input string) (*Result, error) {
	task := &Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Input:     input,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}

	select {
	case s.pool <- struct{}{}: // acquire slot
	case <-ctx.Done():
		task.Status = TaskCancelled
		return nil, ctx.Err()
	}
	defer func() { <-s.pool }() // release slot

	now := time.Now()
	task.StartedAt = &now
	task.Status = TaskRunning
	s.mu.Lock()
	s.running[task.ID] = task
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()
	}()

	s.logger.Info("executing task",
		zap.String("task", task.ID),
		zap.String("session", sessionID))

	res, err := s.runner.Run(ctx, input)

	done := time.Now()
	s.mu.Lock()
	task.CompletedAt = &done
	switch {
	case err == nil:
		task.Status = TaskDone
	case errors.Is(err, context.Canceled):
		task.Status = TaskCancelled
	default:
		task.Status = TaskFailed
	}
	s.mu.Unlock()

	return res, err
}

// Running returns a snapshot of the tasks currently executing, oldest first.
func (s *Scheduler) Running() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0, len(s.running))
	for _, t := range s.running {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks
}
