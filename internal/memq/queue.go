package memq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fedutinova/retinascan/internal/job"
	"github.com/google/uuid"
)

type JobHandler func(ctx context.Context, j *job.Job) error

type JobQueue interface {
	Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (*job.Job, bool)
	StartConsumers(ctx context.Context, n int, handler JobHandler)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats is a snapshot of queue depth.
type Stats struct {
	Backend     string `json:"backend"`
	Waiting     int64  `json:"waiting"`
	InFlight    int64  `json:"in_flight"`
	DeadLetters int64  `json:"dead_letters"`
}

// Dispatch routes each job to the handler registered for its type.
func Dispatch(handlers map[job.Type]JobHandler) JobHandler {
	return func(ctx context.Context, j *job.Job) error {
		h, ok := handlers[j.Type]
		if !ok {
			return fmt.Errorf("no handler for job type %q", j.Type)
		}
		return h(ctx, j)
	}
}

type memQueue struct {
	buf     chan *job.Job
	maxWait time.Duration
	running atomic.Int64

	mu   sync.RWMutex
	jobs map[uuid.UUID]*job.Job
	wg   sync.WaitGroup
}

func NewMemoryQueue(buffer int, maxJobDuration time.Duration) JobQueue {
	return &memQueue{
		buf:     make(chan *job.Job, buffer),
		maxWait: maxJobDuration,
		jobs:    make(map[uuid.UUID]*job.Job, buffer),
	}
}

func (q *memQueue) Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = job.StatusQueued
	j.Enqueued = time.Now()

	// register before sending so a fast consumer never updates an unknown job
	q.mu.Lock()
	q.jobs[j.ID] = j
	q.mu.Unlock()

	select {
	case q.buf <- j:
		slog.Debug("job enqueued", "job_id", j.ID, "type", j.Type)
		return j.ID, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.jobs, j.ID)
		q.mu.Unlock()
		return uuid.Nil, ctx.Err()
	}
}

// Status returns a snapshot of the job.
func (q *memQueue) Status(ctx context.Context, id uuid.UUID) (*job.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

func (q *memQueue) StartConsumers(ctx context.Context, n int, handler JobHandler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-q.buf:
					q.run(ctx, j, handler, workerID)
				}
			}
		}(i + 1)
	}
}

func (q *memQueue) run(ctx context.Context, j *job.Job, handler JobHandler, workerID int) {
	now := time.Now()
	q.mu.Lock()
	j.Status = job.StatusRunning
	j.Started = &now
	work := j.Clone()
	q.mu.Unlock()

	q.running.Add(1)
	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	err := handler(runCtx, work)
	cancel()
	q.running.Add(-1)

	fin := time.Now()
	q.mu.Lock()
	j.Finished = &fin
	if err != nil {
		j.Status = job.StatusFailed
		j.Error = err.Error()
	} else {
		j.Status = job.StatusSucceeded
	}
	q.mu.Unlock()

	if err != nil {
		slog.Error("job failed", "id", j.ID, "type", j.Type, "err", err, "worker", workerID)
		return
	}
	slog.Info("job done", "id", j.ID, "type", j.Type, "worker", workerID, "duration", fin.Sub(now))
}

func (q *memQueue) Stats(context.Context) (Stats, error) {
	return Stats{
		Backend:  "memory",
		Waiting:  int64(len(q.buf)),
		InFlight: q.running.Load(),
	}, nil
}

// Close waits for consumers to exit; cancel the context passed to
// StartConsumers first.
func (q *memQueue) Close() error {
	q.wg.Wait()
	return nil
}
