// Package jobqueue carries ingestion jobs from the API to the worker pool.
package jobqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

// ErrClosed is returned once a queue has been closed.
var ErrClosed = errors.New("job queue closed")

// MemoryQueue is a bounded in-process queue. Jobs are lost on restart.
type MemoryQueue struct {
	jobs      chan core.Job
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{jobs: make(chan core.Job, capacity), done: make(chan struct{})}
}

var _ core.JobQueue = (*MemoryQueue)(nil)

// Enqueue blocks while the queue is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, job core.Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (core.Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return core.Job{}, ErrClosed
	case <-ctx.Done():
		return core.Job{}, ctx.Err()
	}
}

// Len reports the number of waiting jobs.
func (q *MemoryQueue) Len() int { return len(q.jobs) }

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
