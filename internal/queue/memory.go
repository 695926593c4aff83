package queue

import (
	"context"
	"sync"

	"github.com/tendant/simple-photos/internal/domain"
)

// Memory is an unbounded in-process Queue.
type Memory struct {
	mu     sync.Mutex
	jobs   []domain.Job
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *Memory) Enqueue(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Memory) Dequeue(ctx context.Context) (domain.Job, error) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs[0] = domain.Job{}
			q.jobs = q.jobs[1:]
			more := len(q.jobs) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return domain.Job{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return domain.Job{}, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Close stops new enqueues. Jobs already queued are still handed out.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Len is the number of jobs waiting.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Memory) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
