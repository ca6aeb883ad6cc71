// Package queue implements the admission queue and its single worker.
//
// Enqueue never blocks and is safe from any number of goroutines. One worker
// drains jobs in strict FIFO order, so at most one resolution and download is
// in flight system-wide.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/observability"
)

// Queue is an unbounded FIFO of pending jobs.
type Queue struct {
	mu     sync.Mutex
	items  []*domain.Job
	notify chan struct{}

	inFlight atomic.Int32
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends job and returns its 1-based position, counting the job in
// flight (if any) as position 1.
func (q *Queue) Enqueue(job *domain.Job) int {
	q.mu.Lock()
	q.items = append(q.items, job)
	n := len(q.items)
	q.mu.Unlock()

	observability.QueueDepth.Set(float64(n))
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return n + int(q.inFlight.Load())
}

// Dequeue blocks until a job is available or ctx is done. The returned job is
// counted as in flight until Done is called.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			n := len(q.items)
			q.inFlight.Add(1)
			q.mu.Unlock()
			observability.QueueDepth.Set(float64(n))
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Done marks the job returned by the last Dequeue as finished.
func (q *Queue) Done() {
	q.inFlight.Add(-1)
}

// Pending is the number of jobs waiting (not counting the one in flight).
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight is the number of dequeued jobs not yet finished (0 or 1).
func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}

// NextPosition is the position a job enqueued now would get.
func (q *Queue) NextPosition() int {
	return q.Pending() + q.InFlight() + 1
}
