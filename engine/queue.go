package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/g2link/pkg"
)

// job is one unit of work for the engine worker.
type job struct {
	name string
	ctx  context.Context // nil for device events
	run  func(ctx context.Context)
	fail func(err error)

	claimed atomic.Bool
}

// claim marks the job as decided: either started by the worker or failed
// by its caller's cancellation. Only the first claim succeeds.
func (j *job) claim() bool {
	return j.claimed.CompareAndSwap(false, true)
}

// queue is an unbounded FIFO of jobs. Pushing never blocks, so the session
// I/O goroutine can queue device events.
type queue struct {
	mu     sync.Mutex
	jobs   []*job
	ready  chan struct{} // one token while jobs is non-empty
	closed bool
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

// push appends j. It fails with pkg.ErrNotConnected once the queue is closed.
func (q *queue) push(j *job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return pkg.ErrNotConnected
	}
	q.jobs = append(q.jobs, j)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the oldest job, blocking until one is queued or ctx is done.
func (q *queue) pop(ctx context.Context) (*job, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			if len(q.jobs) > 0 {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close rejects further pushes and fails every queued job with err.
func (q *queue) close(err error) {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.closed = true
	q.mu.Unlock()

	for _, j := range jobs {
		if j.fail != nil && j.claim() {
			j.fail(err)
		}
	}
}

// len returns the number of queued jobs.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
