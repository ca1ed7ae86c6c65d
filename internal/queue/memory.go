package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/baijum/kanakku-sub001/internal/model"
)

// MemoryQueue implements Queue in process memory with visibility-timeout
// redelivery. It backs tests and single-process deployments where a
// broker is not available; it is not durable across restarts.
type MemoryQueue struct {
	jobs    chan model.Job
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// NewMemoryQueue creates a queue whose deliveries become visible again
// after the given timeout unless acknowledged first.
func NewMemoryQueue(timeout time.Duration) *MemoryQueue {
	return &MemoryQueue{
		jobs:    make(chan model.Job, 1024),
		timeout: timeout,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return nil, fmt.Errorf("queue is closed")
		}
		d := &memoryDelivery{queue: q, job: job, settled: make(chan struct{})}
		go d.watch(q.timeout)
		return d, nil
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

// Len returns the number of jobs currently visible in the queue.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

type memoryDelivery struct {
	queue   *MemoryQueue
	job     model.Job
	settled chan struct{}
	once    sync.Once
}

func (d *memoryDelivery) Job() model.Job { return d.job }

func (d *memoryDelivery) Ack() error {
	d.once.Do(func() { close(d.settled) })
	return nil
}

func (d *memoryDelivery) Requeue() error {
	var err error
	d.once.Do(func() {
		close(d.settled)
		err = d.queue.Enqueue(context.Background(), d.job)
	})
	return err
}

// watch redelivers the job when the visibility timeout elapses without an
// Ack or Requeue, simulating a consumer presumed dead.
func (d *memoryDelivery) watch(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d.settled:
	case <-timer.C:
		d.Requeue()
	}
}
