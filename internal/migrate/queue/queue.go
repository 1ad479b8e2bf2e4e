// Package queue implements the bounded-concurrency priority task queue
// used internally by the database applier to parallelize index
// synchronization (spec §4.8, §10.3). The concurrency ceiling is
// enforced with the same semaphore-channel idiom the engine's reference
// consumer uses; pending work is ordered by a small priority heap.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/outpostdb/migrator/internal/migrate/migrateerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/outpostdb/migrator/internal/migrate/queue")

// Task is one unit of work submitted to the queue.
type Task struct {
	ID       string
	Priority int
	Timeout  time.Duration
	Run      func(ctx context.Context) error
	// OnComplete, when set, receives the task's final error: nil on
	// success, the run error after any queue-level retries, or
	// migrateerr.ErrQueueCleared if the task was discarded by Clear.
	OnComplete func(err error)
}

// Stats summarizes the queue's current counters.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
}

type item struct {
	task     Task
	seq      int
	attempts int
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO tie-break
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue runs submitted tasks with a fixed concurrency ceiling.
type Queue struct {
	maxConcurrent int
	retryAttempts int
	retryDelay    time.Duration

	mu      sync.Mutex
	pending priorityHeap
	nextSeq int
	stats   Stats
	sem     chan struct{}
	wg      sync.WaitGroup
}

// Option configures a new Queue.
type Option func(*Queue)

// WithRetry re-enqueues failed non-timeout tasks after delay, up to
// attempts times per task.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(q *Queue) {
		q.retryAttempts = attempts
		q.retryDelay = delay
	}
}

// New returns a queue allowing up to maxConcurrent tasks to run at once.
func New(maxConcurrent int, opts ...Option) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	q := &Queue{
		maxConcurrent: maxConcurrent,
		sem:           make(chan struct{}, maxConcurrent),
	}
	for _, opt := range opts {
		opt(q)
	}
	heap.Init(&q.pending)
	return q
}

// Submit enqueues a task and starts it as soon as a slot is free.
func (q *Queue) Submit(t Task) {
	q.enqueue(&item{task: t})
}

func (q *Queue) enqueue(it *item) {
	q.mu.Lock()
	it.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.pending, it)
	q.stats.Pending++
	q.mu.Unlock()

	q.wg.Add(1)
	go q.pump()
}

func (q *Queue) pump() {
	defer q.wg.Done()

	q.sem <- struct{}{}
	defer func() { <-q.sem }()

	q.mu.Lock()
	if q.pending.Len() == 0 {
		q.mu.Unlock()
		return
	}
	it := heap.Pop(&q.pending).(*item)
	q.stats.Pending--
	q.stats.Running++
	q.mu.Unlock()

	err := q.runTask(it)

	q.mu.Lock()
	q.stats.Running--
	if err == nil {
		q.stats.Completed++
		q.mu.Unlock()
		if it.task.OnComplete != nil {
			it.task.OnComplete(nil)
		}
		return
	}

	timedOut := errors.Is(err, migrateerr.ErrTimeout)
	if q.retryAttempts > 0 && !timedOut && it.attempts < q.retryAttempts {
		it.attempts++
		q.mu.Unlock()
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			time.Sleep(q.retryDelay)
			q.enqueue(it)
		}()
		return
	}

	q.stats.Failed++
	q.mu.Unlock()
	if it.task.OnComplete != nil {
		it.task.OnComplete(err)
	}
}

func (q *Queue) runTask(it *item) error {
	ctx, span := tracer.Start(context.Background(), "migrate.queue.task",
		trace.WithAttributes(
			attribute.String("task.id", it.task.ID),
			attribute.Int("task.priority", it.task.Priority),
			attribute.Int("task.attempts", it.attempts),
		))
	defer span.End()

	var cancel context.CancelFunc
	if it.task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, it.task.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- it.task.Run(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = migrateerr.New(migrateerr.KindTimeout, "task "+it.task.ID+" timed out")
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// GetStats returns a snapshot of the queue's counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Drain blocks until every submitted task has completed or failed.
func (q *Queue) Drain() {
	q.wg.Wait()
}

// Clear rejects all pending tasks with migrateerr.ErrQueueCleared and
// leaves running tasks to finish.
func (q *Queue) Clear() {
	q.mu.Lock()
	cleared := make([]*item, len(q.pending))
	copy(cleared, q.pending)
	q.pending = q.pending[:0]
	q.stats.Failed += len(cleared)
	q.stats.Pending -= len(cleared)
	q.mu.Unlock()

	for _, it := range cleared {
		if it.task.OnComplete != nil {
			it.task.OnComplete(migrateerr.ErrQueueCleared)
		}
	}
}
