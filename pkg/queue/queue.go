// Package queue is the bounded work queue behind the dispatcher: fixed
// worker concurrency, per-task timeout, retry with linear backoff, and
// retry-priority ordering (a retried task jumps the head so it runs before
// anything enqueued after its first failure).
package queue

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

var (
	// ErrQueueFull is returned by Enqueue when the depth bound is reached.
	ErrQueueFull = errors.New("queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("queue stopped")
)

// Task is one unit of work. It must respect ctx cancellation.
type Task func(ctx context.T) error

// Config tunes the queue.
type Config struct {
	// Workers is the number of concurrent task runners (default 10).
	Workers int
	// MaxSize bounds the pending deque (default 10000).
	MaxSize int
	// TaskTimeout bounds one attempt (default 60s).
	TaskTimeout time.Duration
	// RetryAttempts is the total attempts per task (default 3).
	RetryAttempts int
	// RetryDelay is multiplied by the attempt number between retries
	// (default 2s).
	RetryDelay time.Duration
}

type item struct {
	id       int64
	run      Task
	attempts int
}

// Q is the queue. Create with New, then Start.
type Q struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*item
	stopped bool

	wg sync.WaitGroup

	nextID     atomic.Int64
	processing atomic.Int64
	processed  atomic.Int64
	failed     atomic.Int64
	retried    atomic.Int64
	dropped    atomic.Int64
	durMS      atomic.Int64
	durCount   atomic.Int64
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	QueueSize   int     `json:"queue_size"`
	Processing  int64   `json:"processing"`
	Processed   int64   `json:"processed"`
	Failed      int64   `json:"failed"`
	Retried     int64   `json:"retried"`
	Dropped     int64   `json:"dropped"`
	AvgProcess  float64 `json:"avg_process_ms"`
	SuccessRate float64 `json:"success_rate"`
}

// New builds a queue from cfg.
func New(cfg Config) *Q {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Minute
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	q := &Q{cfg: cfg}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (q *Q) Start(ctx context.T) {
	go func() {
		<-ctx.Done()
		q.Stop()
	}()
	for range q.cfg.Workers {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue appends a task to the tail. Returns ErrQueueFull at the depth
// bound, ErrStopped after Stop; the returned id identifies the task in logs.
func (q *Q) Enqueue(t Task) (id int64, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return 0, ErrStopped
	}
	if len(q.pending) >= q.cfg.MaxSize {
		q.dropped.Inc()
		return 0, ErrQueueFull
	}
	id = q.nextID.Inc()
	q.pending = append(q.pending, &item{id: id, run: t})
	q.cond.Signal()
	return
}

// pushFront requeues a retried item ahead of everything pending.
func (q *Q) pushFront(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.dropped.Inc()
		return
	}
	q.pending = append([]*item{it}, q.pending...)
	q.cond.Signal()
}

func (q *Q) pop() (it *item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		return nil, false
	}
	it = q.pending[0]
	q.pending = q.pending[1:]
	return it, true
}

func (q *Q) worker(ctx context.T) {
	defer q.wg.Done()
	for {
		it, ok := q.pop()
		if !ok {
			return
		}
		q.runOne(ctx, it)
	}
}

func (q *Q) runOne(ctx context.T, it *item) {
	q.processing.Inc()
	defer q.processing.Dec()
	it.attempts++
	start := time.Now()
	tctx, cancel := context.Timeout(ctx, q.cfg.TaskTimeout)
	// the task's own return decides the outcome; a nil landing right at the
	// deadline is a success, not a retry
	err := it.run(tctx)
	cancel()
	elapsed := time.Since(start)
	q.durMS.Add(elapsed.Milliseconds())
	q.durCount.Inc()
	if err == nil {
		q.processed.Inc()
		return
	}
	if it.attempts < q.cfg.RetryAttempts {
		q.retried.Inc()
		delay := q.cfg.RetryDelay * time.Duration(it.attempts)
		log.D.F("task %d failed (attempt %d), retrying in %v: %v",
			it.id, it.attempts, delay, err)
		time.AfterFunc(delay, func() { q.pushFront(it) })
		return
	}
	q.failed.Inc()
	log.W.F("task %d permanently failed after %d attempts: %v",
		it.id, it.attempts, err)
}

// Stop refuses new work and blocks until every in-flight task has finished.
// Pending tasks that never started are discarded.
func (q *Q) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.stopped = true
	discarded := len(q.pending)
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()
	if discarded > 0 {
		q.dropped.Add(int64(discarded))
		log.I.F("queue stop discarded %d pending tasks", discarded)
	}
	q.wg.Wait()
}

// Size returns the pending depth.
func (q *Q) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot returns the current stats.
func (q *Q) Snapshot() Stats {
	s := Stats{
		QueueSize:  q.Size(),
		Processing: q.processing.Load(),
		Processed:  q.processed.Load(),
		Failed:     q.failed.Load(),
		Retried:    q.retried.Load(),
		Dropped:    q.dropped.Load(),
	}
	if n := q.durCount.Load(); n > 0 {
		s.AvgProcess = float64(q.durMS.Load()) / float64(n)
	}
	if total := s.Processed + s.Failed; total > 0 {
		s.SuccessRate = float64(s.Processed) / float64(total)
	}
	return s
}
