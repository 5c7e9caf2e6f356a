package scheduler

import (
	"context"
	"sync"

	"github.com/rustyeddy/pricer/internal/logger"
)

type jobKey struct {
	kind      Kind
	productID int64
}

// Queue holds pending jobs for the worker pool. Update jobs are handed out
// before retrain jobs, and a job for a (kind, product) pair that is still
// waiting absorbs any later job for the same pair.
type Queue struct {
	mu      sync.Mutex
	updates []Job
	retrain []Job
	waiting map[jobKey]bool
	running int
	closed  bool
	// ready holds at most one wakeup for a blocked worker.
	ready chan struct{}
	// idle is closed whenever nothing is waiting or running.
	idle chan struct{}

	warnAt int
	log    *logger.Logger

	enqueued  uint64
	merged    uint64
	processed uint64
	failed    uint64
}

// NewQueue returns an empty queue. A warning is logged when the number of
// waiting jobs passes warnAt; zero disables it.
func NewQueue(warnAt int, log *logger.Logger) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		waiting: map[jobKey]bool{},
		ready:   make(chan struct{}, 1),
		idle:    idle,
		warnAt:  warnAt,
		log:     logger.OrNop(log),
	}
}

// Enqueue adds job unless intake is closed. A job merged into an identical
// waiting one still counts as accepted.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.enqueued++
	key := jobKey{job.Kind, job.ProductID}
	if q.waiting[key] {
		q.merged++
		q.mu.Unlock()
		q.log.Debug("job merged into waiting job", "kind", job.Kind, "product_id", job.ProductID, "batch_id", job.BatchID)
		return true
	}
	q.waiting[key] = true
	if job.Kind == KindRetrain {
		q.retrain = append(q.retrain, job)
	} else {
		q.updates = append(q.updates, job)
	}
	if q.pendingLocked() == 1 && q.running == 0 {
		q.idle = make(chan struct{})
	}
	n := q.pendingLocked()
	q.mu.Unlock()

	if q.warnAt > 0 && n == q.warnAt+1 {
		q.log.Warn("pending jobs passed warning level", "pending", n, "warn_at", q.warnAt)
	}
	q.wake()
	return true
}

func (q *Queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) pendingLocked() int { return len(q.updates) + len(q.retrain) }

// next blocks until a job is available or ctx is done. Every job it returns
// must be reported through done.
func (q *Queue) next(ctx context.Context) (Job, bool) {
	for {
		q.mu.Lock()
		job, ok := q.popLocked()
		more := q.pendingLocked() > 0
		q.mu.Unlock()
		if ok {
			if more {
				q.wake()
			}
			return job, true
		}
		select {
		case <-ctx.Done():
			return Job{}, false
		case <-q.ready:
		}
	}
}

func (q *Queue) popLocked() (Job, bool) {
	var job Job
	switch {
	case len(q.updates) > 0:
		job, q.updates = q.updates[0], q.updates[1:]
	case len(q.retrain) > 0:
		job, q.retrain = q.retrain[0], q.retrain[1:]
	default:
		return Job{}, false
	}
	delete(q.waiting, jobKey{job.Kind, job.ProductID})
	q.running++
	return job, true
}

func (q *Queue) done(failed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	q.processed++
	if failed {
		q.failed++
	}
	if q.running == 0 && q.pendingLocked() == 0 {
		close(q.idle)
	}
}

// Idle returns a channel that is closed once no job is waiting or running.
// Work enqueued after that replaces the channel.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// Pending is the number of jobs waiting for a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Metrics counts jobs since the queue was created. Processed includes
// Failed; merged jobs never run.
type Metrics struct {
	Enqueued  uint64
	Merged    uint64
	Processed uint64
	Failed    uint64
	Pending   int
	Running   int
}

func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Metrics{
		Enqueued:  q.enqueued,
		Merged:    q.merged,
		Processed: q.processed,
		Failed:    q.failed,
		Pending:   q.pendingLocked(),
		Running:   q.running,
	}
}

// CloseIntake rejects further jobs. Waiting jobs still run.
func (q *Queue) CloseIntake() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) IsShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
