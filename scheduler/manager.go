package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rustyeddy/pricer/internal/logger"
)

type Config struct {
	WorkerMin      int
	WorkerMax      int
	InitialWorkers int
	ScaleInterval  time.Duration
	// JobsPerWorker is how many waiting jobs justify one extra worker.
	JobsPerWorker int
	// ShrinkAfterTicks is how many consecutive oversized ticks pass before
	// the pool gives back a worker.
	ShrinkAfterTicks int
	// WarnPending logs a warning when more jobs than this are waiting.
	WarnPending int
}

func DefaultConfig() Config {
	return Config{
		WorkerMin:        1,
		WorkerMax:        4,
		InitialWorkers:   2,
		ScaleInterval:    500 * time.Millisecond,
		JobsPerWorker:    8,
		ShrinkAfterTicks: 10,
		WarnPending:      10000,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.WorkerMin <= 0 {
		c.WorkerMin = d.WorkerMin
	}
	c.WorkerMax = max(c.WorkerMax, c.WorkerMin)
	c.InitialWorkers = min(max(c.InitialWorkers, c.WorkerMin), c.WorkerMax)
	if c.ScaleInterval <= 0 {
		c.ScaleInterval = d.ScaleInterval
	}
	if c.JobsPerWorker <= 0 {
		c.JobsPerWorker = d.JobsPerWorker
	}
	if c.ShrinkAfterTicks <= 0 {
		c.ShrinkAfterTicks = d.ShrinkAfterTicks
	}
	return c
}

// wantWorkers is the pool size for the given load: every running job keeps
// its worker and waiting jobs get one worker per JobsPerWorker, rounded up.
func (c Config) wantWorkers(running, pending int) int {
	want := running + (pending+c.JobsPerWorker-1)/c.JobsPerWorker
	return min(max(want, c.WorkerMin), c.WorkerMax)
}

// Manager feeds queued jobs to a Runner on a pool of workers sized to the
// load.
type Manager struct {
	cfg    Config
	q      *Queue
	runner Runner
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers []context.CancelFunc
}

func NewManager(cfg Config, runner Runner, log *logger.Logger) *Manager {
	cfg = cfg.normalized()
	log = logger.OrNop(log)
	return &Manager{
		cfg:    cfg,
		q:      NewQueue(cfg.WarnPending, log),
		runner: runner,
		log:    log,
	}
}

// Start launches the initial workers and the sizing loop.
func (m *Manager) Start(parent context.Context) {
	m.ctx, m.cancel = context.WithCancel(parent)
	m.resize(m.cfg.InitialWorkers)
	go m.sizeLoop()
}

// Stop cancels the sizing loop and every worker. Jobs already running see
// their context cancelled.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	m.workers = nil
	m.mu.Unlock()
}

// sizeLoop grows the pool as soon as the load calls for it and shrinks it
// one worker at a time once it has been oversized for ShrinkAfterTicks.
func (m *Manager) sizeLoop() {
	t := time.NewTicker(m.cfg.ScaleInterval)
	defer t.Stop()
	oversized := 0
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
		}
		mt := m.q.Metrics()
		want := m.cfg.wantWorkers(mt.Running, mt.Pending)
		have := m.WorkerCount()
		switch {
		case want > have:
			oversized = 0
			m.resize(want)
		case want < have:
			oversized++
			if oversized >= m.cfg.ShrinkAfterTicks {
				oversized = 0
				m.resize(have - 1)
			}
		default:
			oversized = 0
		}
	}
}

// resize starts or stops workers until the pool has n of them. A stopped
// worker finishes its current job first.
func (m *Manager) resize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return
	}
	for len(m.workers) < n {
		wctx, cancel := context.WithCancel(m.ctx)
		m.workers = append(m.workers, cancel)
		go m.worker(wctx)
	}
	for len(m.workers) > n {
		last := len(m.workers) - 1
		m.workers[last]()
		m.workers = m.workers[:last]
	}
	m.log.Info("worker pool resized", "worker_count", len(m.workers))
}

func (m *Manager) worker(ctx context.Context) {
	for {
		job, ok := m.q.next(ctx)
		if !ok {
			return
		}
		m.run(job)
	}
}

func (m *Manager) run(job Job) {
	start := time.Now()
	err := m.runner.RunJob(m.ctx, job)
	m.q.done(err != nil)
	if err != nil {
		m.log.Error("job failed",
			"job_id", job.ID,
			"batch_id", job.BatchID,
			"kind", job.Kind,
			"product_id", job.ProductID,
			"error", err,
		)
		return
	}
	m.log.Debug("job done", "job_id", job.ID, "kind", job.Kind, "product_id", job.ProductID, "elapsed", time.Since(start))
}

// Enqueue reports false once intake is closed.
func (m *Manager) Enqueue(job Job) bool { return m.q.Enqueue(job) }

func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

func (m *Manager) Metrics() Metrics { return m.q.Metrics() }

func (m *Manager) CloseIntake() { m.q.CloseIntake() }

func (m *Manager) IsShuttingDown() bool { return m.q.IsShuttingDown() }

// DrainUntil blocks until no job is waiting or running, or until ctx is done,
// and reports which happened first.
func (m *Manager) DrainUntil(ctx context.Context) bool {
	select {
	case <-m.q.Idle():
		return true
	case <-ctx.Done():
		return false
	}
}
