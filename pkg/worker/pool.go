// Package worker implements a fixed pool of workers draining an 8-lane
// strict-priority queue. Within a lane tasks run in submission order;
// across lanes a lower lane always wins.
package worker

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
)

const (
	// DefaultQueueDepth bounds each lane.
	DefaultQueueDepth = 1024
	// DefaultTaskTimeout bounds a task function's runtime.
	DefaultTaskTimeout = 30 * time.Second
	// DefaultIdleTimeout is how long a worker sleeps before an idle
	// wakeup refreshes its activity timestamp.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultHealthInterval paces the health monitor.
	DefaultHealthInterval = 10 * time.Second

	// finishedRetention is how long terminal tasks stay queryable.
	finishedRetention = 5 * time.Minute
)

// Config tunes the pool. Zero values take defaults.
type Config struct {
	Workers        int
	QueueDepth     int
	TaskTimeout    time.Duration
	IdleTimeout    time.Duration
	HealthInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
		if c.Workers > NumLanes {
			c.Workers = NumLanes
		}
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	return c
}

// Metrics receives pool observations. A nil Metrics disables
// instrumentation.
type Metrics interface {
	ObserveTask(typ string, state string, duration time.Duration)
	RecordQueueDepth(lane int, depth int)
	RecordActiveWorkers(n int)
}

type workerState struct {
	id           int
	lastActivity atomic.Int64 // unix nanos
	currentTask  atomic.Uint64
	busy         atomic.Bool
}

// Pool is the worker pool and scheduler.
type Pool struct {
	cfg     Config
	metrics Metrics

	qmu    sync.Mutex
	lanes  [NumLanes][]*Task
	counts [NumLanes]int
	tasks  map[TaskID]*Task

	nextID  atomic.Uint64
	wake    chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
	workers []*workerState
	closed  atomic.Bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	timeouts  atomic.Uint64
	active    atomic.Int32
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers       int
	ActiveWorkers int
	Queued        [NumLanes]int
	Submitted     uint64
	Completed     uint64
	Failed        uint64
	Cancelled     uint64
	Timeouts      uint64
}

// NewPool creates a stopped pool; call Start to launch the workers.
func NewPool(cfg Config, metrics Metrics) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:     cfg,
		metrics: metrics,
		tasks:   make(map[TaskID]*Task),
		wake:    make(chan struct{}, cfg.Workers),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.workers = make([]*workerState, cfg.Workers)
	for i := range p.workers {
		p.workers[i] = &workerState{id: i}
	}
	return p
}

// Start launches the workers and the health monitor.
func (p *Pool) Start() {
	now := time.Now().UnixNano()
	for _, w := range p.workers {
		w.lastActivity.Store(now)
		p.wg.Add(1)
		go p.runWorker(w)
	}
	p.wg.Add(1)
	go p.runHealthMonitor()
	logger.Info("worker pool started",
		"workers", len(p.workers),
		"lanes", NumLanes,
		"queue_depth", p.cfg.QueueDepth)
}

// Stop drains nothing: queued tasks are cancelled, running tasks are
// allowed to finish, then the workers exit.
func (p *Pool) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancelQueued()
	close(p.stopCh)
	p.wg.Wait()
	close(p.stopped)
	logger.Info("worker pool stopped",
		"completed", p.completed.Load(),
		"failed", p.failed.Load(),
		"cancelled", p.cancelled.Load())
}

func (p *Pool) cancelQueued() {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	for lane := range p.lanes {
		for _, t := range p.lanes[lane] {
			if t.finish(StatePending, StateCancelled, ErrTaskCancelled) {
				p.cancelled.Add(1)
			}
		}
		p.lanes[lane] = nil
		p.counts[lane] = 0
	}
}

// ============================================================================
// Submission and queries
// ============================================================================

// Submit enqueues a task and returns its id.
func (p *Pool) Submit(typ Type, fn Func, data any, opts Options) (TaskID, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}
	// Out-of-range priorities land on the nearest lane rather than being
	// rejected.
	lane := opts.Priority
	if lane < 0 {
		lane = 0
	} else if lane >= NumLanes {
		lane = NumLanes - 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.cfg.TaskTimeout
	}

	t := &Task{
		id:          TaskID(p.nextID.Add(1)),
		typ:         typ,
		lane:        lane,
		fn:          fn,
		data:        data,
		timeout:     timeout,
		opts:        opts,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}

	p.qmu.Lock()
	if p.counts[t.lane] >= p.cfg.QueueDepth {
		p.qmu.Unlock()
		return 0, ErrQueueFull
	}
	p.lanes[t.lane] = append(p.lanes[t.lane], t)
	p.counts[t.lane]++
	depth := p.counts[t.lane]
	p.tasks[t.id] = t
	p.qmu.Unlock()

	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.RecordQueueDepth(t.lane, depth)
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return t.id, nil
}

// Lookup returns a task by id.
func (p *Pool) Lookup(id TaskID) (*Task, error) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// Wait blocks until the task reaches a terminal state or the wait times
// out. Returns the task's terminal error.
func (p *Pool) Wait(id TaskID, timeout time.Duration) error {
	t, err := p.Lookup(id)
	if err != nil {
		return err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case <-t.done:
		return t.Err()
	case <-timer:
		return ErrWaitTimeout
	}
}

// Cancel aborts a queued task. Running tasks cannot be cancelled.
func (p *Pool) Cancel(id TaskID) error {
	t, err := p.Lookup(id)
	if err != nil {
		return err
	}
	if !t.finish(StatePending, StateCancelled, ErrTaskCancelled) {
		return ErrNotCancellable
	}
	p.cancelled.Add(1)
	// The queue entry is dropped lazily by pop.
	logger.Debug("task cancelled", logger.KeyTaskID, uint64(id))
	return nil
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{
		Workers:       len(p.workers),
		ActiveWorkers: int(p.active.Load()),
		Submitted:     p.submitted.Load(),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Cancelled:     p.cancelled.Load(),
		Timeouts:      p.timeouts.Load(),
	}
	p.qmu.Lock()
	stats.Queued = p.counts
	p.qmu.Unlock()
	return stats
}

// ============================================================================
// Scheduling
// ============================================================================

// pop removes the next runnable task: lowest lane first, FIFO within the
// lane, skipping entries cancelled while queued.
func (p *Pool) pop() *Task {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	for lane := 0; lane < NumLanes; lane++ {
		for len(p.lanes[lane]) > 0 {
			t := p.lanes[lane][0]
			p.lanes[lane] = p.lanes[lane][1:]
			p.counts[lane]--
			if t.State() == StateCancelled {
				continue
			}
			return t
		}
	}
	return nil
}

func (p *Pool) runWorker(w *workerState) {
	defer p.wg.Done()
	log := logger.With(logger.KeyWorkerID, w.id)

	for {
		t := p.pop()
		if t == nil {
			select {
			case <-p.wake:
				continue
			case <-time.After(p.cfg.IdleTimeout):
				// Idle wakeup so the health monitor sees liveness.
				w.lastActivity.Store(time.Now().UnixNano())
				continue
			case <-p.stopCh:
				return
			}
		}
		p.execute(w, t, log)
	}
}

func (p *Pool) execute(w *workerState, t *Task, log *slog.Logger) {
	if !t.transition(StatePending, StateRunning) {
		return
	}
	start := time.Now()
	t.startedAt.Store(start.UnixNano())
	w.busy.Store(true)
	w.currentTask.Store(uint64(t.id))
	w.lastActivity.Store(start.UnixNano())
	p.active.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	// The deadline marks the task timed out even while fn keeps running;
	// cancellation of running work is unsupported.
	watchdog := time.AfterFunc(t.timeout, func() {
		if t.finish(StateRunning, StateTimeout, ErrTaskTimeout) {
			p.timeouts.Add(1)
			log.Warn("task deadline exceeded",
				logger.KeyTaskID, uint64(t.id),
				"type", t.typ.String(),
				"timeout", t.timeout)
		}
	})

	err := t.fn(ctx, t.data)
	watchdog.Stop()
	cancel()

	duration := time.Since(start)
	switch {
	case err == nil && t.finish(StateRunning, StateCompleted, nil):
		p.completed.Add(1)
	case err != nil && t.finish(StateRunning, StateFailed, err):
		p.failed.Add(1)
		log.Debug("task failed",
			logger.KeyTaskID, uint64(t.id),
			"type", t.typ.String(),
			logger.KeyError, err)
	default:
		// Lost the race against the watchdog; the function finished
		// after its deadline.
		log.Debug("task finished after timeout",
			logger.KeyTaskID, uint64(t.id),
			"type", t.typ.String(),
			logger.KeyDurationMs, duration.Milliseconds())
	}

	if p.metrics != nil {
		p.metrics.ObserveTask(t.typ.String(), t.State().String(), duration)
	}

	w.busy.Store(false)
	w.currentTask.Store(0)
	w.lastActivity.Store(time.Now().UnixNano())
	p.active.Add(-1)
	if p.metrics != nil {
		p.metrics.RecordActiveWorkers(int(p.active.Load()))
	}
}

// ============================================================================
// Health monitor
// ============================================================================

func (p *Pool) runHealthMonitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkHealth()
			p.pruneFinished()
		case <-p.stopCh:
			return
		}
	}
}

// checkHealth logs workers that have been busy on one task for longer
// than twice the task timeout.
func (p *Pool) checkHealth() {
	stallAfter := 2 * p.cfg.TaskTimeout
	now := time.Now()
	for _, w := range p.workers {
		if !w.busy.Load() {
			continue
		}
		idle := now.Sub(time.Unix(0, w.lastActivity.Load()))
		if idle > stallAfter {
			logger.Warn("worker appears stalled",
				logger.KeyWorkerID, w.id,
				logger.KeyTaskID, w.currentTask.Load(),
				"busy_for", idle.Round(time.Second).String())
		}
	}
}

// pruneFinished drops terminal tasks past the retention window so the
// task table does not grow without bound.
func (p *Pool) pruneFinished() {
	cutoff := time.Now().Add(-finishedRetention).UnixNano()
	p.qmu.Lock()
	defer p.qmu.Unlock()
	for id, t := range p.tasks {
		if t.State().Terminal() && t.finishedAt.Load() < cutoff && t.finishedAt.Load() != 0 {
			delete(p.tasks, id)
		}
	}
}
