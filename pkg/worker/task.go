package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// NumLanes is the number of priority lanes. Lane 0 is the highest
// priority; the scheduler always drains lower-numbered lanes first.
const NumLanes = 8

var (
	// ErrPoolClosed is returned when submitting to a stopped pool.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrQueueFull is returned when a lane is at its depth limit.
	ErrQueueFull = errors.New("task queue is full")

	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotCancellable is returned when cancelling a task that already
	// left the queue. Running work cannot be cancelled.
	ErrNotCancellable = errors.New("task is not cancellable")

	// ErrWaitTimeout is returned when Wait gives up before the task ends.
	ErrWaitTimeout = errors.New("timed out waiting for task")

	// ErrTaskTimeout is the terminal error of a task whose function
	// overran its deadline.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskCancelled is the terminal error of a cancelled task.
	ErrTaskCancelled = errors.New("task cancelled")
)

// TaskID identifies one submitted task.
type TaskID uint64

// Type tags what kind of work a task performs.
type Type uint8

const (
	TypeStore Type = iota
	TypeLoad
	TypeDelete
	TypeSync
	TypeGC
	TypeHealth
	TypeCustom
)

func (t Type) String() string {
	switch t {
	case TypeStore:
		return "store"
	case TypeLoad:
		return "load"
	case TypeDelete:
		return "delete"
	case TypeSync:
		return "sync"
	case TypeGC:
		return "gc"
	case TypeHealth:
		return "health"
	default:
		return "custom"
	}
}

// State is the task lifecycle state.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s != StatePending && s != StateRunning
}

// Func is the work a task performs. The context carries the task deadline;
// functions should honor it but are not forcibly stopped.
type Func func(ctx context.Context, data any) error

// Options tune one submission. Zero values take pool defaults.
type Options struct {
	// Priority selects the lane, 0 (highest) through NumLanes-1.
	Priority int
	// Timeout bounds the task function's runtime. The scheduler marks
	// the task timed out when exceeded; the function itself keeps
	// running to completion.
	Timeout time.Duration
	// MaxRetries and RetryDelay are advisory fields consumed by the
	// Retry helper. The pool itself never resubmits a task.
	MaxRetries int
	RetryDelay time.Duration
}

// Task is one unit of queued work.
type Task struct {
	id      TaskID
	typ     Type
	lane    int
	fn      Func
	data    any
	timeout time.Duration
	opts    Options

	state atomic.Int32

	mu  sync.Mutex
	err error

	submittedAt time.Time
	startedAt   atomic.Int64
	finishedAt  atomic.Int64

	done chan struct{}
}

// ID returns the task id.
func (t *Task) ID() TaskID { return t.id }

// Type returns the task type.
func (t *Task) Type() Type { return t.typ }

// Lane returns the priority lane the task was queued on.
func (t *Task) Lane() int { return t.lane }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Err returns the terminal error, nil while the task has not failed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// transition moves the task from one state to another exactly once.
func (t *Task) transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// finish records a terminal transition and wakes waiters. Only the caller
// that wins the transition closes done.
func (t *Task) finish(from, to State, err error) bool {
	if !t.transition(from, to) {
		return false
	}
	if err != nil {
		t.setErr(err)
	}
	t.finishedAt.Store(time.Now().UnixNano())
	close(t.done)
	return true
}
