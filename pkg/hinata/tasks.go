package hinata

import (
	"time"

	"github.com/notcontrolos/hinata/pkg/worker"
)

// Submit queues a task onto the worker pool.
func (s *Service) Submit(typ worker.Type, fn worker.Func, data any, opts worker.Options) (worker.TaskID, error) {
	return s.pool.Submit(typ, fn, data, opts)
}

// Wait blocks until the task reaches a terminal state or the timeout
// elapses. A zero timeout waits forever.
func (s *Service) Wait(id worker.TaskID, timeout time.Duration) error {
	return s.pool.Wait(id, timeout)
}

// Cancel aborts a task that is still queued. Running tasks cannot be
// cancelled; they run to completion or timeout.
func (s *Service) Cancel(id worker.TaskID) error {
	return s.pool.Cancel(id)
}

// SubmitWithRetry runs fn through the pool with the caller-driven retry
// policy, blocking until the final attempt settles.
func (s *Service) SubmitWithRetry(typ worker.Type, fn worker.Func, data any, opts worker.Options) error {
	return worker.Retry(s.pool, typ, fn, data, opts)
}
