package worker

import (
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
)

// Retry submits a task and, when it fails or times out, resubmits it up to
// opts.MaxRetries times with opts.RetryDelay between attempts. The pool
// itself never retries; this helper is the explicit opt-in path. Retry
// blocks until the final attempt ends and returns its error.
func Retry(p *Pool, typ Type, fn Func, data any, opts Options) error {
	attempts := opts.MaxRetries + 1
	waitBudget := opts.Timeout
	if waitBudget <= 0 {
		waitBudget = p.cfg.TaskTimeout
	}
	// Wait slightly past the task deadline so the watchdog verdict wins.
	waitBudget += time.Second

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying task",
				"type", typ.String(),
				"attempt", attempt,
				"last_error", lastErr)
			if opts.RetryDelay > 0 {
				time.Sleep(opts.RetryDelay)
			}
		}

		id, err := p.Submit(typ, fn, data, opts)
		if err != nil {
			return err
		}
		lastErr = p.Wait(id, waitBudget)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
