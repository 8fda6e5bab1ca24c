// Package hinata wires the subsystems into one service with a single
// lifecycle. Nothing in the tree holds ambient global state; a Service is
// constructed from a config.Config and passed to whoever needs it.
package hinata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/pkg/config"
	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/metrics"
	"github.com/notcontrolos/hinata/pkg/packet"
	"github.com/notcontrolos/hinata/pkg/packet/validate"
	"github.com/notcontrolos/hinata/pkg/storage"
	"github.com/notcontrolos/hinata/pkg/worker"
)

var (
	// ErrNotStarted is returned by operations that need a running service.
	ErrNotStarted = errors.New("service not started")
	// ErrAlreadyStarted is returned by Start on a running service.
	ErrAlreadyStarted = errors.New("service already started")
)

// Service owns the memory manager, packet store, validator, storage layer,
// and worker pool, and runs the background maintenance timers that keep them
// healthy.
type Service struct {
	cfg *config.Config

	mgr       *memory.Manager
	packets   *packet.Store
	validator *validate.Validator
	store     *storage.Service
	pool      *worker.Pool

	level validate.Level

	started atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a Service from the configuration. Storage is opened here so
// construction fails fast on an unusable data directory; background work
// does not begin until Start.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}

	level, err := validate.ParseLevel(cfg.Storage.Validation)
	if err != nil {
		return nil, fmt.Errorf("invalid validation level: %w", err)
	}

	mgr := memory.NewManager(cfg.Memory.ManagerConfig(), metrics.NewMemoryMetrics())
	packets := packet.NewStore(mgr)
	validator := validate.NewValidator(validate.DefaultCacheTTL)

	store, err := storage.Open(cfg.Storage.ServiceConfig(), mgr, packets, validator, metrics.NewStorageMetrics())
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	pool := worker.NewPool(cfg.Worker.PoolConfig(), metrics.NewWorkerMetrics())

	return &Service{
		cfg:       cfg,
		mgr:       mgr,
		packets:   packets,
		validator: validator,
		store:     store,
		pool:      pool,
		level:     level,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the worker pool, the allocator's leak sweeper, and the
// periodic storage sync task.
func (s *Service) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.mgr.Start()
	s.pool.Start()

	if s.cfg.Storage.SyncInterval > 0 {
		s.wg.Add(1)
		go s.runSyncTimer(s.cfg.Storage.SyncInterval)
	}

	logger.Info("Service started",
		"storage_dir", s.cfg.Storage.Dir,
		"validation", s.level.String(),
		"sync_interval", s.cfg.Storage.SyncInterval.String(),
	)
	return nil
}

// Stop shuts the service down in dependency order: timers first, then the
// pool (draining running tasks), then storage, then the packet registry and
// allocator. Safe to call once; later calls return nil.
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(s.stopCh)
	s.wg.Wait()

	s.pool.Stop()

	var firstErr error
	if err := s.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
		firstErr = err
	}

	if n := s.packets.ReleaseAll(); n > 0 {
		logger.Warn("Released live packets at shutdown", "count", n)
	}

	if err := s.mgr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	logger.Info("Service stopped")
	return firstErr
}

// runSyncTimer submits a sync task onto the pool every interval. The task
// goes through the queue like any other work so sync competes fairly with
// foreground operations.
func (s *Service) runSyncTimer(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := s.pool.Submit(worker.TypeSync, func(ctx context.Context, _ any) error {
				return s.store.SyncAll()
			}, nil, worker.Options{Priority: syncPriority})
			if err != nil && !errors.Is(err, worker.ErrPoolClosed) {
				logger.Warn("Failed to submit sync task", "error", err)
			}

		case <-s.stopCh:
			// Final sync so a clean stop leaves nothing dirty.
			if err := s.store.SyncAll(); err != nil && !errors.Is(err, storage.ErrClosed) {
				logger.Warn("Final sync failed", "error", err)
			}
			return
		}
	}
}

// syncPriority is the lane used by background maintenance tasks. Low enough
// that foreground work preempts it, high enough that it cannot be starved
// by bulk custom tasks on the bottom lane.
const syncPriority = 5

// Manager returns the memory manager.
func (s *Service) Manager() *memory.Manager { return s.mgr }

// Packets returns the packet registry.
func (s *Service) Packets() *packet.Store { return s.packets }

// Validator returns the shared validator.
func (s *Service) Validator() *validate.Validator { return s.validator }

// Storage returns the storage service.
func (s *Service) Storage() *storage.Service { return s.store }

// Pool returns the worker pool.
func (s *Service) Pool() *worker.Pool { return s.pool }
