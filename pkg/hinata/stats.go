package hinata

import (
	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/packet"
	"github.com/notcontrolos/hinata/pkg/storage"
	"github.com/notcontrolos/hinata/pkg/worker"
)

// Stats aggregates the counters of every subsystem.
type Stats struct {
	Memory  memory.Stats      `json:"memory"`
	Packets packet.StoreStats `json:"packets"`
	Storage storage.Stats     `json:"storage"`
	Workers worker.PoolStats  `json:"workers"`
}

// Stats snapshots all subsystem counters.
func (s *Service) Stats() Stats {
	return Stats{
		Memory:  s.mgr.Stats(),
		Packets: s.packets.Stats(),
		Storage: s.store.GlobalStats(),
		Workers: s.pool.Stats(),
	}
}

// AllocatedMemory returns the allocator's current usage in bytes.
func (s *Service) AllocatedMemory() uint64 {
	return s.mgr.CurrentUsage()
}

// CheckMemoryLimit reports whether an allocation of extra bytes would stay
// within the configured total cap.
func (s *Service) CheckMemoryLimit(extra uint64) bool {
	return s.mgr.CheckLimit(extra)
}

// TriggerGC runs an immediate allocator sweep.
func (s *Service) TriggerGC() {
	s.mgr.GC()
}
