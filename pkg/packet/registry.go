package packet

import (
	"sync"
	"sync/atomic"

	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/pkg/memory"
)

// Store is an in-memory packet registry keyed by UUID. Creation registers
// the packet; the final Put unregisters it automatically.
type Store struct {
	mu      sync.RWMutex
	packets map[string]*Packet
	mgr     *memory.Manager

	created   atomic.Uint64
	destroyed atomic.Uint64
}

// StoreStats is a snapshot of registry counters.
type StoreStats struct {
	Active    int
	Created   uint64
	Destroyed uint64
	Bytes     uint64
}

// Filter narrows an Iterate pass. Zero-value fields match everything.
type Filter struct {
	Type   *Type
	Status *Status
	Source string
	Tag    string
}

func (f Filter) matches(p *Packet) bool {
	if f.Type != nil && p.Type() != *f.Type {
		return false
	}
	if f.Status != nil && p.Status() != *f.Status {
		return false
	}
	if f.Source != "" && p.Source() != f.Source {
		return false
	}
	if f.Tag != "" {
		for _, t := range p.Tags() {
			if t == f.Tag {
				return true
			}
		}
		return false
	}
	return true
}

// NewStore creates an empty registry backed by mgr.
func NewStore(mgr *memory.Manager) *Store {
	return &Store{
		packets: make(map[string]*Packet),
		mgr:     mgr,
	}
}

// Create builds a packet from params and registers it. The caller owns one
// reference and must Put it when done.
func (s *Store) Create(params CreateParams) (*Packet, error) {
	p, err := New(s.mgr, params)
	if err != nil {
		return nil, err
	}

	p.onRelease = s.unregister

	s.mu.Lock()
	s.packets[p.ID()] = p
	s.mu.Unlock()

	s.created.Add(1)
	logger.Debug("packet created",
		logger.KeyPacketID, p.ID(),
		"type", p.Type().String(),
		"size", p.Size())
	return p, nil
}

// Insert registers a packet that was created outside the store, typically
// one decoded from disk. Fails if the UUID is already registered.
func (s *Store) Insert(p *Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packets[p.ID()]; ok {
		return ErrDuplicate
	}
	p.onRelease = s.unregister
	s.packets[p.ID()] = p
	s.created.Add(1)
	return nil
}

// Find looks a packet up by UUID, incrementing its reference count. The
// caller must Put the returned packet.
func (s *Store) Find(id string) (*Packet, error) {
	s.mu.RLock()
	p, ok := s.packets[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if p.Get() == nil {
		// Lost the race against the final Put.
		return nil, ErrNotFound
	}
	return p, nil
}

// Exists reports whether a packet with the given UUID is registered.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.packets[id]
	return ok
}

// Len returns the number of registered packets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.packets)
}

// Iterate calls fn for each packet matching filter, holding a reference for
// the duration of the call. Iteration stops when fn returns false.
func (s *Store) Iterate(filter Filter, fn func(*Packet) bool) {
	s.mu.RLock()
	snapshot := make([]*Packet, 0, len(s.packets))
	for _, p := range s.packets {
		snapshot = append(snapshot, p)
	}
	s.mu.RUnlock()

	for _, p := range snapshot {
		if p.Get() == nil {
			continue
		}
		stop := filter.matches(p) && !fn(p)
		p.Put()
		if stop {
			return
		}
	}
}

// Stats returns a snapshot of registry counters.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	var bytes uint64
	for _, p := range s.packets {
		bytes += p.Size()
	}
	active := len(s.packets)
	s.mu.RUnlock()

	return StoreStats{
		Active:    active,
		Created:   s.created.Load(),
		Destroyed: s.destroyed.Load(),
		Bytes:     bytes,
	}
}

// ReleaseAll force-destroys every registered packet regardless of
// outstanding references. Intended for shutdown only; reference holders see
// Released() report true and further Puts fail with ErrReleased.
func (s *Store) ReleaseAll() int {
	s.mu.Lock()
	remaining := make([]*Packet, 0, len(s.packets))
	for _, p := range s.packets {
		remaining = append(remaining, p)
	}
	s.packets = make(map[string]*Packet)
	s.mu.Unlock()

	for _, p := range remaining {
		p.doDestroy()
	}
	if len(remaining) > 0 {
		logger.Warn("packets force-released at shutdown", "count", len(remaining))
	}
	return len(remaining)
}

func (s *Store) unregister(p *Packet) {
	s.mu.Lock()
	delete(s.packets, p.ID())
	s.mu.Unlock()
	s.destroyed.Add(1)
}
