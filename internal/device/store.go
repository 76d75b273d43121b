package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence collaborator behind the Registry.
//
// Implementations must make Insert atomic with respect to concurrent
// inserts of the same ID: exactly one succeeds and the rest return
// ErrDeviceExists.
type Store interface {
	// Find returns the device or ErrDeviceNotFound.
	Find(ctx context.Context, id string) (*Device, error)

	// Insert creates the device or returns ErrDeviceExists.
	Insert(ctx context.Context, d *Device) error

	// UpdateState overwrites state and its timestamp, or returns ErrDeviceNotFound.
	UpdateState(ctx context.Context, id string, state State, at time.Time) error

	// List returns every device. Used to warm the registry cache.
	List(ctx context.Context) ([]Device, error)
}

// MemoryStore is a process-local Store. It is the backend for the
// "memory" store setting and for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*Device)}
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, id string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.Clone(), nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[d.ID]; exists {
		return ErrDeviceExists
	}
	s.devices[d.ID] = d.Clone()
	return nil
}

// UpdateState implements Store.
func (s *MemoryStore) UpdateState(_ context.Context, id string, state State, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.State = state
	d.StateUpdatedAt = &at
	return nil
}

// List implements Store. Devices are ordered by ID.
func (s *MemoryStore) List(_ context.Context) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
