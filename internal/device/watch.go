package device

import "sync"

// DefaultWatchBuffer is the per-watcher queue length used when none is set.
const DefaultWatchBuffer = 16

// Subscription delivers the state changes of one device to one watcher.
//
// The first change is always a snapshot of the current state, or
// StateUnknown if the device is not registered. Later changes arrive in
// the order the registry applied them. If the watcher falls behind and
// its buffer fills, the oldest pending change is discarded so the most
// recent state is always delivered.
type Subscription struct {
	deviceID string
	ch       chan Change
	hub      *watchHub

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// DeviceID returns the watched device.
func (s *Subscription) DeviceID() string {
	return s.deviceID
}

// C returns the channel of changes. It is closed by Close.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

// Dropped returns how many changes were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the registry and closes C.
// It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver queues c without blocking. Callers hold the device's entry lock
// (or the registry lock for unregistered IDs), which orders deliveries.
func (s *Subscription) deliver(c Change) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- c:
		return false
	default:
	}

	// Full: discard the oldest queued change. Only deliver sends, and it
	// holds s.mu, so the second send cannot block.
	select {
	case <-s.ch:
		s.dropped++
		dropped = true
	default:
	}
	s.ch <- c
	return dropped
}

// watchHub indexes subscriptions by device ID. IDs need not be registered.
type watchHub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	// onDrop is called when a full buffer forces a change to be discarded.
	onDrop func(deviceID string)
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[string]map[*Subscription]struct{})}
}

func (h *watchHub) add(deviceID string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = DefaultWatchBuffer
	}
	s := &Subscription{
		deviceID: deviceID,
		ch:       make(chan Change, buffer),
		hub:      h,
	}

	h.mu.Lock()
	set, ok := h.subs[deviceID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[deviceID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	return s
}

func (h *watchHub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[s.deviceID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.deviceID)
	}
}

// publish fans c out to every watcher of c.DeviceID.
func (h *watchHub) publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[c.DeviceID] {
		if s.deliver(c) && h.onDrop != nil {
			h.onDrop(c.DeviceID)
		}
	}
}

func (h *watchHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
