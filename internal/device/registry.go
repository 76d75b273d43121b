package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nerrad567/homelink-core/internal/device"

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is the cached record of one device. Its mutex serialises every
// write to that device together with the resulting notifications.
type entry struct {
	mu  sync.Mutex
	dev *Device
}

// Registry is the authoritative device record: a write-through cache over
// a Store with per-device serialisation and change notification.
//
// All public methods are safe for concurrent use.
type Registry struct {
	store Store

	mu      sync.RWMutex // guards entries map only
	entries map[string]*entry

	watchers    *watchHub
	watchBuffer int

	logger Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:       store,
		entries:     make(map[string]*entry),
		watchers:    newWatchHub(),
		watchBuffer: DefaultWatchBuffer,
		logger:      noopLogger{},
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetWatchBuffer sets the queue length of subscriptions created afterwards.
func (r *Registry) SetWatchBuffer(n int) {
	if n > 0 {
		r.watchBuffer = n
	}
}

// SetDropHandler registers fn to be told whenever a slow watcher's full
// buffer forces an older change to be discarded. Call before Watch.
func (r *Registry) SetDropHandler(fn func(deviceID string)) {
	r.watchers.onDrop = fn
}

// RefreshCache loads every device from the store into the cache.
// Call on startup before serving requests.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	for i := range devices {
		d := devices[i].Clone()
		e := r.installEntry(d)
		e.mu.Lock()
		e.dev = d
		e.mu.Unlock()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Register creates a device owned by ownerID in state OFF.
//
// It returns ErrDeviceExists if the ID is taken and ErrInvalidDevice if
// the ID, name or owner is malformed. Of several concurrent registrations
// of one ID, exactly one succeeds.
func (r *Registry) Register(ctx context.Context, id, name, ownerID string) (*Device, error) {
	ctx, span := r.tracer.Start(ctx, "device.Register",
		trace.WithAttributes(attribute.String("device.id", id)))
	defer span.End()

	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateOwner(ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}

	// Cheap rejection; the store insert below is the real uniqueness check.
	r.mu.RLock()
	_, cached := r.entries[id]
	r.mu.RUnlock()
	if cached {
		return nil, ErrDeviceExists
	}

	now := r.now().UTC()
	d := &Device{
		ID:        id,
		Name:      name,
		OwnerID:   ownerID,
		State:     InitialState,
		CreatedAt: now,
	}

	if err := r.store.Insert(ctx, d); err != nil {
		if errors.Is(err, ErrDeviceExists) {
			return nil, ErrDeviceExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "store insert failed")
		return nil, fmt.Errorf("registering device %s: %w", id, err)
	}

	e := r.installEntry(d.Clone())
	e.mu.Lock()
	r.watchers.publish(Change{DeviceID: id, State: e.dev.State, Source: SourceRegister, At: now})
	e.mu.Unlock()

	r.logger.Info("device registered", "device_id", id, "owner", ownerID)
	return d, nil
}

// Get returns a copy of the device or ErrDeviceNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Device, error) {
	e, err := r.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev.Clone(), nil
}

// ListByOwner returns copies of ownerID's devices ordered by creation
// time, then ID.
func (r *Registry) ListByOwner(_ context.Context, ownerID string) ([]Device, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	devices := make([]Device, 0)
	for _, e := range entries {
		e.mu.Lock()
		if e.dev.OwnerID == ownerID {
			devices = append(devices, *e.dev.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(devices, func(i, j int) bool {
		if !devices[i].CreatedAt.Equal(devices[j].CreatedAt) {
			return devices[i].CreatedAt.Before(devices[j].CreatedAt)
		}
		return devices[i].ID < devices[j].ID
	})
	return devices, nil
}

// SetState overwrites the device's state and notifies watchers.
//
// It does not check ownership. It returns ErrDeviceNotFound for unknown
// IDs and ErrInvalidState for malformed tokens. Writes to the same device
// are applied one at a time in the order they acquire the device.
func (r *Registry) SetState(ctx context.Context, id string, state State, source Source) error {
	ctx, span := r.tracer.Start(ctx, "device.SetState",
		trace.WithAttributes(
			attribute.String("device.id", id),
			attribute.String("device.state", string(state)),
			attribute.String("device.source", string(source)),
		))
	defer span.End()

	if err := ValidateState(state); err != nil {
		return err
	}

	e, err := r.loadEntry(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now().UTC()
	if err := r.store.UpdateState(ctx, id, state, now); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return ErrDeviceNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "store update failed")
		return fmt.Errorf("setting state of %s: %w", id, err)
	}

	previous := e.dev.State
	e.dev.State = state
	e.dev.StateUpdatedAt = &now
	r.watchers.publish(Change{DeviceID: id, State: state, Source: source, At: now})

	r.logger.Debug("device state set",
		"device_id", id,
		"state", state,
		"previous", previous,
		"source", source,
	)
	return nil
}

// Watch subscribes to id's state changes. The ID need not be registered:
// watchers of unknown IDs first receive StateUnknown and then every change
// from the moment the device is registered. Close the subscription when done.
func (r *Registry) Watch(ctx context.Context, id string) *Subscription {
	s := r.watchers.add(id, r.watchBuffer)

	e, err := r.loadEntry(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrDeviceNotFound) {
			r.logger.Warn("loading device for watcher", "device_id", id, "error", err)
		}

		// Holding the map lock orders the UNKNOWN snapshot before any
		// registration of id.
		r.mu.RLock()
		e = r.entries[id]
		if e == nil {
			s.deliver(Change{DeviceID: id, State: StateUnknown, Source: SourceSnapshot, At: r.now().UTC()})
			r.mu.RUnlock()
			return s
		}
		r.mu.RUnlock()
	}

	e.mu.Lock()
	at := e.dev.CreatedAt
	if e.dev.StateUpdatedAt != nil {
		at = *e.dev.StateUpdatedAt
	}
	s.deliver(Change{DeviceID: id, State: e.dev.State, Source: SourceSnapshot, At: at})
	e.mu.Unlock()

	return s
}

// Stats returns cached device and active watcher counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	devices := len(r.entries)
	r.mu.RUnlock()

	return Stats{Devices: devices, Watchers: r.watchers.count()}
}

// loadEntry returns the cached entry for id, loading it from the store on
// a cache miss.
func (r *Registry) loadEntry(ctx context.Context, id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	d, err := r.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("loading device %s: %w", id, err)
	}
	return r.installEntry(d), nil
}

// installEntry caches d unless another goroutine cached the ID first,
// and returns whichever entry is now in the map.
func (r *Registry) installEntry(d *Device) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[d.ID]; ok {
		return e
	}
	e := &entry{dev: d}
	r.entries[d.ID] = e
	return e
}
