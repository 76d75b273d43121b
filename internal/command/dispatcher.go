package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/homelink-core/internal/device"
)

// Command outcomes reported to the Recorder.
const (
	OutcomeDispatched = "dispatched"
	OutcomeNotFound   = "not_found"
	OutcomeForbidden  = "forbidden"
	OutcomeInvalid    = "invalid"
	OutcomeError      = "error"
)

// Publisher sends a payload to the broker. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Topics maps a device to its command topic. mqtt.Topics satisfies it.
type Topics interface {
	DeviceCommand(deviceID string) string
}

// Recorder receives dispatch outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	CommandOutcome(deviceID, outcome string)
	PublishFailed(deviceID string)
}

// Logger defines the logging interface used by the Dispatcher.
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

type noopRecorder struct{}

func (noopRecorder) CommandOutcome(string, string) {}
func (noopRecorder) PublishFailed(string)          {}

// Ack acknowledges a dispatched command.
type Ack struct {
	DeviceID string       `json:"device_id"`
	State    device.State `json:"state"`
	Topic    string       `json:"topic"`

	// Published is false when the broker publish failed or no broker is
	// configured. The state was recorded either way.
	Published    bool      `json:"published"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// Dispatcher validates and dispatches owner commands.
type Dispatcher struct {
	registry  *device.Registry
	publisher Publisher
	topics    Topics
	qos       byte

	logger   Logger
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithQoS sets the QoS used for command publishes. The default is 1.
func WithQoS(qos byte) Option {
	return func(d *Dispatcher) { d.qos = qos }
}

// New creates a Dispatcher. publisher may be nil when no broker is
// configured; commands are then recorded but never published.
func New(registry *device.Registry, publisher Publisher, topics Topics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		publisher: publisher,
		topics:    topics,
		qos:       1,
		logger:    noopLogger{},
		recorder:  noopRecorder{},
		tracer:    otel.Tracer("github.com/nerrad567/homelink-core/internal/command"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch records desired as the state of deviceID and publishes it to
// the device's command topic.
//
// Errors: device.ErrInvalidState for a malformed token,
// device.ErrDeviceNotFound for an unknown device and ErrForbidden when
// requesterID is not the owner. On any error the registry is unchanged.
// Broker failures are not errors; see Ack.Published.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID, requesterID string, desired device.State) (*Ack, error) {
	ctx, span := d.tracer.Start(ctx, "command.Dispatch",
		trace.WithAttributes(
			attribute.String("device.id", deviceID),
			attribute.String("device.state", string(desired)),
		))
	defer span.End()

	if err := device.ValidateState(desired); err != nil {
		d.recorder.CommandOutcome(deviceID, OutcomeInvalid)
		return nil, err
	}

	dev, err := d.registry.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			d.recorder.CommandOutcome(deviceID, OutcomeNotFound)
			return nil, err
		}
		return nil, d.fail(span, deviceID, desired, err)
	}

	if dev.OwnerID != requesterID {
		d.recorder.CommandOutcome(deviceID, OutcomeForbidden)
		d.logger.Warn("command rejected: not owner",
			"device_id", deviceID,
			"requester", requesterID,
		)
		return nil, ErrForbidden
	}

	// A concurrent ownership change cannot happen: owners are immutable
	// after registration.
	if err := d.registry.SetState(ctx, deviceID, desired, device.SourceCommand); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			d.recorder.CommandOutcome(deviceID, OutcomeNotFound)
			return nil, err
		}
		return nil, d.fail(span, deviceID, desired, err)
	}

	ack := &Ack{
		DeviceID:     deviceID,
		State:        desired,
		Topic:        d.topics.DeviceCommand(deviceID),
		DispatchedAt: d.now().UTC(),
	}
	ack.Published = d.publish(ack.Topic, deviceID, desired)
	span.SetAttributes(attribute.Bool("command.published", ack.Published))

	d.recorder.CommandOutcome(deviceID, OutcomeDispatched)
	d.logger.Info("command dispatched",
		"device_id", deviceID,
		"state", desired,
		"topic", ack.Topic,
		"published", ack.Published,
	)
	return ack, nil
}

// publish sends the command and reports whether the broker accepted it.
// Failures never propagate: the state is already recorded.
func (d *Dispatcher) publish(topic, deviceID string, state device.State) bool {
	if d.publisher == nil {
		d.logger.Debug("no broker configured, command not published", "device_id", deviceID)
		return false
	}

	if err := d.publisher.Publish(topic, []byte(state), d.qos, false); err != nil {
		d.recorder.PublishFailed(deviceID)
		d.logger.Warn("command publish failed",
			"device_id", deviceID,
			"topic", topic,
			"error", err,
		)
		return false
	}
	return true
}

func (d *Dispatcher) fail(span trace.Span, deviceID string, state device.State, err error) error {
	d.recorder.CommandOutcome(deviceID, OutcomeError)
	span.RecordError(err)
	span.SetStatus(codes.Error, "dispatch failed")
	d.logger.Error("command dispatch failed", "device_id", deviceID, "state", state, "error", err)
	return fmt.Errorf("dispatching to %s: %w", deviceID, err)
}
