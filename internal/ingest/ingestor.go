package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/homelink-core/internal/device"
	"github.com/nerrad567/homelink-core/internal/infrastructure/mqtt"
)

// Report outcomes passed to the Recorder.
const (
	OutcomeApplied       = "applied"
	OutcomeUnknownDevice = "unknown_device"
	OutcomeMalformed     = "malformed"
	OutcomeError         = "error"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second

	// handleTimeout bounds the registry write for one report.
	handleTimeout = 5 * time.Second
)

// Subscriber is the broker surface the Ingestor needs. *mqtt.Client
// satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Recorder receives report outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	StatusReport(deviceID, outcome string)
}

// Logger defines the logging interface used by the Ingestor.
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

func (noopRecorder) StatusReport(string, string) {}

// Ingestor subscribes to device status reports and applies them to the
// registry.
type Ingestor struct {
	registry *device.Registry
	sub      Subscriber
	topics   mqtt.Topics
	qos      byte

	initialBackoff time.Duration
	maxBackoff     time.Duration

	// connected carries at most one pending resubscribe request.
	connected  chan struct{}
	subscribed atomic.Bool

	logger   Logger
	recorder Recorder
	tracer   trace.Tracer
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the ingestor's logger.
func WithLogger(l Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(i *Ingestor) { i.recorder = r }
}

// WithQoS sets the subscription QoS. The default is 1.
func WithQoS(qos byte) Option {
	return func(i *Ingestor) { i.qos = qos }
}

// WithBackoff sets the subscribe retry delays. Each failure doubles the
// delay up to maxDelay.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(i *Ingestor) {
		if initial > 0 {
			i.initialBackoff = initial
		}
		if maxDelay >= i.initialBackoff {
			i.maxBackoff = maxDelay
		}
	}
}

// New creates an Ingestor. Call Run to start it.
func New(registry *device.Registry, sub Subscriber, topics mqtt.Topics, opts ...Option) *Ingestor {
	i := &Ingestor{
		registry:       registry,
		sub:            sub,
		topics:         topics,
		qos:            1,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		connected:      make(chan struct{}, 1),
		logger:         noopLogger{},
		recorder:       noopRecorder{},
		tracer:         otel.Tracer("github.com/nerrad567/homelink-core/internal/ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// NotifyConnected tells Run that a broker session was (re)established and
// the subscription must be renewed. It never blocks; wire it to the MQTT
// client's OnConnect callback.
func (i *Ingestor) NotifyConnected() {
	select {
	case i.connected <- struct{}{}:
	default:
	}
}

// Subscribed reports whether the status subscription is currently held.
func (i *Ingestor) Subscribed() bool {
	return i.subscribed.Load()
}

// Run subscribes to every device's status topic and keeps the subscription
// alive across reconnects until ctx is cancelled. It then unsubscribes
// and returns nil.
func (i *Ingestor) Run(ctx context.Context) error {
	pattern := i.topics.AllDeviceStatus()
	i.logger.Info("status ingestor started", "topic", pattern)

	// Subscribe straight away; the client may already be connected.
	i.NotifyConnected()

	for {
		select {
		case <-ctx.Done():
			i.unsubscribe(pattern)
			return nil
		case <-i.connected:
			if !i.subscribe(ctx, pattern) {
				i.unsubscribe(pattern)
				return nil
			}
		}
	}
}

// subscribe retries until the subscription succeeds. It returns false if
// ctx is cancelled first.
func (i *Ingestor) subscribe(ctx context.Context, pattern string) bool {
	backoff := i.initialBackoff

	for attempt := 1; ; attempt++ {
		err := i.sub.Subscribe(pattern, i.qos, i.HandleMessage)
		if err == nil {
			i.subscribed.Store(true)
			i.logger.Info("subscribed to device status", "topic", pattern, "attempt", attempt)
			return true
		}

		i.subscribed.Store(false)
		i.logger.Warn("status subscribe failed",
			"topic", pattern,
			"attempt", attempt,
			"retry_in", backoff.String(),
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-i.connected:
			// A fresh session is the best moment to retry.
			timer.Stop()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > i.maxBackoff {
			backoff = i.maxBackoff
		}
	}
}

func (i *Ingestor) unsubscribe(pattern string) {
	i.subscribed.Store(false)
	if err := i.sub.Unsubscribe(pattern); err != nil {
		i.logger.Debug("status unsubscribe failed", "topic", pattern, "error", err)
	}
	i.logger.Info("status ingestor stopped")
}

// HandleMessage applies one status report. It always returns nil.
func (i *Ingestor) HandleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	ctx, span := i.tracer.Start(ctx, "ingest.HandleMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination", topic)))
	defer span.End()

	id, ok := i.topics.DeviceIDFromStatus(topic)
	if !ok {
		i.recorder.StatusReport("", OutcomeMalformed)
		i.logger.Warn("status report discarded",
			"topic", topic,
			"error", fmt.Errorf("%w: unexpected topic", ErrDecode),
		)
		return nil
	}
	span.SetAttributes(attribute.String("device.id", id))

	state, err := DecodeState(payload)
	if err != nil {
		i.recorder.StatusReport(id, OutcomeMalformed)
		i.logger.Warn("status report discarded", "device_id", id, "error", err)
		return nil
	}

	err = i.registry.SetState(ctx, id, state, device.SourceReport)
	switch {
	case err == nil:
		i.recorder.StatusReport(id, OutcomeApplied)
		i.logger.Debug("status report applied", "device_id", id, "state", state)
	case errors.Is(err, device.ErrDeviceNotFound):
		i.recorder.StatusReport(id, OutcomeUnknownDevice)
		i.logger.Debug("status report for unknown device", "device_id", id)
	default:
		span.RecordError(err)
		i.recorder.StatusReport(id, OutcomeError)
		i.logger.Error("applying status report", "device_id", id, "error", err)
	}
	return nil
}
